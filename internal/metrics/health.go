package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// InstrumentHealth is the last known outcome of one instrument's loop.
type InstrumentHealth struct {
	Interval    string    `json:"interval"`
	Phase       string    `json:"phase"`
	Bars        int       `json:"bars"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
	MarketOpen  bool      `json:"market_open"`
}

// HealthStatus aggregates loop outcomes and dependency probes.
type HealthStatus struct {
	mu sync.RWMutex

	instruments map[string]*InstrumentHealth

	RedisEnabled    bool
	RedisConnected  bool
	RedisLatencyMs  float64
	SQLiteOK        bool
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time

	// StaleAfter marks an instrument degraded when its last success is
	// older than this multiple of its interval.
	StaleAfter time.Duration
}

// NewHealthStatus returns an empty health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		instruments: make(map[string]*InstrumentHealth),
		StartedAt:   time.Now(),
		SQLiteOK:    true,
	}
}

func (h *HealthStatus) entry(instrument string) *InstrumentHealth {
	e, ok := h.instruments[instrument]
	if !ok {
		e = &InstrumentHealth{}
		h.instruments[instrument] = e
	}
	return e
}

// RecordSuccess notes a cycle that fetched, merged and persisted.
func (h *HealthStatus) RecordSuccess(instrument, interval, phase string, bars int, at time.Time) {
	h.mu.Lock()
	e := h.entry(instrument)
	e.Interval, e.Phase, e.Bars, e.LastSuccess = interval, phase, bars, at
	h.mu.Unlock()
}

// RecordError notes a failed step of a cycle.
func (h *HealthStatus) RecordError(instrument string, err error, at time.Time) {
	h.mu.Lock()
	e := h.entry(instrument)
	e.LastError, e.LastErrorAt = err.Error(), at
	h.mu.Unlock()
}

// SetMarketOpen records the venue session state of an instrument.
func (h *HealthStatus) SetMarketOpen(instrument string, open bool) {
	h.mu.Lock()
	h.entry(instrument).MarketOpen = open
	h.mu.Unlock()
}

// Instrument returns a copy of one instrument's health.
func (h *HealthStatus) Instrument(instrument string) (InstrumentHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.instruments[instrument]
	if !ok {
		return InstrumentHealth{}, false
	}
	return *e, true
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the bar store and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx ends.
// rdb may be nil when Redis is disabled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

type instrumentReport struct {
	Instrument string `json:"instrument"`
	InstrumentHealth
	Stale bool `json:"stale"`
}

// Report is the /healthz body.
type Report struct {
	Status          string             `json:"status"`
	Uptime          string             `json:"uptime"`
	RedisConnected  bool               `json:"redis_connected"`
	RedisLatencyMs  float64            `json:"redis_latency_ms"`
	SQLiteOK        bool               `json:"sqlite_ok"`
	SQLiteLatencyMs float64            `json:"sqlite_latency_ms"`
	LastCheckAt     string             `json:"last_check_at"`
	Instruments     []instrumentReport `json:"instruments"`
}

// Report evaluates the overall status at now. Status is "healthy",
// "degraded" (an instrument is stale or Redis is down) or "unhealthy"
// (the bar store is unreachable).
func (h *HealthStatus) Report(now time.Time) Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := Report{
		Status:          "healthy",
		Uptime:          now.Sub(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}
	if h.RedisEnabled && !h.RedisConnected {
		r.Status = "degraded"
	}

	names := make([]string, 0, len(h.instruments))
	for n := range h.instruments {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		e := h.instruments[n]
		ir := instrumentReport{Instrument: n, InstrumentHealth: *e}
		// a closed market is not a stale loop
		if h.StaleAfter > 0 && e.MarketOpen && now.Sub(e.LastSuccess) > h.StaleAfter {
			ir.Stale = true
			r.Status = "degraded"
		}
		r.Instruments = append(r.Instruments, ir)
	}
	if !h.SQLiteOK {
		r.Status = "unhealthy"
	}
	return r
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.Report(time.Now())
	w.Header().Set("Content-Type", "application/json")
	if rep.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(rep)
}

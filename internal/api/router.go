// Package api is the HTTP control surface: health, metrics, the live
// WebSocket feed and the operator endpoints that read and edit the
// strategy configuration.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"trading-signalsync/internal/gateway"
	"trading-signalsync/internal/metrics"
	"trading-signalsync/internal/model"
	"trading-signalsync/internal/settings"
	"trading-signalsync/internal/strategy"
)

// SignalLister reads the signal log.
type SignalLister interface {
	List(ctx context.Context, instrument string, limit int) ([]model.SignalEvent, error)
}

// Deps wires the router. Redis and Signals may be nil.
type Deps struct {
	Settings   *settings.Store
	Targets    []model.Instrument
	FlagDir    string
	Redis      goredis.Cmdable
	VersionKey string
	Signals    SignalLister
	Health     *metrics.HealthStatus
	Gatherer   prometheus.Gatherer
	Hub        *gateway.Hub
	JWTSecret  string
}

type handler struct{ d Deps }

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if d.Health == nil {
		d.Health = metrics.NewHealthStatus()
	}
	h := &handler{d: d}

	r.GET("/healthz", gin.WrapH(d.Health))
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	if d.Hub != nil {
		r.GET("/ws", gin.WrapH(d.Hub))
	}

	api := r.Group("/api", AuthRequired(d.JWTSecret))
	api.GET("/config", h.getConfig)
	api.PUT("/config", h.putConfig)
	api.GET("/signals", h.listSignals)
	api.GET("/instruments", h.listInstruments)
	api.GET("/latest", h.latest)
	api.GET("/missed", h.missed)

	return r
}

func (h *handler) getConfig(c *gin.Context) {
	doc, err := h.d.Settings.LoadDocument()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// putConfig validates and atomically replaces the strategy file, then
// signals every loop through the flag files and the Redis version key.
func (h *handler) putConfig(c *gin.Context) {
	doc, err := h.d.Settings.LoadDocument()
	if err != nil {
		doc = settings.Document{Config: strategy.DefaultConfig()}
	}
	// absent keys keep their current values
	prev := doc.Interval
	doc.Interval, doc.TimeInterval = "", ""
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc.Config.FoldIntervalAlias(prev)
	if err := h.d.Settings.Save(doc); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, settings.ErrConfigParse) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	symbols := make([]string, len(h.d.Targets))
	for i, t := range h.d.Targets {
		symbols[i] = t.Key()
	}
	if err := settings.TouchFlags(h.d.FlagDir, symbols); err != nil {
		log.Printf("[api] touch flags: %v", err)
	}

	resp := gin.H{"status": "saved", "instruments": len(symbols)}
	if h.d.Redis != nil {
		v, err := settings.BumpVersion(c.Request.Context(), h.d.Redis, h.d.VersionKey)
		if err != nil {
			log.Printf("[api] bump config version: %v", err)
		} else {
			resp["version"] = v
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) listSignals(c *gin.Context) {
	if h.d.Signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal log unavailable"})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be in 1..1000"})
			return
		}
		limit = n
	}
	events, err := h.d.Signals.List(c.Request.Context(), c.Query("instrument"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []model.SignalEvent{}
	}
	c.JSON(http.StatusOK, events)
}

type instrumentView struct {
	model.Instrument
	Key    string                    `json:"key"`
	Health *metrics.InstrumentHealth `json:"health,omitempty"`
}

func (h *handler) listInstruments(c *gin.Context) {
	out := make([]instrumentView, 0, len(h.d.Targets))
	for _, t := range h.d.Targets {
		v := instrumentView{Instrument: t, Key: t.Key()}
		if h.d.Health != nil {
			if ih, ok := h.d.Health.Instrument(t.Key()); ok {
				v.Health = &ih
			}
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) latest(c *gin.Context) {
	if h.d.Hub == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, h.d.Hub.Latest())
}

// missed serves hub envelopes for gap backfill: ?channel=&from=&to=.
func (h *handler) missed(c *gin.Context) {
	channel := c.Query("channel")
	from, err1 := strconv.ParseInt(c.Query("from"), 10, 64)
	to, err2 := strconv.ParseInt(c.DefaultQuery("to", "0"), 10, 64)
	if channel == "" || err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel and numeric from are required"})
		return
	}
	if h.d.Hub == nil {
		c.Data(http.StatusOK, "application/json", []byte("[]"))
		return
	}

	envs := h.d.Hub.Replay(channel, from, to)
	buf := []byte{'['}
	for i, e := range envs {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, e...)
	}
	buf = append(buf, ']')
	c.Data(http.StatusOK, "application/json", buf)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of the sync loops. Every vector is
// labelled by instrument.
type Metrics struct {
	Cycles             *prometheus.CounterVec
	FetchFailures      *prometheus.CounterVec
	ClientReconnects   *prometheus.CounterVec
	ConfigReloads      *prometheus.CounterVec
	ConfigParseErrors  *prometheus.CounterVec
	IntervalSwitches   *prometheus.CounterVec
	AbandonedPositions *prometheus.CounterVec
	Signals            *prometheus.CounterVec // labels: instrument, kind=opened|closed
	PersistenceErrors  *prometheus.CounterVec // labels: instrument, stage
	PublishErrors      *prometheus.CounterVec // labels: instrument, sink
	LoopRestarts       *prometheus.CounterVec

	CycleDuration *prometheus.HistogramVec
	StoredBars    *prometheus.GaugeVec
	InPosition    *prometheus.GaugeVec // 0=flat, 1=in position
	MarketState   *prometheus.GaugeVec // 0=closed, 1=open

	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
}

// New creates the metrics and registers them on reg. A nil reg registers
// nothing, which suits tests.
func New(reg prometheus.Registerer) *Metrics {
	inst := []string{"instrument"}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalsync",
			Name:      name,
			Help:      help,
		}, append(inst, labels...))
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "signalsync",
			Name:      name,
			Help:      help,
		}, inst)
	}

	m := &Metrics{
		Cycles:             counter("cycles_total", "Sync loop iterations"),
		FetchFailures:      counter("fetch_failures_total", "Failed or empty market data fetches"),
		ClientReconnects:   counter("client_reconnects_total", "Market data client constructions"),
		ConfigReloads:      counter("config_reloads_total", "Successful strategy config reloads"),
		ConfigParseErrors:  counter("config_parse_errors_total", "Strategy config reads that failed to parse or validate"),
		IntervalSwitches:   counter("interval_switches_total", "Reloads that changed the bar interval"),
		AbandonedPositions: counter("abandoned_positions_total", "Open positions dropped by an interval switch"),
		Signals:            counter("signals_total", "Signal transitions", "kind"),
		PersistenceErrors:  counter("persistence_errors_total", "Bar store, state or signal log failures", "stage"),
		PublishErrors:      counter("publish_errors_total", "Redis or hub publish failures", "sink"),
		LoopRestarts:       counter("loop_restarts_total", "Loops restarted after a panic"),

		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "signalsync",
			Name:      "cycle_duration_seconds",
			Help:      "Sync cycle latency excluding the sleep",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, inst),
		StoredBars:  gauge("stored_bars", "Bars held in the bar store"),
		InPosition:  gauge("in_position", "Signal machine phase (0=flat, 1=in position)"),
		MarketState: gauge("market_state", "Venue session state (0=closed, 1=open)"),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalsync",
			Name:      "redis_circuit_breaker_state",
			Help:      "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Cycles,
			m.FetchFailures,
			m.ClientReconnects,
			m.ConfigReloads,
			m.ConfigParseErrors,
			m.IntervalSwitches,
			m.AbandonedPositions,
			m.Signals,
			m.PersistenceErrors,
			m.PublishErrors,
			m.LoopRestarts,
			m.CycleDuration,
			m.StoredBars,
			m.InPosition,
			m.MarketState,
			m.RedisCircuitBreakerState,
		)
	}
	return m
}

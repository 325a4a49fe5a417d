// Package syncloop runs the per-instrument synchronization cycle: detect a
// configuration change, fetch recent bars, merge them into the stored
// series, recompute indicators and advance the signal machine over every
// newly closed bar.
package syncloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trading-signalsync/internal/indicator"
	"trading-signalsync/internal/logger"
	"trading-signalsync/internal/marketdata"
	"trading-signalsync/internal/markethours"
	"trading-signalsync/internal/metrics"
	"trading-signalsync/internal/model"
	"trading-signalsync/internal/notification"
	"trading-signalsync/internal/series"
	"trading-signalsync/internal/settings"
	"trading-signalsync/internal/strategy"
)

// DefaultFetchFloor is the minimum number of bars requested per fetch.
const DefaultFetchFloor = 240

// bootstrapRetry is the sleep after a failed bootstrap.
const bootstrapRetry = 30 * time.Second

// ConfigSource resolves the strategy config of one instrument.
type ConfigSource interface {
	Load(symbol string) (strategy.Config, error)
}

// BarStore persists the merged series and the machine state.
type BarStore interface {
	Load(ctx context.Context, instrument string) (series.Series, error)
	Save(ctx context.Context, instrument string, iv model.Interval, rows []model.IndicatorRow) error
	Reset(ctx context.Context, instrument string) error
	LoadState(ctx context.Context, instrument string) (strategy.State, model.Interval, bool, error)
	SaveState(ctx context.Context, instrument string, iv model.Interval, st strategy.State) error
	ClearState(ctx context.Context, instrument string) error
}

// SignalLog is the append-only record of closed round trips.
type SignalLog interface {
	Append(ctx context.Context, ev model.SignalEvent) error
	LastCloseTime(ctx context.Context, instrument string) (time.Time, error)
}

// Publisher mirrors rows and transitions to an external bus.
type Publisher interface {
	PublishRow(ctx context.Context, instrument string, row model.IndicatorRow) error
	PublishSignal(ctx context.Context, instrument string, tr strategy.Transition) error
}

// Broadcaster fans values out to live clients.
type Broadcaster interface {
	Publish(channel string, v any)
}

// Hub channel names.
func BarsChannel(instrument string) string    { return "bars:" + instrument }
func SignalsChannel(instrument string) string { return "signals:" + instrument }

// Deps wires a Loop. Instrument, Configs, Clients and Bars are required;
// everything else is optional.
type Deps struct {
	Instrument model.Instrument
	Configs    ConfigSource
	Detector   settings.Detector
	Clients    marketdata.Factory
	Bars       BarStore

	Signals   SignalLog
	Publisher Publisher
	Hub       Broadcaster
	Notifier  notification.Notifier
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Calendar  *markethours.Calendar // nil: always open
	Logger    *slog.Logger

	FetchFloor int
	Now        func() time.Time
}

// Loop is the sync loop of one instrument. It owns its market data client,
// its signal machine and its configuration; nothing is shared with other
// loops except the injected stores.
type Loop struct {
	inst       model.Instrument
	key        string
	configs    ConfigSource
	detector   settings.Detector
	clients    marketdata.Factory
	bars       BarStore
	signals    SignalLog
	publisher  Publisher
	hub        Broadcaster
	notifier   notification.Notifier
	m          *metrics.Metrics
	health     *metrics.HealthStatus
	cal        *markethours.Calendar
	log        *slog.Logger
	fetchFloor int
	now        func() time.Time

	started bool
	cfg     strategy.Config
	pending bool // a reload was signalled but has not loaded yet
	machine *strategy.Machine
	client  marketdata.Client
	backlog []model.SignalEvent // closed events the signal log refused
}

// New builds a Loop. No I/O happens until the first Cycle.
func New(d Deps) *Loop {
	l := &Loop{
		inst:       d.Instrument,
		key:        d.Instrument.Key(),
		configs:    d.Configs,
		detector:   d.Detector,
		clients:    d.Clients,
		bars:       d.Bars,
		signals:    d.Signals,
		publisher:  d.Publisher,
		hub:        d.Hub,
		notifier:   d.Notifier,
		m:          d.Metrics,
		health:     d.Health,
		cal:        d.Calendar,
		log:        d.Logger,
		fetchFloor: d.FetchFloor,
		now:        d.Now,
	}
	if l.m == nil {
		l.m = metrics.New(nil)
	}
	if l.health == nil {
		l.health = metrics.NewHealthStatus()
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	l.log = l.log.With(slog.String("component", "syncloop"), slog.String("instrument", l.key))
	if l.fetchFloor <= 0 {
		l.fetchFloor = DefaultFetchFloor
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Config returns the configuration currently in effect.
func (l *Loop) Config() strategy.Config { return l.cfg }

// State returns the signal machine's durable state.
func (l *Loop) State() strategy.State {
	if l.machine == nil {
		return strategy.State{}
	}
	return l.machine.Snapshot()
}

// Run cycles until ctx is cancelled, sleeping the interval's poll period
// between cycles. The market data client is closed on return.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info("sync loop started", slog.String("symbol", l.inst.Symbol), slog.String("venue", l.inst.Exchange))
	defer l.dropClient()

	for {
		sleep := l.Cycle(ctx)
		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			l.log.Info("sync loop stopped")
			return
		case <-t.C:
		}
	}
}

// Cycle runs one iteration and returns how long to sleep before the next.
func (l *Loop) Cycle(ctx context.Context) time.Duration {
	start := l.now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(l.key, start))
	if !l.started {
		if !l.bootstrap(ctx) {
			return bootstrapRetry
		}
	}
	l.m.Cycles.WithLabelValues(l.key).Inc()
	defer func() {
		l.m.CycleDuration.WithLabelValues(l.key).Observe(l.now().Sub(start).Seconds())
	}()

	l.checkReload(ctx)
	sleep := l.cfg.Interval.PollEvery()

	if ctx.Err() != nil {
		return sleep
	}
	if !l.marketOpen(start) {
		l.log.Debug("venue closed, skipping fetch", slog.String("status", l.cal.Status(start)))
		return sleep
	}

	l.flushBacklog(ctx)

	bars, err := l.fetch(ctx)
	if err != nil {
		l.m.FetchFailures.WithLabelValues(l.key).Inc()
		l.health.RecordError(l.key, err, start)
		l.log.Warn("fetch failed, client will be rebuilt", append(logger.LogWithTrace(ctx), slog.Any("error", err))...)
		l.dropClient()
		return sleep
	}

	l.process(ctx, bars, start)
	return sleep
}

// bootstrap loads the initial config and restores the machine from the
// bar store, or from the signal log when no state was persisted. It
// reports false, leaving the loop unstarted, when the stored state could
// not be read.
func (l *Loop) bootstrap(ctx context.Context) bool {
	st, iv, ok, err := l.bars.LoadState(ctx, l.key)
	if err != nil {
		l.persistenceError(ctx, "load_state", err)
		return false
	}
	l.started = true
	l.backlog = st.Pending

	cfg, err := l.configs.Load(l.key)
	if err != nil {
		l.m.ConfigParseErrors.WithLabelValues(l.key).Inc()
		l.log.Warn("initial config unreadable, using defaults", slog.Any("error", err))
		cfg = strategy.DefaultConfig()
		if ok && iv.Valid() {
			// keep the history until a readable config says otherwise
			cfg.Interval = iv
		}
		l.pending = true
	}
	l.cfg = cfg
	l.machine = strategy.NewMachine(l.key, l.inst.Label(), cfg)

	switch {
	case ok && iv == cfg.Interval:
		l.machine.Restore(st)
		l.log.Info("restored sync state",
			slog.Time("cursor", st.Cursor), slog.Bool("in_position", st.Open != nil))
	case ok:
		// the interval changed while the process was down
		l.switchInterval(ctx, strategy.State{Open: st.Open}, iv)
	default:
		l.restoreFromLog(ctx)
	}
	l.m.InPosition.WithLabelValues(l.key).Set(l.inPosition())
	return true
}

func (l *Loop) restoreFromLog(ctx context.Context) {
	if l.signals == nil {
		return
	}
	last, err := l.signals.LastCloseTime(ctx, l.key)
	if err != nil {
		l.persistenceError(ctx, "signal_log", err)
		return
	}
	if last.IsZero() {
		return
	}
	l.machine.Restore(strategy.State{Cursor: last})
	l.log.Info("rebuilt cursor from signal log", slog.Time("cursor", last))
}

// checkReload consults the detector and, when a reload is pending, loads
// the config. A failed load keeps the previous config and the reload
// pending for the next cycle.
func (l *Loop) checkReload(ctx context.Context) {
	if l.detector != nil {
		changed, err := l.detector.Changed(ctx)
		if err != nil {
			l.log.Warn("change detection failed", slog.Any("error", err))
		}
		if changed {
			l.pending = true
		}
	}
	if !l.pending {
		return
	}

	cfg, err := l.configs.Load(l.key)
	if err != nil {
		l.m.ConfigParseErrors.WithLabelValues(l.key).Inc()
		l.health.RecordError(l.key, err, l.now())
		l.log.Warn("config reload failed, keeping previous config", slog.Any("error", err))
		return
	}
	l.pending = false
	l.m.ConfigReloads.WithLabelValues(l.key).Inc()

	if cfg.Interval != l.cfg.Interval {
		prev := l.cfg.Interval
		l.cfg = cfg
		l.switchInterval(ctx, l.machine.Snapshot(), prev)
		return
	}
	l.cfg = cfg
	l.machine.Reconfigure(cfg)
	l.log.Info("config reloaded",
		slog.Float64("take_profit", cfg.TakeProfit), slog.Float64("stop_loss", cfg.StopLoss))
}

// switchInterval discards everything tied to the previous interval: the
// stored bars, the cursor, the persisted state and any open position.
func (l *Loop) switchInterval(ctx context.Context, prev strategy.State, from model.Interval) {
	l.m.IntervalSwitches.WithLabelValues(l.key).Inc()
	l.log.Info("interval switched, discarding history",
		slog.String("from", from.String()), slog.String("to", l.cfg.Interval.String()))

	if err := l.bars.Reset(ctx, l.key); err != nil {
		l.persistenceError(ctx, "reset", err)
	}
	l.machine.Reset(l.cfg)
	if len(l.backlog) > 0 {
		// queued events outlive the discarded cursor
		l.saveState(ctx)
	} else if err := l.bars.ClearState(ctx, l.key); err != nil {
		l.persistenceError(ctx, "clear_state", err)
	}

	if ab := prev.Open; ab != nil && !ab.Closed() {
		l.m.AbandonedPositions.WithLabelValues(l.key).Inc()
		l.log.Warn("open position abandoned by interval switch",
			slog.Time("buy_time", ab.BuyTime), slog.String("buy_price", ab.BuyPrice.String()))
		l.notify(ctx, notification.AbandonedAlert(*ab))
	}
	l.m.InPosition.WithLabelValues(l.key).Set(0)
}

// marketOpen gates fetching on the venue calendar. The bar that closes
// exactly at the session end is still collected.
func (l *Loop) marketOpen(now time.Time) bool {
	if l.cal == nil {
		return true
	}
	open := l.cal.IsOpen(now) || l.cal.IsOpen(now.Add(-l.cfg.Interval.Duration()))
	l.health.SetMarketOpen(l.key, open)
	if open {
		l.m.MarketState.WithLabelValues(l.key).Set(1)
	} else {
		l.m.MarketState.WithLabelValues(l.key).Set(0)
	}
	return open
}

// fetch asks the owned client for the lookback window, building the client
// first if needed. Panics inside a provider are turned into errors.
func (l *Loop) fetch(ctx context.Context) (bars []model.Bar, err error) {
	defer func() {
		if r := recover(); r != nil {
			bars, err = nil, fmt.Errorf("%w: panic: %v", ErrTransientFetch, r)
		}
	}()

	if l.client == nil {
		c, err := l.clients(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: connect: %w", ErrTransientFetch, err)
		}
		l.client = c
		l.m.ClientReconnects.WithLabelValues(l.key).Inc()
	}

	bars, err = l.client.Fetch(ctx, l.inst.Symbol, l.inst.Exchange, l.cfg.Interval, l.cfg.Lookback(l.fetchFloor))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransientFetch, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrTransientFetch, marketdata.ErrNoData)
	}
	return bars, nil
}

func (l *Loop) dropClient() {
	if l.client == nil {
		return
	}
	if err := l.client.Close(); err != nil {
		l.log.Debug("close market data client", slog.Any("error", err))
	}
	l.client = nil
}

// process merges a fetched batch, recomputes indicators, advances the
// machine and persists and publishes the outcome.
func (l *Loop) process(ctx context.Context, batch []model.Bar, now time.Time) {
	stored, err := l.bars.Load(ctx, l.key)
	if err != nil {
		l.persistenceError(ctx, "load_bars", err)
		stored = series.Series{}
	}
	merged := series.Merge(stored, batch, l.cfg.Interval)

	rows := indicator.Compute(merged.Bars, l.cfg.Params())
	for i := range rows {
		rows[i].Forming = rows[i].Bar.Forming(now)
	}

	transitions := l.machine.Advance(rows)
	// closed events reach the log, or the persisted queue, before the
	// cursor that passed them is saved
	for _, tr := range transitions {
		if tr.Kind == strategy.Closed {
			l.record(ctx, tr.Event)
		}
	}

	if err := l.bars.Save(ctx, l.key, l.cfg.Interval, rows); err != nil {
		l.persistenceError(ctx, "save_bars", err)
	}
	l.saveState(ctx)

	for _, tr := range transitions {
		l.emit(ctx, tr)
	}

	if n := len(rows); n > 0 {
		l.publishRow(ctx, rows[n-1])
	}

	l.m.StoredBars.WithLabelValues(l.key).Set(float64(len(rows)))
	l.m.InPosition.WithLabelValues(l.key).Set(l.inPosition())
	l.health.RecordSuccess(l.key, l.cfg.Interval.String(), string(l.machine.Phase()), len(rows), now)
	l.log.Debug("cycle complete", append(logger.LogWithTrace(ctx),
		slog.Int("fetched", len(batch)), slog.Int("bars", len(rows)), slog.Int("transitions", len(transitions)))...)
}

func (l *Loop) emit(ctx context.Context, tr strategy.Transition) {
	ev := tr.Event
	l.m.Signals.WithLabelValues(l.key, string(tr.Kind)).Inc()

	switch tr.Kind {
	case strategy.Opened:
		l.log.Info("position opened", append(logger.LogWithTrace(ctx),
			slog.Time("buy_time", ev.BuyTime), slog.String("buy_price", ev.BuyPrice.String()),
			slog.String("take_profit", ev.TakeProfit.String()), slog.String("stop_loss", ev.StopLoss.String()))...)
	case strategy.Closed:
		l.log.Info("position closed", append(logger.LogWithTrace(ctx),
			slog.Time("buy_time", ev.BuyTime), slog.String("close_price", ev.ClosePrice.String()),
			slog.String("exit_reason", string(ev.ExitReason)), slog.String("pct", ev.Pct.String()))...)
	}

	if l.publisher != nil {
		if err := l.publisher.PublishSignal(ctx, l.key, tr); err != nil {
			l.m.PublishErrors.WithLabelValues(l.key, "redis").Inc()
			l.log.Debug("publish signal", slog.Any("error", err))
		}
	}
	if l.hub != nil {
		l.hub.Publish(SignalsChannel(l.key), tr)
	}

	if tr.Kind == strategy.Opened {
		l.notify(ctx, notification.OpenedAlert(ev))
	} else {
		l.notify(ctx, notification.ClosedAlert(ev))
	}
}

// record appends a closed event to the signal log, queueing it for the
// next cycle when the log is unavailable.
func (l *Loop) record(ctx context.Context, ev model.SignalEvent) {
	if l.signals == nil {
		return
	}
	if err := l.signals.Append(ctx, ev); err != nil {
		l.backlog = append(l.backlog, ev)
		l.persistenceError(ctx, "signal_log", err)
	}
}

// saveState persists the machine snapshot together with the queued events.
func (l *Loop) saveState(ctx context.Context) {
	st := l.machine.Snapshot()
	st.Pending = l.backlog
	if err := l.bars.SaveState(ctx, l.key, l.cfg.Interval, st); err != nil {
		l.persistenceError(ctx, "save_state", err)
	}
}

func (l *Loop) flushBacklog(ctx context.Context) {
	if len(l.backlog) == 0 || l.signals == nil {
		return
	}
	queued := l.backlog
	l.backlog = nil
	for i, ev := range queued {
		if err := l.signals.Append(ctx, ev); err != nil {
			l.backlog = append(l.backlog, queued[i:]...)
			l.persistenceError(ctx, "signal_log", err)
			return
		}
	}
	l.log.Info("flushed queued signal events", slog.Int("count", len(queued)))
}

func (l *Loop) publishRow(ctx context.Context, row model.IndicatorRow) {
	if l.publisher != nil {
		if err := l.publisher.PublishRow(ctx, l.key, row); err != nil {
			l.m.PublishErrors.WithLabelValues(l.key, "redis").Inc()
			l.log.Debug("publish row", slog.Any("error", err))
		}
	}
	if l.hub != nil {
		l.hub.Publish(BarsChannel(l.key), row)
	}
}

func (l *Loop) notify(ctx context.Context, a notification.Alert) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Send(ctx, a); err != nil {
		l.m.PublishErrors.WithLabelValues(l.key, "notify").Inc()
		l.log.Warn("notification failed", slog.String("title", a.Title), slog.Any("error", err))
	}
}

func (l *Loop) persistenceError(ctx context.Context, stage string, err error) {
	err = fmt.Errorf("%w: %s: %w", ErrTransientPersistence, stage, err)
	l.m.PersistenceErrors.WithLabelValues(l.key, stage).Inc()
	l.health.RecordError(l.key, err, l.now())
	l.log.Warn("persistence failed", append(logger.LogWithTrace(ctx), slog.Any("error", err))...)
}

func (l *Loop) inPosition() float64 {
	if l.machine != nil && l.machine.Phase() == strategy.InPosition {
		return 1
	}
	return 0
}

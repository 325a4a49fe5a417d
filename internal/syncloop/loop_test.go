package syncloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-signalsync/internal/marketdata"
	"trading-signalsync/internal/markethours"
	"trading-signalsync/internal/metrics"
	"trading-signalsync/internal/model"
	"trading-signalsync/internal/notification"
	"trading-signalsync/internal/series"
	"trading-signalsync/internal/settings"
	"trading-signalsync/internal/strategy"
)

// ────────────────────────────────────────────────────────────
// Fakes
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2024, 5, 6, 9, 15, 0, 0, time.UTC)

func bars(iv model.Interval, from int, closes ...float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = model.Bar{
			TS:   t0.Add(time.Duration(from+i) * iv.Duration()),
			Open: c, High: c, Low: c, Close: c,
			Interval: iv,
		}
	}
	return out
}

type memStore struct {
	mu       sync.Mutex
	iv       model.Interval
	rows     []model.IndicatorRow
	state    *strategy.State
	stIv     model.Interval
	resets   int
	fail     error
	loadFail error // LoadState only
}

func (s *memStore) Load(_ context.Context, _ string) (series.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return series.Series{}, s.fail
	}
	out := series.Series{Interval: s.iv}
	for _, r := range s.rows {
		out.Bars = append(out.Bars, r.Bar)
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, _ string, iv model.Interval, rows []model.IndicatorRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.iv, s.rows = iv, append([]model.IndicatorRow(nil), rows...)
	return nil
}

func (s *memStore) Reset(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.iv, s.rows = "", nil
	return nil
}

func (s *memStore) LoadState(context.Context, string) (strategy.State, model.Interval, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadFail != nil {
		return strategy.State{}, "", false, s.loadFail
	}
	if s.state == nil {
		return strategy.State{}, "", false, nil
	}
	return *s.state, s.stIv, true, nil
}

func (s *memStore) SaveState(_ context.Context, _ string, iv model.Interval, st strategy.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, s.stIv = &st, iv
	return nil
}

func (s *memStore) ClearState(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, s.stIv = nil, ""
	return nil
}

type memLog struct {
	events    []model.SignalEvent
	failNext  int
	lastClose time.Time
}

func (j *memLog) Append(_ context.Context, ev model.SignalEvent) error {
	if j.failNext > 0 {
		j.failNext--
		return errors.New("database is locked")
	}
	j.events = append(j.events, ev)
	return nil
}

func (j *memLog) LastCloseTime(context.Context, string) (time.Time, error) {
	return j.lastClose, nil
}

type configs struct {
	cfg strategy.Config
	err error
}

func (c *configs) Load(string) (strategy.Config, error) { return c.cfg, c.err }

// feed serves scripted fetch results, one per call.
type feed struct {
	batches [][]model.Bar
	errs    []error
	panics  bool
	calls   int
	built   int
	closed  int
}

func (f *feed) factory(context.Context) (marketdata.Client, error) {
	f.built++
	return &feedClient{f: f}, nil
}

type feedClient struct{ f *feed }

func (c *feedClient) Fetch(_ context.Context, _, _ string, _ model.Interval, _ int) ([]model.Bar, error) {
	f := c.f
	i := f.calls
	f.calls++
	if f.panics {
		panic("provider exploded")
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	return f.batches[len(f.batches)-1], nil
}

func (c *feedClient) Close() error {
	c.f.closed++
	return nil
}

type recHub struct{ msgs map[string][]any }

func (h *recHub) Publish(channel string, v any) {
	if h.msgs == nil {
		h.msgs = make(map[string][]any)
	}
	h.msgs[channel] = append(h.msgs[channel], v)
}

type recPub struct {
	rows        int
	transitions []strategy.Transition
}

func (p *recPub) PublishRow(context.Context, string, model.IndicatorRow) error {
	p.rows++
	return nil
}

func (p *recPub) PublishSignal(_ context.Context, _ string, tr strategy.Transition) error {
	p.transitions = append(p.transitions, tr)
	return nil
}

type recNotifier struct{ alerts []notification.Alert }

func (n *recNotifier) Send(_ context.Context, a notification.Alert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

// clock is advanced by tests between cycles.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type harness struct {
	loop     *Loop
	store    *memStore
	log      *memLog
	cfgs     *configs
	feed     *feed
	hub      *recHub
	pub      *recPub
	notes    *recNotifier
	detector *settings.ManualDetector
	clock    *clock
	m        *metrics.Metrics
}

func rsiConfig() strategy.Config {
	cfg := strategy.DefaultConfig()
	cfg.RSIPeriod = 1
	cfg.TakeProfit = 0.5
	cfg.StopLoss = 0.5
	cfg.Entry = strategy.RuleSet{Logic: strategy.LogicAll, Rules: []string{strategy.RuleRSIOversold}}
	cfg.Exit = strategy.RuleSet{Logic: strategy.LogicAny, Rules: []string{strategy.RuleRSIOverbought}}
	return cfg
}

func newHarness(t *testing.T, f *feed) *harness {
	t.Helper()
	h := &harness{
		store:    &memStore{},
		log:      &memLog{},
		cfgs:     &configs{cfg: rsiConfig()},
		feed:     f,
		hub:      &recHub{},
		pub:      &recPub{},
		notes:    &recNotifier{},
		detector: &settings.ManualDetector{},
		clock:    &clock{t: t0.Add(time.Hour)},
		m:        metrics.New(prometheus.NewRegistry()),
	}
	h.loop = h.build(nil)
	return h
}

// build makes a fresh loop over the same stores, as a restart would.
func (h *harness) build(cal *markethours.Calendar) *Loop {
	return New(Deps{
		Instrument: model.Instrument{Symbol: "BTCUSDT", Exchange: "BINANCE", Title: "Bitcoin"},
		Configs:    h.cfgs,
		Detector:   h.detector,
		Clients:    h.feed.factory,
		Bars:       h.store,
		Signals:    h.log,
		Publisher:  h.pub,
		Hub:        h.hub,
		Notifier:   h.notes,
		Metrics:    h.m,
		Calendar:   cal,
		Now:        h.clock.now,
	})
}

func (h *harness) cycle(t *testing.T) time.Duration {
	t.Helper()
	return h.loop.Cycle(context.Background())
}

// ────────────────────────────────────────────────────────────
// Signal flow
// ────────────────────────────────────────────────────────────

func TestCycle_EndToEnd_ThreeBars(t *testing.T) {
	h := newHarness(t, &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95, 110)}})

	sleep := h.cycle(t)

	assert.Equal(t, time.Minute, sleep)
	require.Len(t, h.log.events, 1)
	ev := h.log.events[0]
	assert.Equal(t, "BTCUSDT", ev.Instrument)
	assert.Equal(t, "Bitcoin", ev.Label)
	assert.True(t, ev.BuyPrice.Equal(decimal.NewFromInt(95)))
	assert.True(t, ev.ClosePrice.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, model.ExitSignal, ev.ExitReason)
	assert.Equal(t, "15.79", ev.Pct.StringFixed(2))

	require.Len(t, h.pub.transitions, 2)
	assert.Equal(t, strategy.Opened, h.pub.transitions[0].Kind)
	assert.Equal(t, strategy.Closed, h.pub.transitions[1].Kind)
	assert.Len(t, h.hub.msgs[SignalsChannel("BTCUSDT")], 2)
	assert.Len(t, h.hub.msgs[BarsChannel("BTCUSDT")], 1)
	assert.Equal(t, 1, h.pub.rows)
	assert.Len(t, h.notes.alerts, 2)

	require.NotNil(t, h.store.state)
	assert.True(t, h.store.state.Cursor.Equal(t0.Add(2*time.Minute)))
	assert.Nil(t, h.store.state.Open)
	assert.Len(t, h.store.rows, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Signals.WithLabelValues("BTCUSDT", "closed")))
}

func TestCycle_ExactlyOncePerBar(t *testing.T) {
	h := newHarness(t, &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95, 110)}})

	h.cycle(t)
	h.cycle(t)
	h.cycle(t)

	assert.Len(t, h.log.events, 1)
	assert.Len(t, h.pub.transitions, 2)
	assert.Equal(t, 3, h.pub.rows)
}

func TestCycle_ChunkingInvariant(t *testing.T) {
	whole := newHarness(t, &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95, 110, 90, 80, 120)}})
	whole.cycle(t)

	chunked := newHarness(t, &feed{batches: [][]model.Bar{
		bars(model.Interval1m, 0, 100, 95),
		bars(model.Interval1m, 1, 95, 110, 90),
		bars(model.Interval1m, 4, 80),
		bars(model.Interval1m, 5, 120),
	}})
	for range 4 {
		chunked.cycle(t)
	}

	require.NotEmpty(t, whole.log.events)
	assert.Equal(t, whole.log.events, chunked.log.events)
}

func TestCycle_FormingBarNotExamined(t *testing.T) {
	h := newHarness(t, &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95, 110)}})
	h.clock.t = t0.Add(2*time.Minute + 30*time.Second) // the 110 bar is still open

	h.cycle(t)
	require.Len(t, h.pub.transitions, 1)
	assert.Equal(t, strategy.Opened, h.pub.transitions[0].Kind)
	assert.Empty(t, h.log.events)
	require.Len(t, h.store.rows, 3)
	assert.True(t, h.store.rows[2].Forming)

	h.clock.t = t0.Add(3 * time.Minute)
	h.cycle(t)
	require.Len(t, h.log.events, 1)
	assert.True(t, h.log.events[0].ClosePrice.Equal(decimal.NewFromInt(110)))
}

// ────────────────────────────────────────────────────────────
// Failures
// ────────────────────────────────────────────────────────────

func TestCycle_FetchFailures(t *testing.T) {
	tests := []struct {
		name string
		feed *feed
	}{
		{"error", &feed{errs: []error{errors.New("502 bad gateway")}, batches: [][]model.Bar{bars(model.Interval1m, 0, 100)}}},
		{"empty", &feed{batches: [][]model.Bar{nil, bars(model.Interval1m, 0, 100)}}},
		{"panic", &feed{panics: true, batches: [][]model.Bar{bars(model.Interval1m, 0, 100)}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.feed)

			assert.Equal(t, time.Minute, h.cycle(t))
			assert.Equal(t, 1, tc.feed.built)
			assert.Equal(t, 1, tc.feed.closed)
			assert.Empty(t, h.store.rows)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.m.FetchFailures.WithLabelValues("BTCUSDT")))

			// the next cycle rebuilds the client
			tc.feed.panics = false
			h.cycle(t)
			assert.Equal(t, 2, tc.feed.built)
			assert.Len(t, h.store.rows, 1)
		})
	}
}

func TestFetch_WrapsTransientError(t *testing.T) {
	h := newHarness(t, &feed{batches: [][]model.Bar{nil}})
	h.loop.bootstrap(context.Background())

	_, err := h.loop.fetch(context.Background())
	assert.ErrorIs(t, err, ErrTransientFetch)
	assert.ErrorIs(t, err, marketdata.ErrNoData)
}

func TestCycle_FactoryFailure(t *testing.T) {
	h := newHarness(t, &feed{})
	h.loop.clients = func(context.Context) (marketdata.Client, error) {
		return nil, errors.New("login rejected")
	}

	h.cycle(t)
	h.cycle(t)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.m.FetchFailures.WithLabelValues("BTCUSDT")))
	assert.Nil(t, h.loop.client)
}

func TestCycle_SignalLogFailureIsQueued(t *testing.T) {
	h := newHarness(t, &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95, 110)}})
	h.log.failNext = 1

	h.cycle(t)
	assert.Empty(t, h.log.events)
	assert.Len(t, h.loop.backlog, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.PersistenceErrors.WithLabelValues("BTCUSDT", "signal_log")))

	h.cycle(t)
	assert.Len(t, h.log.events, 1)
	assert.Empty(t, h.loop.backlog)
}

func TestCycle_QueuedSignalSurvivesRestart(t *testing.T) {
	h := newHarness(t, &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95, 110)}})
	h.log.failNext = 1

	h.cycle(t)
	require.Empty(t, h.log.events)
	require.NotNil(t, h.store.state)
	assert.True(t, h.store.state.Cursor.Equal(t0.Add(2*time.Minute)))
	assert.Len(t, h.store.state.Pending, 1, "queued with the cursor that passed it")

	h.loop = h.build(nil)
	h.cycle(t)
	h.cycle(t)

	require.Len(t, h.log.events, 1)
	assert.True(t, h.log.events[0].ClosePrice.Equal(decimal.NewFromInt(110)))
	assert.Empty(t, h.store.state.Pending)
}

func TestCycle_IntervalSwitchKeepsQueuedSignals(t *testing.T) {
	f := &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95, 110)}}
	h := newHarness(t, f)
	h.log.failNext = 2
	h.cycle(t)
	require.Len(t, h.loop.backlog, 1)

	h.cfgs.cfg.Interval = model.Interval5m
	h.detector.Trigger()
	f.batches = [][]model.Bar{bars(model.Interval5m, 0, 200)}
	f.calls = 0
	h.cycle(t)

	require.NotNil(t, h.store.state)
	assert.Equal(t, model.Interval5m, h.store.stIv)
	assert.Len(t, h.store.state.Pending, 1)

	h.cycle(t)
	assert.Len(t, h.log.events, 1)
	assert.Empty(t, h.store.state.Pending)
}

func TestCycle_StoreLoadFailureTreatedAsFresh(t *testing.T) {
	h := newHarness(t, &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95, 110)}})
	h.cycle(t)

	h.store.fail = errors.New("disk I/O error")
	h.cycle(t)
	assert.Len(t, h.log.events, 1, "cursor still guards already examined bars")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.PersistenceErrors.WithLabelValues("BTCUSDT", "load_bars")))
}

// ────────────────────────────────────────────────────────────
// Hot reload
// ────────────────────────────────────────────────────────────

func TestCycle_ConfigParseErrorKeepsPreviousAndRetries(t *testing.T) {
	h := newHarness(t, &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100)}})
	h.cycle(t)

	h.cfgs.err = settings.ErrConfigParse
	h.detector.Trigger()
	h.cycle(t)
	assert.Equal(t, 0.5, h.loop.Config().TakeProfit)
	assert.True(t, h.loop.pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.ConfigParseErrors.WithLabelValues("BTCUSDT")))

	// fixed file, no new change signal: the pending reload still lands
	h.cfgs.err = nil
	h.cfgs.cfg.TakeProfit = 0.3
	h.cycle(t)
	assert.Equal(t, 0.3, h.loop.Config().TakeProfit)
	assert.False(t, h.loop.pending)
}

func TestCycle_TakeProfitReloadKeepsSeriesAndCursor(t *testing.T) {
	h := newHarness(t, &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95)}})
	h.cycle(t)
	require.Len(t, h.pub.transitions, 1)
	cursor := h.loop.State().Cursor
	openTP := h.loop.State().Open.TakeProfit

	h.cfgs.cfg.TakeProfit = 0.9
	h.detector.Trigger()
	h.cycle(t)

	assert.Equal(t, 0, h.store.resets)
	assert.Len(t, h.store.rows, 2)
	assert.True(t, h.loop.State().Cursor.Equal(cursor))
	require.NotNil(t, h.loop.State().Open)
	assert.True(t, h.loop.State().Open.TakeProfit.Equal(openTP))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.m.IntervalSwitches.WithLabelValues("BTCUSDT")))
}

func TestCycle_IntervalSwitchDiscardsHistory(t *testing.T) {
	f := &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95)}}
	h := newHarness(t, f)
	h.cycle(t)
	require.NotNil(t, h.loop.State().Open)

	h.cfgs.cfg.Interval = model.Interval5m
	h.detector.Trigger()
	f.batches = [][]model.Bar{bars(model.Interval5m, 0, 200, 201)}
	f.calls = 0

	sleep := h.cycle(t)

	assert.Equal(t, 5*time.Minute, sleep)
	assert.Equal(t, 1, h.store.resets)
	assert.Empty(t, h.log.events, "abandoned positions are never recorded")
	assert.Nil(t, h.loop.State().Open)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.AbandonedPositions.WithLabelValues("BTCUSDT")))
	require.NotEmpty(t, h.notes.alerts)
	assert.Equal(t, notification.AlertWarning, h.notes.alerts[len(h.notes.alerts)-1].Level)

	require.Len(t, h.store.rows, 2)
	for _, r := range h.store.rows {
		assert.Equal(t, model.Interval5m, r.Interval)
	}
	assert.Equal(t, model.Interval5m, h.store.stIv)
}

// ────────────────────────────────────────────────────────────
// Startup
// ────────────────────────────────────────────────────────────

func TestBootstrap_RestoresPersistedState(t *testing.T) {
	f := &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95)}}
	h := newHarness(t, f)
	h.cycle(t)
	require.NotNil(t, h.store.state.Open)

	// restart, then the exit bar arrives
	h.loop = h.build(nil)
	f.batches = [][]model.Bar{bars(model.Interval1m, 0, 100, 95, 110)}
	f.calls = 0
	h.cycle(t)

	require.Len(t, h.log.events, 1)
	assert.True(t, h.log.events[0].BuyPrice.Equal(decimal.NewFromInt(95)))
	assert.Len(t, h.pub.transitions, 2, "the entry is not replayed after a restart")
}

func TestBootstrap_StateLoadFailureRetries(t *testing.T) {
	f := &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95, 110)}}
	h := newHarness(t, f)
	saved := strategy.State{Cursor: t0.Add(time.Minute)}
	h.store.state, h.store.stIv = &saved, model.Interval1m
	h.store.loadFail = errors.New("database is locked")
	h.log.lastClose = t0.Add(-time.Hour)

	assert.Equal(t, bootstrapRetry, h.cycle(t))
	assert.False(t, h.loop.started)
	assert.Equal(t, 0, f.built)
	assert.True(t, h.store.state.Cursor.Equal(saved.Cursor), "stored state left alone")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.PersistenceErrors.WithLabelValues("BTCUSDT", "load_state")))

	h.store.loadFail = nil
	h.cycle(t)
	assert.True(t, h.loop.started)
	// only the 110 bar lies past the stored cursor
	assert.Empty(t, h.pub.transitions)
	assert.True(t, h.loop.State().Cursor.Equal(t0.Add(2*time.Minute)))
}

func TestBootstrap_CursorFromSignalLog(t *testing.T) {
	h := newHarness(t, &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100, 95, 110)}})
	h.log.lastClose = t0.Add(2 * time.Minute)

	h.cycle(t)

	assert.Empty(t, h.pub.transitions)
	assert.True(t, h.loop.State().Cursor.Equal(t0.Add(2*time.Minute)))
}

func TestBootstrap_IntervalChangedWhileDown(t *testing.T) {
	h := newHarness(t, &feed{batches: [][]model.Bar{bars(model.Interval5m, 0, 100)}})
	open := model.SignalEvent{Instrument: "BTCUSDT", BuyTime: t0, BuyPrice: decimal.NewFromInt(1)}
	h.store.state = &strategy.State{Cursor: t0, Open: &open}
	h.store.stIv = model.Interval1m
	h.cfgs.cfg.Interval = model.Interval5m

	h.cycle(t)

	assert.Equal(t, 1, h.store.resets)
	assert.Nil(t, h.loop.State().Open)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.AbandonedPositions.WithLabelValues("BTCUSDT")))
}

func TestBootstrap_UnreadableConfigKeepsStoredInterval(t *testing.T) {
	h := newHarness(t, &feed{batches: [][]model.Bar{bars(model.Interval5m, 0, 100)}})
	h.store.state = &strategy.State{Cursor: t0}
	h.store.stIv = model.Interval5m
	h.cfgs.err = settings.ErrConfigParse

	h.cycle(t)

	assert.Equal(t, model.Interval5m, h.loop.Config().Interval)
	assert.Equal(t, 0, h.store.resets)
	assert.True(t, h.loop.pending)
}

// ────────────────────────────────────────────────────────────
// Market hours and Run
// ────────────────────────────────────────────────────────────

func TestCycle_ClosedVenueSkipsFetch(t *testing.T) {
	f := &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100)}}
	h := newHarness(t, f)
	h.loop = h.build(markethours.NSE())
	h.clock.t = time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC) // Sunday

	h.cycle(t)

	assert.Equal(t, 0, f.built)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.m.MarketState.WithLabelValues("BTCUSDT")))
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &feed{batches: [][]model.Bar{bars(model.Interval1m, 0, 100)}}
	h := newHarness(t, f)
	h.loop.clients = func(c context.Context) (marketdata.Client, error) {
		cancel()
		return f.factory(c)
	}

	done := make(chan struct{})
	go func() {
		h.loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, f.closed, "client closed on exit")
}

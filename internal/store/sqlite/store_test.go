package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-signalsync/internal/model"
	"trading-signalsync/internal/strategy"
)

var t0 = time.Date(2024, 2, 1, 9, 15, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "bars.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func rows(iv model.Interval, closes ...float64) []model.IndicatorRow {
	out := make([]model.IndicatorRow, len(closes))
	for i, c := range closes {
		out[i] = model.IndicatorRow{
			Bar: model.Bar{
				TS:   t0.Add(time.Duration(i) * iv.Duration()),
				Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100,
				Interval: iv,
			},
			RSI:      float64(40 + i),
			RSIReady: i > 0,
		}
	}
	return out
}

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Save(ctx, "BTC", model.Interval1m, rows(model.Interval1m, 3, 1, 2)))

	got, err := s.Load(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, model.Interval1m, got.Interval)
	require.Equal(t, 3, got.Len())
	assert.Equal(t, []float64{3, 1, 2}, []float64{got.Bars[0].Close, got.Bars[1].Close, got.Bars[2].Close})
	assert.Equal(t, t0, got.Bars[0].TS)

	empty, err := s.Load(ctx, "ETH")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestStore_SaveUpserts(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Save(ctx, "BTC", model.Interval1m, rows(model.Interval1m, 1, 2)))
	require.NoError(t, s.Save(ctx, "BTC", model.Interval1m, rows(model.Interval1m, 1, 20, 3)))

	n, err := s.Count(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.Load(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.Bars[1].Close)
}

func TestStore_SavePurgesOtherInterval(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Save(ctx, "BTC", model.Interval1m, rows(model.Interval1m, 1, 2, 3, 4)))
	require.NoError(t, s.Save(ctx, "BTC", model.Interval5m, rows(model.Interval5m, 9)))

	got, err := s.Load(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, model.Interval5m, got.Interval)
	assert.Equal(t, 1, got.Len())
}

func TestStore_ResetIsPerInstrument(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Save(ctx, "BTC", model.Interval1m, rows(model.Interval1m, 1, 2)))
	require.NoError(t, s.Save(ctx, "ETH", model.Interval1m, rows(model.Interval1m, 1, 2)))
	require.NoError(t, s.Reset(ctx, "BTC"))

	btc, _ := s.Count(ctx, "BTC")
	eth, _ := s.Count(ctx, "ETH")
	assert.Equal(t, 0, btc)
	assert.Equal(t, 2, eth)
}

func TestStore_Latest(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Save(ctx, "BTC", model.Interval1m, rows(model.Interval1m, 1, 2, 3, 4)))

	got, err := s.Latest(ctx, "BTC", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, got[0].Close)
	assert.Equal(t, 4.0, got[1].Close)
	assert.Equal(t, 43.0, got[1].RSI)
	assert.True(t, got[1].RSIReady)
	assert.False(t, got[1].MACDReady)
}

func TestStore_StateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, _, ok, err := s.LoadState(ctx, "BTC")
	require.NoError(t, err)
	assert.False(t, ok)

	open := &model.SignalEvent{
		Instrument: "BTC",
		BuyTime:    t0,
		BuyPrice:   decimal.NewFromInt(95),
		TakeProfit: decimal.RequireFromString("104.5"),
		StopLoss:   decimal.RequireFromString("90.25"),
	}
	want := strategy.State{Cursor: t0.Add(time.Minute), Open: open}
	require.NoError(t, s.SaveState(ctx, "BTC", model.Interval1m, want))

	got, iv, ok, err := s.LoadState(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Interval1m, iv)
	assert.Equal(t, want.Cursor, got.Cursor)
	require.NotNil(t, got.Open)
	assert.True(t, got.Open.TakeProfit.Equal(open.TakeProfit))
	assert.True(t, got.Open.BuyTime.Equal(t0))

	// flat state overwrites the position
	require.NoError(t, s.SaveState(ctx, "BTC", model.Interval1m, strategy.State{Cursor: t0.Add(2 * time.Minute)}))
	got, _, _, err = s.LoadState(ctx, "BTC")
	require.NoError(t, err)
	assert.Nil(t, got.Open)

	require.NoError(t, s.ClearState(ctx, "BTC"))
	_, _, ok, err = s.LoadState(ctx, "BTC")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_StateKeepsPendingEvents(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	closed := model.SignalEvent{
		Instrument: "BTC",
		Interval:   model.Interval1m,
		BuyTime:    t0,
		BuyPrice:   decimal.NewFromInt(95),
		TakeProfit: decimal.RequireFromString("104.5"),
		StopLoss:   decimal.RequireFromString("90.25"),
	}
	closed.Close(decimal.NewFromInt(105), t0.Add(3*time.Minute), model.ExitTakeProfit)
	require.NoError(t, s.SaveState(ctx, "BTC", model.Interval1m,
		strategy.State{Cursor: t0.Add(3 * time.Minute), Pending: []model.SignalEvent{closed}}))

	got, _, ok, err := s.LoadState(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Pending, 1)
	assert.True(t, got.Pending[0].ClosePrice.Equal(decimal.NewFromInt(105)))
	assert.Equal(t, model.ExitTakeProfit, got.Pending[0].ExitReason)

	// an emptied queue is written back as such
	require.NoError(t, s.SaveState(ctx, "BTC", model.Interval1m, strategy.State{Cursor: t0.Add(4 * time.Minute)}))
	got, _, _, err = s.LoadState(ctx, "BTC")
	require.NoError(t, err)
	assert.Empty(t, got.Pending)
}

func TestNew_AddsPendingColumnToOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE sync_state (
		instrument TEXT PRIMARY KEY,
		interval   TEXT NOT NULL,
		cursor_ts  INTEGER NOT NULL DEFAULT 0,
		position   TEXT,
		updated_at INTEGER NOT NULL
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO sync_state (instrument, interval, cursor_ts, updated_at) VALUES ('BTC', '5m', ?, 0)`, t0.Unix())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := New(Config{DBPath: path})
	require.NoError(t, err)
	defer s.Close()

	st, iv, ok, err := s.LoadState(context.Background(), "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Interval5m, iv)
	assert.True(t, st.Cursor.Equal(t0))
	assert.Empty(t, st.Pending)

	// reopening does not trip over the existing column
	s2, err := New(Config{DBPath: path})
	require.NoError(t, err)
	s2.Close()
}

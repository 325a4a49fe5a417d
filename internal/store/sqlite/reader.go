package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trading-signalsync/internal/model"
	"trading-signalsync/internal/series"
	"trading-signalsync/internal/strategy"
)

// Load returns the stored series of the instrument in ascending order.
// An instrument with no bars yields an empty series with no interval.
func (s *Store) Load(ctx context.Context, instrument string) (series.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT interval, ts, open, high, low, close, volume
		FROM bars
		WHERE instrument = ?
		ORDER BY ts ASC
	`, instrument)
	if err != nil {
		return series.Series{}, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var out series.Series
	for rows.Next() {
		var b model.Bar
		var iv string
		var tsUnix int64
		if err := rows.Scan(&iv, &tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return series.Series{}, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		b.Interval = model.Interval(iv)
		out.Interval = b.Interval
		out.Bars = append(out.Bars, b)
	}
	return out, rows.Err()
}

// Latest returns up to limit of the newest rows, oldest first, with their
// stored indicator columns.
func (s *Store) Latest(ctx context.Context, instrument string, limit int) ([]model.IndicatorRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT interval, ts, open, high, low, close, volume,
		       rsi, macd, macd_signal, macd_hist, stoch_k, stoch_d, ready
		FROM bars
		WHERE instrument = ?
		ORDER BY ts DESC
		LIMIT ?
	`, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query latest: %w", err)
	}
	defer rows.Close()

	var out []model.IndicatorRow
	for rows.Next() {
		var r model.IndicatorRow
		var iv string
		var tsUnix int64
		var ready int
		if err := rows.Scan(&iv, &tsUnix, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume,
			&r.RSI, &r.MACD, &r.MACDSignal, &r.MACDHist, &r.StochK, &r.StochD, &ready); err != nil {
			return nil, fmt.Errorf("sqlite scan latest: %w", err)
		}
		r.TS = time.Unix(tsUnix, 0).UTC()
		r.Interval = model.Interval(iv)
		r.RSIReady = ready&readyRSI != 0
		r.MACDReady = ready&readyMACD != 0
		r.StochReady = ready&readyStoch != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to ascending
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Count returns the number of stored bars of the instrument.
func (s *Store) Count(ctx context.Context, instrument string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bars WHERE instrument = ?`, instrument).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count bars: %w", err)
	}
	return n, nil
}

// LoadState returns the persisted machine state and the interval it was
// saved under. ok is false when nothing was persisted.
func (s *Store) LoadState(ctx context.Context, instrument string) (st strategy.State, iv model.Interval, ok bool, err error) {
	var (
		ivStr    string
		cursor   int64
		position sql.NullString
		pending  sql.NullString
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT interval, cursor_ts, position, pending FROM sync_state WHERE instrument = ?
	`, instrument).Scan(&ivStr, &cursor, &position, &pending)
	if errors.Is(err, sql.ErrNoRows) {
		return strategy.State{}, "", false, nil
	}
	if err != nil {
		return strategy.State{}, "", false, fmt.Errorf("sqlite load state %s: %w", instrument, err)
	}

	if cursor != 0 {
		st.Cursor = time.Unix(cursor, 0).UTC()
	}
	if position.Valid && position.String != "" {
		var ev model.SignalEvent
		if err := json.Unmarshal([]byte(position.String), &ev); err != nil {
			return strategy.State{}, "", false, fmt.Errorf("decode position %s: %w", instrument, err)
		}
		st.Open = &ev
	}
	if pending.Valid && pending.String != "" {
		if err := json.Unmarshal([]byte(pending.String), &st.Pending); err != nil {
			return strategy.State{}, "", false, fmt.Errorf("decode pending %s: %w", instrument, err)
		}
	}
	return st, model.Interval(ivStr), true, nil
}

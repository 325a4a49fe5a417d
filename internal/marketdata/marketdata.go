// Package marketdata defines the historical bar source used by the sync
// loops. Providers live in sub-packages.
package marketdata

import (
	"context"
	"errors"
	"sort"
	"time"

	"trading-signalsync/internal/model"
)

// ErrNoData is returned when a provider answers with an empty batch.
var ErrNoData = errors.New("marketdata: no bars returned")

// Client fetches the most recent count bars of an instrument.
// Returned bars are ascending and tagged with iv.
type Client interface {
	Fetch(ctx context.Context, symbol, venue string, iv model.Interval, count int) ([]model.Bar, error)
	Close() error
}

// Factory builds a fresh, authenticated client. Loops call it lazily and
// again after every failure.
type Factory func(ctx context.Context) (Client, error)

// Normalize sorts bars ascending, converts timestamps to UTC, tags them
// with iv and keeps at most the newest count. It returns ErrNoData for an
// empty batch.
func Normalize(bars []model.Bar, iv model.Interval, count int) ([]model.Bar, error) {
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	for i := range bars {
		bars[i].TS = bars[i].TS.UTC()
		bars[i].Interval = iv
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].TS.Before(bars[j].TS) })
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

const maxSpan = 30 * 24 * time.Hour

// Span is the request window for count bars of iv. Sessions close
// overnight and at weekends, so the window is padded 3x, capped at 30 days.
func Span(iv model.Interval, count int) time.Duration {
	d := time.Duration(count) * 3 * iv.Duration()
	if d > maxSpan || d <= 0 {
		return maxSpan
	}
	return d
}

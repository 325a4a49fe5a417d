// Package alpaca fetches bars from Alpaca's market data API.
package alpaca

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	md "trading-signalsync/internal/marketdata"
	"trading-signalsync/internal/model"
)

// Config holds the API credentials. Empty keys fall back to the
// APCA_API_KEY_ID / APCA_API_SECRET_KEY environment variables.
type Config struct {
	APIKey    string
	APISecret string
	Feed      string // "iex" (default) or "sip"
}

// barSource is the slice of the SDK client used here.
type barSource interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Client implements marketdata.Client.
type Client struct {
	src  barSource
	feed marketdata.Feed
	now  func() time.Time
}

var _ md.Client = (*Client)(nil)

// New returns a client backed by the Alpaca SDK.
func New(cfg Config) *Client {
	feed := marketdata.IEX
	if cfg.Feed != "" {
		feed = marketdata.Feed(cfg.Feed)
	}
	return &Client{
		src: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		feed: feed,
		now:  time.Now,
	}
}

// Factory returns a marketdata.Factory producing fresh clients.
func Factory(cfg Config) md.Factory {
	return func(ctx context.Context) (md.Client, error) {
		return New(cfg), nil
	}
}

// TimeFrame maps an interval onto the SDK's timeframe.
func TimeFrame(iv model.Interval) marketdata.TimeFrame {
	switch iv {
	case model.Interval5m:
		return marketdata.NewTimeFrame(5, marketdata.Min)
	case model.Interval15m:
		return marketdata.NewTimeFrame(15, marketdata.Min)
	case model.Interval1h:
		return marketdata.OneHour
	default:
		return marketdata.OneMin
	}
}

// Fetch requests bars covering the padded window for count bars and keeps
// the newest count. venue is unused; Alpaca routes by symbol.
func (c *Client) Fetch(ctx context.Context, symbol, venue string, iv model.Interval, count int) ([]model.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := c.src.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: TimeFrame(iv),
		Start:     c.now().Add(-md.Span(iv, count)),
		Feed:      c.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca bars %s: %w", symbol, err)
	}

	bars := make([]model.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, model.Bar{
			TS:     b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return md.Normalize(bars, iv, count)
}

// Close is a no-op.
func (c *Client) Close() error { return nil }

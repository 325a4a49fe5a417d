// Package twelvedata fetches bars from the Twelve Data time_series API.
package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trading-signalsync/internal/marketdata"
	"trading-signalsync/internal/model"
)

const defaultBaseURL = "https://api.twelvedata.com"

// Config holds the API credentials.
type Config struct {
	APIKey  string
	BaseURL string        // default https://api.twelvedata.com
	Timeout time.Duration // default 10s
}

type timeSeriesResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Values  []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
}

// Client implements marketdata.Client.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ marketdata.Client = (*Client)(nil)

// New returns a client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Factory returns a marketdata.Factory producing fresh clients.
func Factory(cfg Config) marketdata.Factory {
	return func(ctx context.Context) (marketdata.Client, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("twelvedata: missing api key")
		}
		return New(cfg, nil), nil
	}
}

// Fetch requests the latest count bars. venue is passed as the exchange
// filter when set.
func (c *Client) Fetch(ctx context.Context, symbol, venue string, iv model.Interval, count int) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", iv.TwelveDataCode())
	q.Set("outputsize", strconv.Itoa(count))
	q.Set("timezone", "UTC")
	q.Set("apikey", c.cfg.APIKey)
	if venue != "" {
		q.Set("exchange", venue)
	}

	u := fmt.Sprintf("%s/time_series?%s", strings.TrimRight(c.cfg.BaseURL, "/"), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twelvedata %s: %w", symbol, err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("twelvedata http %d", res.StatusCode)
	}

	var body timeSeriesResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("twelvedata decode: %w", err)
	}
	if body.Status == "error" {
		return nil, fmt.Errorf("twelvedata: %s", body.Message)
	}

	bars := make([]model.Bar, 0, len(body.Values))
	for _, v := range body.Values {
		ts, err := time.Parse("2006-01-02 15:04:05", v.Datetime)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", v.Datetime, err)
		}
		b := model.Bar{TS: ts}
		for _, f := range []struct {
			dst *float64
			src string
		}{
			{&b.Open, v.Open}, {&b.High, v.High}, {&b.Low, v.Low}, {&b.Close, v.Close},
		} {
			if *f.dst, err = strconv.ParseFloat(f.src, 64); err != nil {
				return nil, fmt.Errorf("parse price %q: %w", f.src, err)
			}
		}
		// forex and crypto series carry no volume
		if v.Volume != "" {
			if b.Volume, err = strconv.ParseFloat(v.Volume, 64); err != nil {
				return nil, fmt.Errorf("parse volume %q: %w", v.Volume, err)
			}
		}
		bars = append(bars, b)
	}
	return marketdata.Normalize(bars, iv, count)
}

// Close is a no-op; the HTTP client holds no session.
func (c *Client) Close() error { return nil }

// Package smartapi fetches historical candles from Angel One SmartAPI.
package smartapi

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/pquerna/otp/totp"

	"trading-signalsync/internal/marketdata"
	"trading-signalsync/internal/model"
	"trading-signalsync/pkg/smartconnect"
)

// Config holds the Angel One login.
type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
	RootURL    string // override for tests
}

type api interface {
	GetCandleData(ctx context.Context, p smartconnect.CandleParams) ([]smartconnect.Candle, error)
	SearchScrip(ctx context.Context, exchange, query string) ([]smartconnect.Scrip, error)
	TerminateSession(ctx context.Context) error
}

// Client implements marketdata.Client over one logged-in session.
type Client struct {
	api    api
	now    func() time.Time
	tokens map[string]string // exchange:symbol -> symboltoken
}

var _ marketdata.Client = (*Client)(nil)

// Factory logs in with a freshly generated TOTP code on every call, so a
// reconstructed client always starts from a new session.
func Factory(cfg Config) marketdata.Factory {
	return func(ctx context.Context) (marketdata.Client, error) {
		code, err := totp.GenerateCode(cfg.TOTPSecret, time.Now())
		if err != nil {
			return nil, fmt.Errorf("smartapi totp: %w", err)
		}
		sc := smartconnect.New(smartconnect.Config{APIKey: cfg.APIKey, RootURL: cfg.RootURL})
		if err := sc.GenerateSession(ctx, cfg.ClientCode, cfg.Password, code); err != nil {
			return nil, fmt.Errorf("smartapi session: %w", err)
		}
		return newClient(sc), nil
	}
}

func newClient(a api) *Client {
	return &Client{api: a, now: time.Now, tokens: make(map[string]string)}
}

// Fetch returns the newest count bars. symbol may be a numeric symbol
// token or a trading symbol resolved through scrip search.
func (c *Client) Fetch(ctx context.Context, symbol, venue string, iv model.Interval, count int) ([]model.Bar, error) {
	token, err := c.resolve(ctx, symbol, venue)
	if err != nil {
		return nil, err
	}
	now := c.now()
	candles, err := c.api.GetCandleData(ctx, smartconnect.CandleParams{
		Exchange:    venue,
		SymbolToken: token,
		Interval:    iv.SmartAPICode(),
		From:        now.Add(-marketdata.Span(iv, count)),
		To:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("smartapi candles %s: %w", symbol, err)
	}

	bars := make([]model.Bar, 0, len(candles))
	for _, cd := range candles {
		bars = append(bars, model.Bar{
			TS:     cd.Time,
			Open:   cd.Open,
			High:   cd.High,
			Low:    cd.Low,
			Close:  cd.Close,
			Volume: cd.Volume,
		})
	}
	return marketdata.Normalize(bars, iv, count)
}

func (c *Client) resolve(ctx context.Context, symbol, venue string) (string, error) {
	if isDigits(symbol) {
		return symbol, nil
	}
	key := venue + ":" + symbol
	if tok, ok := c.tokens[key]; ok {
		return tok, nil
	}
	scrips, err := c.api.SearchScrip(ctx, venue, symbol)
	if err != nil {
		return "", fmt.Errorf("smartapi search %s: %w", symbol, err)
	}
	want := strings.ToUpper(symbol)
	for _, s := range scrips {
		ts := strings.ToUpper(s.TradingSymbol)
		if ts == want || ts == want+"-EQ" {
			c.tokens[key] = s.SymbolToken
			return s.SymbolToken, nil
		}
	}
	return "", fmt.Errorf("smartapi: no scrip %s on %s", symbol, venue)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Close logs the session out.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.api.TerminateSession(ctx)
}

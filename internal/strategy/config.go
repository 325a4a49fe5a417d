package strategy

import (
	"errors"
	"fmt"
	"slices"

	"trading-signalsync/internal/indicator"
	"trading-signalsync/internal/model"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid strategy config")

// Config holds the operator-tunable parameters of one instrument's strategy.
// TakeProfit and StopLoss are fractions of the buy price (0.02 = 2%).
type Config struct {
	TakeProfit float64        `json:"take_profit"`
	StopLoss   float64        `json:"stop_loss"`
	Interval   model.Interval `json:"interval"`

	// TimeInterval is the older spelling of interval, read but never written.
	TimeInterval model.Interval `json:"time_interval,omitempty"`

	RSIPeriod      int `json:"rsi_period"`
	StochRSIPeriod int `json:"stochrsi_period"`
	StochRSIK      int `json:"stochrsi_k"`
	StochRSID      int `json:"stochrsi_d"`
	MACDFast       int `json:"macd_fast_period"`
	MACDSlow       int `json:"macd_slow_period"`
	MACDSignal     int `json:"macd_signal_period"`

	RSIOverbought   float64 `json:"rsi_overbought"`
	RSIOversold     float64 `json:"rsi_oversold"`
	StochOverbought float64 `json:"stochrsi_overbought"`
	StochOversold   float64 `json:"stochrsi_oversold"`

	Entry RuleSet `json:"entry"`
	Exit  RuleSet `json:"exit"`
}

// DefaultConfig is written out when no strategy file exists yet.
func DefaultConfig() Config {
	return Config{
		TakeProfit: 0.02,
		StopLoss:   0.01,
		Interval:   model.Interval1m,

		RSIPeriod:      14,
		StochRSIPeriod: 14,
		StochRSIK:      3,
		StochRSID:      3,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,

		RSIOverbought:   70,
		RSIOversold:     30,
		StochOverbought: 80,
		StochOversold:   20,

		Entry: RuleSet{Logic: LogicAll, Rules: []string{RuleRSIOversold, RuleStochOversold}},
		Exit:  RuleSet{Logic: LogicAny, Rules: []string{RuleRSIOverbought, RuleStochOverbought}},
	}
}

// Params returns the indicator periods of the config.
func (c Config) Params() indicator.Params {
	return indicator.Params{
		RSIPeriod:   c.RSIPeriod,
		MACDFast:    c.MACDFast,
		MACDSlow:    c.MACDSlow,
		MACDSignal:  c.MACDSignal,
		StochPeriod: c.StochRSIPeriod,
		StochK:      c.StochRSIK,
		StochD:      c.StochRSID,
	}
}

// Lookback is the number of bars to request per fetch: at least floor, and
// at least ten times the longest indicator period.
func (c Config) Lookback(floor int) int {
	return max(floor, 10*c.Params().LongestPeriod())
}

// Clone returns a copy that shares no slices with c.
func (c Config) Clone() Config {
	c.Entry.Rules = slices.Clone(c.Entry.Rules)
	c.Exit.Rules = slices.Clone(c.Exit.Rules)
	return c
}

// FoldIntervalAlias moves a decoded time_interval into Interval when
// interval itself was absent, and falls back to prev when both were.
// Callers clear Interval before decoding.
func (c *Config) FoldIntervalAlias(prev model.Interval) {
	if c.Interval == "" {
		c.Interval = c.TimeInterval
	}
	if c.Interval == "" {
		c.Interval = prev
	}
	c.TimeInterval = ""
}

// Validate checks ranges and rule names.
func (c Config) Validate() error {
	if c.TakeProfit <= 0 || c.TakeProfit > 1 {
		return fmt.Errorf("%w: take_profit must be in (0, 1], got %v%s", ErrInvalidConfig, c.TakeProfit, percentHint(c.TakeProfit))
	}
	if c.StopLoss <= 0 || c.StopLoss >= 1 {
		return fmt.Errorf("%w: stop_loss must be in (0, 1), got %v%s", ErrInvalidConfig, c.StopLoss, percentHint(c.StopLoss))
	}
	if !c.Interval.Valid() {
		return fmt.Errorf("%w: interval %q", ErrInvalidConfig, c.Interval)
	}
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.RSIOversold >= c.RSIOverbought {
		return fmt.Errorf("%w: rsi_oversold (%v) must be below rsi_overbought (%v)", ErrInvalidConfig, c.RSIOversold, c.RSIOverbought)
	}
	if c.StochOversold >= c.StochOverbought {
		return fmt.Errorf("%w: stochrsi_oversold (%v) must be below stochrsi_overbought (%v)", ErrInvalidConfig, c.StochOversold, c.StochOverbought)
	}
	if err := c.Entry.Validate(); err != nil {
		return fmt.Errorf("%w: entry: %v", ErrInvalidConfig, err)
	}
	if err := c.Exit.Validate(); err != nil {
		return fmt.Errorf("%w: exit: %v", ErrInvalidConfig, err)
	}
	return nil
}

// percentHint flags a level that was probably written as a percentage.
func percentHint(v float64) string {
	if v < 1 || v > 100 {
		return ""
	}
	return fmt.Sprintf(" (looks like a percentage; use %v for %v%%)", v/100, v)
}

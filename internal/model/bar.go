package model

import (
	"encoding/json"
	"time"
)

// Bar is one OHLCV sample of an instrument at a fixed interval.
// TS is the bar's open time and is unique within a series.
type Bar struct {
	TS       time.Time `json:"ts"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Interval Interval  `json:"interval"`
}

// End returns the time at which the bar closes.
func (b Bar) End() time.Time {
	return b.TS.Add(b.Interval.Duration())
}

// Forming reports whether the bar is still open at now.
func (b Bar) Forming(now time.Time) bool {
	return b.End().After(now)
}

// IndicatorRow is a bar plus the indicator values computed for it.
// Columns whose rolling window is not full hold 0 and report not ready.
type IndicatorRow struct {
	Bar

	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
	StochK     float64 `json:"stoch_k"`
	StochD     float64 `json:"stoch_d"`

	RSIReady   bool `json:"rsi_ready"`
	MACDReady  bool `json:"macd_ready"`
	StochReady bool `json:"stoch_ready"`

	// Forming rows are stored and published but never drive the state machine.
	Forming bool `json:"forming"`
}

// JSON returns the JSON-encoded row (ignoring errors, the type always encodes).
func (r *IndicatorRow) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

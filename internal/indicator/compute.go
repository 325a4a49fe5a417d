package indicator

import (
	"errors"
	"fmt"

	"trading-signalsync/internal/model"
)

// Params are the indicator periods used by Compute.
type Params struct {
	RSIPeriod   int
	MACDFast    int
	MACDSlow    int
	MACDSignal  int
	StochPeriod int
	StochK      int
	StochD      int
}

// DefaultParams returns RSI 14, MACD 12/26/9 and StochRSI 14 with 3/3 smoothing.
func DefaultParams() Params {
	return Params{
		RSIPeriod:   14,
		MACDFast:    12,
		MACDSlow:    26,
		MACDSignal:  9,
		StochPeriod: 14,
		StochK:      3,
		StochD:      3,
	}
}

// ErrInvalidParams is returned by Validate.
var ErrInvalidParams = errors.New("invalid indicator params")

// Validate checks every period is positive and fast < slow.
func (p Params) Validate() error {
	for name, v := range map[string]int{
		"rsi_period":         p.RSIPeriod,
		"macd_fast_period":   p.MACDFast,
		"macd_slow_period":   p.MACDSlow,
		"macd_signal_period": p.MACDSignal,
		"stochrsi_period":    p.StochPeriod,
		"stochrsi_k":         p.StochK,
		"stochrsi_d":         p.StochD,
	} {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be > 0, got %d", ErrInvalidParams, name, v)
		}
	}
	if p.MACDFast >= p.MACDSlow {
		return fmt.Errorf("%w: macd fast (%d) must be below slow (%d)", ErrInvalidParams, p.MACDFast, p.MACDSlow)
	}
	return nil
}

// Warmup is the number of bars needed before every column is ready.
func (p Params) Warmup() int {
	macd := p.MACDSlow + p.MACDSignal - 1
	stoch := p.RSIPeriod + p.StochPeriod + p.StochK + p.StochD - 2
	if macd > stoch {
		return macd
	}
	return stoch
}

// LongestPeriod returns the largest single period.
func (p Params) LongestPeriod() int {
	longest := 0
	for _, v := range []int{p.RSIPeriod, p.MACDFast, p.MACDSlow, p.MACDSignal, p.StochPeriod, p.StochK, p.StochD} {
		if v > longest {
			longest = v
		}
	}
	return longest
}

// Compute recomputes every indicator over the whole series. Bars must be
// in ascending order. The result has one row per bar, in the same order.
func Compute(bars []model.Bar, p Params) []model.IndicatorRow {
	rsi := NewRSI(p.RSIPeriod)
	macd := NewMACD(p.MACDFast, p.MACDSlow, p.MACDSignal)
	stoch := NewStochRSI(p.RSIPeriod, p.StochPeriod, p.StochK, p.StochD)

	rows := make([]model.IndicatorRow, len(bars))
	for i, b := range bars {
		rsi.Update(b.Close)
		macd.Update(b.Close)
		stoch.Update(b.Close)

		row := model.IndicatorRow{Bar: b}
		if rsi.Ready() {
			row.RSI = rsi.Value()
			row.RSIReady = true
		}
		if macd.LineReady() {
			row.MACD = macd.Value()
		}
		if macd.Ready() {
			row.MACDSignal = macd.Signal()
			row.MACDHist = macd.Histogram()
			row.MACDReady = true
		}
		row.StochK = stoch.K()
		if stoch.Ready() {
			row.StochD = stoch.D()
			row.StochReady = true
		}
		rows[i] = row
	}
	return rows
}

package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason records which rule closed a position.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitSignal     ExitReason = "exit_signal"
)

// SignalEvent is one round trip: an entry and, once closed, its exit.
// Closed events are never modified again.
type SignalEvent struct {
	Instrument string          `json:"instrument"`
	Label      string          `json:"label"`
	Interval   Interval        `json:"interval"`
	BuyTime    time.Time       `json:"buy_time"`
	BuyPrice   decimal.Decimal `json:"buy_price"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	StopLoss   decimal.Decimal `json:"stop_loss"`

	ClosePrice decimal.Decimal `json:"close_price"`
	CloseTime  time.Time       `json:"close_time"`
	Pct        decimal.Decimal `json:"pct"`
	ExitReason ExitReason      `json:"exit_reason,omitempty"`
}

// Closed reports whether the exit fields have been filled.
func (e *SignalEvent) Closed() bool {
	return !e.CloseTime.IsZero()
}

// Close fills the exit fields. Pct is the realized return in percent, 2 dp.
func (e *SignalEvent) Close(price decimal.Decimal, at time.Time, reason ExitReason) {
	e.ClosePrice = price
	e.CloseTime = at
	e.ExitReason = reason
	if e.BuyPrice.IsZero() {
		e.Pct = decimal.Zero
		return
	}
	e.Pct = price.Sub(e.BuyPrice).Div(e.BuyPrice).Mul(decimal.NewFromInt(100)).Round(2)
}

// JSON returns the JSON-encoded event.
func (e *SignalEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Package notification delivers signal alerts to external channels
// (Telegram, webhooks, the log).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"trading-signalsync/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level      AlertLevel         `json:"level"`
	Instrument string             `json:"instrument"`
	Title      string             `json:"title"`
	Message    string             `json:"message"`
	Event      *model.SignalEvent `json:"event,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all backends and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func label(ev model.SignalEvent) string {
	if ev.Label != "" {
		return ev.Label
	}
	return ev.Instrument
}

// OpenedAlert announces a new position.
func OpenedAlert(ev model.SignalEvent) Alert {
	return Alert{
		Level:      AlertInfo,
		Instrument: ev.Instrument,
		Title:      fmt.Sprintf("BUY %s", label(ev)),
		Message: fmt.Sprintf("%s bought at %s on %s (TP %s, SL %s)",
			ev.Interval, ev.BuyPrice.StringFixed(2), ev.BuyTime.Format("2006-01-02 15:04"),
			ev.TakeProfit.StringFixed(2), ev.StopLoss.StringFixed(2)),
		Event: &ev,
	}
}

// ClosedAlert announces a completed round trip.
func ClosedAlert(ev model.SignalEvent) Alert {
	return Alert{
		Level:      AlertInfo,
		Instrument: ev.Instrument,
		Title:      fmt.Sprintf("SELL %s (%s)", label(ev), ev.ExitReason),
		Message: fmt.Sprintf("closed at %s on %s, bought %s: %s%%",
			ev.ClosePrice.StringFixed(2), ev.CloseTime.Format("2006-01-02 15:04"),
			ev.BuyPrice.StringFixed(2), ev.Pct.StringFixed(2)),
		Event: &ev,
	}
}

// AbandonedAlert warns that an interval switch dropped an open position.
func AbandonedAlert(ev model.SignalEvent) Alert {
	return Alert{
		Level:      AlertWarning,
		Instrument: ev.Instrument,
		Title:      fmt.Sprintf("Position abandoned %s", label(ev)),
		Message: fmt.Sprintf("interval changed while holding from %s at %s; the position was dropped unrecorded",
			ev.BuyTime.Format("2006-01-02 15:04"), ev.BuyPrice.StringFixed(2)),
		Event: &ev,
	}
}

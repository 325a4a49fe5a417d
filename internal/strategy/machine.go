// Package strategy turns indicator rows into long-only signal events.
//
// A Machine holds at most one open position per instrument and examines
// every closed bar exactly once, tracked by a timestamp cursor that the
// caller persists between runs.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"trading-signalsync/internal/model"
)

// Phase is the position state of a Machine.
type Phase string

const (
	Flat       Phase = "FLAT"
	InPosition Phase = "IN_POSITION"
)

// TransitionKind tells whether a transition opened or closed a position.
type TransitionKind string

const (
	Opened TransitionKind = "opened"
	Closed TransitionKind = "closed"
)

// Transition is one state change produced by Advance.
type Transition struct {
	Kind  TransitionKind    `json:"kind"`
	Event model.SignalEvent `json:"event"`
}

// State is the durable part of a Machine. Pending carries closed events
// the caller has not yet recorded elsewhere; the Machine ignores it.
type State struct {
	Cursor  time.Time           `json:"cursor"`
	Open    *model.SignalEvent  `json:"open,omitempty"`
	Pending []model.SignalEvent `json:"pending,omitempty"`
}

// Machine is the per-instrument signal state machine. Not safe for
// concurrent use; each sync loop owns its own.
type Machine struct {
	instrument string
	label      string
	cfg        Config

	cursor time.Time
	open   *model.SignalEvent
}

// NewMachine creates a flat machine with an unset cursor.
func NewMachine(instrument, label string, cfg Config) *Machine {
	return &Machine{instrument: instrument, label: label, cfg: cfg.Clone()}
}

// Phase returns FLAT or IN_POSITION.
func (m *Machine) Phase() Phase {
	if m.open != nil {
		return InPosition
	}
	return Flat
}

// Cursor returns the timestamp of the last examined bar, zero if unset.
func (m *Machine) Cursor() time.Time { return m.cursor }

// OpenPosition returns a copy of the open position, or nil.
func (m *Machine) OpenPosition() *model.SignalEvent {
	if m.open == nil {
		return nil
	}
	ev := *m.open
	return &ev
}

// Snapshot returns the state to persist.
func (m *Machine) Snapshot() State {
	return State{Cursor: m.cursor, Open: m.OpenPosition()}
}

// Restore replaces cursor and open position with a persisted state.
func (m *Machine) Restore(s State) {
	m.cursor = s.Cursor
	m.open = nil
	if s.Open != nil && !s.Open.Closed() {
		ev := *s.Open
		m.open = &ev
	}
}

// Reconfigure applies new parameters to future decisions. An open
// position keeps the levels it was opened with; the cursor is untouched.
func (m *Machine) Reconfigure(cfg Config) {
	m.cfg = cfg.Clone()
}

// Reset is used on an interval switch: the cursor is cleared and an open
// position is dropped without being recorded. The dropped position, if
// any, is returned so the caller can log it.
func (m *Machine) Reset(cfg Config) *model.SignalEvent {
	abandoned := m.open
	m.cfg = cfg.Clone()
	m.cursor = time.Time{}
	m.open = nil
	return abandoned
}

// Advance examines every closed row newer than the cursor, in order, and
// moves the cursor to the last one examined. Rows must be ascending by
// timestamp. Examination stops at the first forming row.
func (m *Machine) Advance(rows []model.IndicatorRow) []Transition {
	var out []Transition

	for i := range rows {
		cur := &rows[i]
		if !cur.TS.After(m.cursor) {
			continue
		}
		if cur.Forming {
			break
		}
		var prev *model.IndicatorRow
		if i > 0 {
			prev = &rows[i-1]
		}

		if m.open == nil {
			if m.cfg.Entry.Match(&m.cfg, prev, cur) {
				ev := m.openAt(cur)
				m.open = &ev
				out = append(out, Transition{Kind: Opened, Event: ev})
			}
		} else if ev, ok := m.checkExit(prev, cur); ok {
			m.open = nil
			out = append(out, Transition{Kind: Closed, Event: ev})
		}

		m.cursor = cur.TS
	}
	return out
}

func (m *Machine) openAt(row *model.IndicatorRow) model.SignalEvent {
	buy := decimal.NewFromFloat(row.Close)
	one := decimal.NewFromInt(1)
	return model.SignalEvent{
		Instrument: m.instrument,
		Label:      m.label,
		Interval:   row.Interval,
		BuyTime:    row.TS,
		BuyPrice:   buy,
		TakeProfit: buy.Mul(one.Add(decimal.NewFromFloat(m.cfg.TakeProfit))),
		StopLoss:   buy.Mul(one.Sub(decimal.NewFromFloat(m.cfg.StopLoss))),
	}
}

// checkExit applies, in order: stop-loss at the stop price, the exit rule
// set at the bar close, take-profit at the target price. A bar touching
// both levels therefore closes at the stop.
func (m *Machine) checkExit(prev, row *model.IndicatorRow) (model.SignalEvent, bool) {
	ev := *m.open
	low := decimal.NewFromFloat(row.Low)
	high := decimal.NewFromFloat(row.High)

	switch {
	case low.LessThanOrEqual(ev.StopLoss):
		ev.Close(ev.StopLoss, row.TS, model.ExitStopLoss)
	case m.cfg.Exit.Match(&m.cfg, prev, row):
		ev.Close(decimal.NewFromFloat(row.Close), row.TS, model.ExitSignal)
	case high.GreaterThanOrEqual(ev.TakeProfit):
		ev.Close(ev.TakeProfit, row.TS, model.ExitTakeProfit)
	default:
		return model.SignalEvent{}, false
	}
	return ev, true
}

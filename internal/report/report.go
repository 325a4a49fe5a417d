// Package report renders signal events as CSV: one combined file across
// instruments and one file per instrument.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"trading-signalsync/internal/model"
)

// TimeLayout formats buy and close times.
const TimeLayout = "2006-01-02 15:04:05"

var (
	instrumentHeader = []string{"Buy Time", "Buy Price", "Take Profit", "Stop Loss", "Close", "Close Time", "%"}
	combinedHeader   = append([]string{"PAIR"}, instrumentHeader...)
)

// Source lists closed signal events, oldest first.
type Source interface {
	All(ctx context.Context) ([]model.SignalEvent, error)
}

func record(ev model.SignalEvent) []string {
	closeTime := ""
	if !ev.CloseTime.IsZero() {
		closeTime = ev.CloseTime.UTC().Format(TimeLayout)
	}
	return []string{
		ev.BuyTime.UTC().Format(TimeLayout),
		ev.BuyPrice.StringFixed(2),
		ev.TakeProfit.StringFixed(2),
		ev.StopLoss.StringFixed(2),
		ev.ClosePrice.StringFixed(2),
		closeTime,
		ev.Pct.StringFixed(2),
	}
}

func pair(ev model.SignalEvent) string {
	if ev.Label != "" {
		return ev.Label
	}
	return ev.Instrument
}

// sorted returns a copy ordered by buy time, then instrument.
func sorted(events []model.SignalEvent) []model.SignalEvent {
	out := append([]model.SignalEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].BuyTime.Equal(out[j].BuyTime) {
			return out[i].BuyTime.Before(out[j].BuyTime)
		}
		return out[i].Instrument < out[j].Instrument
	})
	return out
}

// Combine writes every event with a leading PAIR column, sorted by buy time.
func Combine(events []model.SignalEvent, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(combinedHeader); err != nil {
		return err
	}
	for _, ev := range sorted(events) {
		if err := cw.Write(append([]string{pair(ev)}, record(ev)...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteInstrument writes the events of a single instrument, sorted by buy time.
func WriteInstrument(events []model.SignalEvent, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(instrumentHeader); err != nil {
		return err
	}
	for _, ev := range sorted(events) {
		if err := cw.Write(record(ev)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// InstrumentFile is the per-instrument report name inside dir.
func InstrumentFile(dir, base string) string {
	return filepath.Join(dir, base+"_Signal_System.csv")
}

// Export writes result.csv plus one file per target into dir and returns
// the number of events written.
func Export(ctx context.Context, src Source, targets []model.Instrument, dir string) (int, error) {
	events, err := src.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("read signal log: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	byKey := make(map[string][]model.SignalEvent)
	for _, ev := range events {
		byKey[ev.Instrument] = append(byKey[ev.Instrument], ev)
	}
	for _, t := range targets {
		if err := writeFile(InstrumentFile(dir, t.FileBase()), func(w io.Writer) error {
			return WriteInstrument(byKey[t.Key()], w)
		}); err != nil {
			return 0, err
		}
	}

	if err := writeFile(filepath.Join(dir, "result.csv"), func(w io.Writer) error {
		return Combine(events, w)
	}); err != nil {
		return 0, err
	}
	return len(events), nil
}

// writeFile writes through a temp file so readers never see a partial report.
func writeFile(path string, fill func(io.Writer) error) error {
	tmp := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer os.Remove(tmp)

	if err := fill(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

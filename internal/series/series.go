// Package series holds an instrument's ordered bar history and the merge
// rules applied when a freshly fetched batch arrives.
package series

import (
	"math"
	"sort"
	"time"

	"trading-signalsync/internal/model"
)

// Series is an ascending, timestamp-unique sequence of bars at one interval.
type Series struct {
	Interval model.Interval
	Bars     []model.Bar
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.Bars) }

// Empty reports whether the series holds no bars.
func (s Series) Empty() bool { return len(s.Bars) == 0 }

// Last returns the newest bar and false when the series is empty.
func (s Series) Last() (model.Bar, bool) {
	if len(s.Bars) == 0 {
		return model.Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// IndexAfter returns the index of the first bar strictly newer than ts.
// A zero ts yields 0.
func (s Series) IndexAfter(ts time.Time) int {
	if ts.IsZero() {
		return 0
	}
	return sort.Search(len(s.Bars), func(i int) bool {
		return s.Bars[i].TS.After(ts)
	})
}

// Merge combines the stored series with a new batch.
//
// An existing series tagged with a different interval is discarded first.
// On a timestamp collision the batch wins. Non-finite numbers become 0 and
// the result is strictly ascending by timestamp.
func Merge(existing Series, batch []model.Bar, iv model.Interval) Series {
	byTS := make(map[int64]model.Bar, len(existing.Bars)+len(batch))

	if existing.Interval == iv {
		for _, b := range existing.Bars {
			byTS[b.TS.UnixNano()] = normalize(b, iv)
		}
	}
	for _, b := range batch {
		byTS[b.TS.UnixNano()] = normalize(b, iv)
	}

	out := make([]model.Bar, 0, len(byTS))
	for _, b := range byTS {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })

	return Series{Interval: iv, Bars: out}
}

func normalize(b model.Bar, iv model.Interval) model.Bar {
	b.Interval = iv
	b.TS = b.TS.UTC()
	b.Open = finite(b.Open)
	b.High = finite(b.High)
	b.Low = finite(b.Low)
	b.Close = finite(b.Close)
	b.Volume = finite(b.Volume)
	return b
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

package series

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-signalsync/internal/model"
)

var t0 = time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)

func bar(min int, close float64) model.Bar {
	return model.Bar{
		TS:   t0.Add(time.Duration(min) * time.Minute),
		Open: close, High: close, Low: close, Close: close, Volume: 10,
		Interval: model.Interval1m,
	}
}

func closes(s Series) []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

func TestMerge_EmptyExisting(t *testing.T) {
	got := Merge(Series{}, []model.Bar{bar(2, 3), bar(0, 1), bar(1, 2)}, model.Interval1m)

	assert.Equal(t, model.Interval1m, got.Interval)
	assert.Equal(t, []float64{1, 2, 3}, closes(got))
}

func TestMerge_BatchWinsOnCollision(t *testing.T) {
	existing := Series{Interval: model.Interval1m, Bars: []model.Bar{bar(0, 1), bar(1, 2)}}

	got := Merge(existing, []model.Bar{bar(1, 20), bar(2, 3)}, model.Interval1m)

	assert.Equal(t, []float64{1, 20, 3}, closes(got))
}

func TestMerge_DuplicatesInsideBatch(t *testing.T) {
	got := Merge(Series{}, []model.Bar{bar(0, 1), bar(0, 5)}, model.Interval1m)

	require.Equal(t, 1, got.Len())
	assert.Equal(t, 5.0, got.Bars[0].Close)
}

func TestMerge_Idempotent(t *testing.T) {
	batch := []model.Bar{bar(0, 1), bar(3, 4), bar(1, 2)}
	once := Merge(Series{}, batch, model.Interval1m)
	twice := Merge(once, batch, model.Interval1m)

	assert.Equal(t, once, twice)
}

func TestMerge_StrictlyIncreasing(t *testing.T) {
	existing := Merge(Series{}, []model.Bar{bar(5, 6), bar(1, 2), bar(3, 4)}, model.Interval1m)
	got := Merge(existing, []model.Bar{bar(4, 5), bar(0, 1), bar(2, 3), bar(5, 60)}, model.Interval1m)

	for i := 1; i < got.Len(); i++ {
		assert.True(t, got.Bars[i].TS.After(got.Bars[i-1].TS), "index %d not increasing", i)
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 60}, closes(got))
}

func TestMerge_DiscardsOtherInterval(t *testing.T) {
	existing := Series{Interval: model.Interval5m, Bars: []model.Bar{bar(-100, 9), bar(-95, 8)}}

	got := Merge(existing, []model.Bar{bar(0, 1)}, model.Interval1m)

	assert.Equal(t, []float64{1}, closes(got))
	assert.Equal(t, model.Interval1m, got.Bars[0].Interval)
}

func TestMerge_NormalizesNonFinite(t *testing.T) {
	b := bar(0, 1)
	b.Volume = math.NaN()
	b.High = math.Inf(1)

	got := Merge(Series{}, []model.Bar{b}, model.Interval1m)

	assert.Equal(t, 0.0, got.Bars[0].Volume)
	assert.Equal(t, 0.0, got.Bars[0].High)
}

func TestSeries_IndexAfter(t *testing.T) {
	s := Merge(Series{}, []model.Bar{bar(0, 1), bar(1, 2), bar(2, 3)}, model.Interval1m)

	assert.Equal(t, 0, s.IndexAfter(time.Time{}))
	assert.Equal(t, 2, s.IndexAfter(t0.Add(time.Minute)))
	assert.Equal(t, 3, s.IndexAfter(t0.Add(2*time.Minute)))
	assert.Equal(t, 0, s.IndexAfter(t0.Add(-time.Minute)))

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 3.0, last.Close)
}

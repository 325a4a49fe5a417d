package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-signalsync/internal/model"
)

func TestNormalize(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	base := time.Date(2024, 5, 2, 9, 15, 0, 0, ist)
	bars := []model.Bar{
		{TS: base.Add(2 * time.Minute), Close: 3},
		{TS: base, Close: 1},
		{TS: base.Add(time.Minute), Close: 2},
	}

	got, err := Normalize(bars, model.Interval1m, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].Close)
	assert.Equal(t, 3.0, got[1].Close)
	assert.Equal(t, time.UTC, got[0].TS.Location())
	assert.Equal(t, model.Interval1m, got[1].Interval)
}

func TestNormalize_Empty(t *testing.T) {
	_, err := Normalize(nil, model.Interval5m, 10)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSpan(t *testing.T) {
	tests := []struct {
		iv    model.Interval
		count int
		want  time.Duration
	}{
		{model.Interval1m, 240, 720 * time.Minute},
		{model.Interval5m, 100, 1500 * time.Minute},
		{model.Interval1h, 1000, 30 * 24 * time.Hour},
		{model.Interval1m, 0, 30 * 24 * time.Hour},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Span(tc.iv, tc.count), "%s x %d", tc.iv, tc.count)
	}
}

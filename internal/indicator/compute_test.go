package indicator

import (
	"errors"
	"testing"
)

func TestCompute_OneRowPerBar(t *testing.T) {
	in := bars(100, 101, 102, 101, 100)
	rows := Compute(in, DefaultParams())

	if len(rows) != len(in) {
		t.Fatalf("got %d rows, want %d", len(rows), len(in))
	}
	for i := range rows {
		if !rows[i].TS.Equal(in[i].TS) {
			t.Errorf("row %d ts %v, want %v", i, rows[i].TS, in[i].TS)
		}
	}
}

func TestCompute_PlaceholdersBeforeWarmup(t *testing.T) {
	p := DefaultParams()
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	rows := Compute(bars(closes...), p)

	for i, r := range rows {
		if r.RSIReady || r.MACDReady || r.StochReady {
			t.Errorf("row %d unexpectedly ready", i)
		}
		if r.RSI != 0 || r.MACD != 0 || r.MACDSignal != 0 || r.StochK != 0 || r.StochD != 0 {
			t.Errorf("row %d placeholder not zero: %+v", i, r)
		}
	}
}

func TestCompute_AllReadyAfterWarmup(t *testing.T) {
	p := DefaultParams()
	n := p.Warmup() + 5
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i%7)
	}
	rows := Compute(bars(closes...), p)

	last := rows[len(rows)-1]
	if !last.RSIReady || !last.MACDReady || !last.StochReady {
		t.Fatalf("last row not ready: %+v", last)
	}
	first := rows[p.Warmup()-1]
	if !first.RSIReady || !first.MACDReady || !first.StochReady {
		t.Errorf("row at warmup-1 should be fully ready: %+v", first)
	}
	before := rows[p.Warmup()-2]
	if before.MACDReady && before.StochReady {
		t.Errorf("row at warmup-2 should not be fully ready")
	}
}

func TestCompute_PrefixStable(t *testing.T) {
	// rows computed over a prefix equal the same rows computed over the whole series
	closes := []float64{}
	for i := 0; i < 80; i++ {
		closes = append(closes, 100+float64((i*37)%11))
	}
	full := Compute(bars(closes...), DefaultParams())
	prefix := Compute(bars(closes[:50]...), DefaultParams())

	for i := range prefix {
		if prefix[i] != full[i] {
			t.Fatalf("row %d differs: prefix=%+v full=%+v", i, prefix[i], full[i])
		}
	}
}

func TestParams_Validate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	p := DefaultParams()
	p.RSIPeriod = 0
	if err := p.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("zero rsi period: got %v, want ErrInvalidParams", err)
	}

	p = DefaultParams()
	p.MACDFast = 30
	if err := p.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("fast >= slow: got %v, want ErrInvalidParams", err)
	}
}

func TestParams_LongestPeriod(t *testing.T) {
	if got := DefaultParams().LongestPeriod(); got != 26 {
		t.Errorf("LongestPeriod = %d, want 26", got)
	}
}

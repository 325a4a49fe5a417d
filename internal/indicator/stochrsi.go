package indicator

// StochRSI applies the stochastic oscillator to RSI values.
//
//	raw = (RSI - min(RSI, n)) / (max(RSI, n) - min(RSI, n)) * 100
//	%K  = SMA(raw, k)
//	%D  = SMA(%K, d)
//
// A flat RSI window yields raw = 0.
type StochRSI struct {
	rsi    *RSI
	period int
	window []float64 // last `period` RSI values, circular
	idx    int
	filled int

	k *SMA
	d *SMA
}

// NewStochRSI creates a StochRSI over an RSI of rsiPeriod, looking back
// stochPeriod RSI values, smoothed by k and d.
func NewStochRSI(rsiPeriod, stochPeriod, k, d int) *StochRSI {
	return &StochRSI{
		rsi:    NewRSI(rsiPeriod),
		period: stochPeriod,
		window: make([]float64, stochPeriod),
		k:      NewSMA(k),
		d:      NewSMA(d),
	}
}

func (s *StochRSI) Name() string { return "STOCHRSI" }

func (s *StochRSI) Update(price float64) {
	s.rsi.Update(price)
	if !s.rsi.Ready() {
		return
	}

	s.window[s.idx] = s.rsi.Value()
	s.idx = (s.idx + 1) % s.period
	if s.filled < s.period {
		s.filled++
	}
	if s.filled < s.period {
		return
	}

	lo, hi := s.window[0], s.window[0]
	for _, v := range s.window[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	raw := 0.0
	if hi > lo {
		raw = (s.rsi.Value() - lo) / (hi - lo) * 100
	}

	s.k.Update(raw)
	if s.k.Ready() {
		s.d.Update(s.k.Value())
	}
}

// Value returns %K, 0 until ready.
func (s *StochRSI) Value() float64 { return s.k.Value() }

// K returns %K, 0 until ready.
func (s *StochRSI) K() float64 { return s.k.Value() }

// D returns %D, 0 until ready.
func (s *StochRSI) D() float64 { return s.d.Value() }

// Ready reports whether both %K and %D have values.
func (s *StochRSI) Ready() bool { return s.d.Ready() }

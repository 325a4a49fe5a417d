// Package indicator provides technical indicator calculations over bar closes.
//
// Each indicator is a small streaming state machine fed one value at a time.
// Compute builds fresh instances and replays a whole series through them, so
// results never depend on which chunks the series arrived in.
package indicator

// Indicator is a streaming calculation over one input series.
type Indicator interface {
	Name() string
	Update(v float64)
	// Value is 0 until Ready.
	Value() float64
	Ready() bool
}

var (
	_ Indicator = (*SMA)(nil)
	_ Indicator = (*EMA)(nil)
	_ Indicator = (*RSI)(nil)
	_ Indicator = (*MACD)(nil)
	_ Indicator = (*StochRSI)(nil)
)

// smoother is an exponential average seeded with the plain mean of its
// first n inputs. alpha 2/(n+1) gives an EMA, 1/n gives Wilder's average.
type smoother struct {
	n     int
	alpha float64
	seen  int
	seed  float64
	avg   float64
}

func (s *smoother) add(v float64) {
	s.seen++
	switch {
	case s.seen < s.n:
		s.seed += v
	case s.seen == s.n:
		s.avg = (s.seed + v) / float64(s.n)
	default:
		s.avg += s.alpha * (v - s.avg)
	}
}

func (s *smoother) ready() bool { return s.seen >= s.n }

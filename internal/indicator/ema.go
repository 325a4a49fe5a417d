package indicator

// EMA is the exponential moving average, seeded with the SMA of the first
// period values.
type EMA struct{ s smoother }

func NewEMA(period int) *EMA {
	return &EMA{s: smoother{n: period, alpha: 2 / float64(period+1)}}
}

func (e *EMA) Name() string     { return "EMA" }
func (e *EMA) Update(v float64) { e.s.add(v) }
func (e *EMA) Value() float64   { return e.s.avg }
func (e *EMA) Ready() bool      { return e.s.ready() }

package indicator

// SMA is the mean of the last period values.
type SMA struct {
	window []float64
	next   int
	total  int
	sum    float64
}

func NewSMA(period int) *SMA {
	return &SMA{window: make([]float64, period)}
}

func (s *SMA) Name() string { return "SMA" }

func (s *SMA) Update(v float64) {
	s.sum += v - s.window[s.next]
	s.window[s.next] = v
	s.next = (s.next + 1) % len(s.window)
	s.total++
}

func (s *SMA) Value() float64 {
	if !s.Ready() {
		return 0
	}
	return s.sum / float64(len(s.window))
}

func (s *SMA) Ready() bool { return s.total >= len(s.window) }

package indicator

// MACD is the difference between a fast and a slow EMA, with an EMA of that
// difference as the signal line.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA

	line float64
	hist float64
}

// NewMACD creates a MACD with the given periods (typically 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Name() string { return "MACD" }

func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	if !m.fast.Ready() || !m.slow.Ready() {
		return
	}

	m.line = m.fast.Value() - m.slow.Value()
	m.signal.Update(m.line)
	if m.signal.Ready() {
		m.hist = m.line - m.signal.Value()
	}
}

// Value returns the MACD line. It is non-zero as soon as the slow EMA is
// seeded, before the signal line is ready.
func (m *MACD) Value() float64 { return m.line }

// Signal returns the signal line, 0 until ready.
func (m *MACD) Signal() float64 {
	if !m.signal.Ready() {
		return 0
	}
	return m.signal.Value()
}

// Histogram returns line minus signal, 0 until ready.
func (m *MACD) Histogram() float64 { return m.hist }

// LineReady reports whether the MACD line itself has a value.
func (m *MACD) LineReady() bool { return m.slow.Ready() && m.fast.Ready() }

// Ready reports whether line, signal and histogram all have values.
func (m *MACD) Ready() bool { return m.signal.Ready() }

package indicator

// RSI is Wilder's relative strength index. Gains and losses are averaged
// with Wilder's smoothing after a plain-mean seed over the first period
// price changes, so the first value appears on the period+1-th price.
type RSI struct {
	gain, loss smoother
	last       float64
	primed     bool
}

func NewRSI(period int) *RSI {
	alpha := 1 / float64(period)
	return &RSI{
		gain: smoother{n: period, alpha: alpha},
		loss: smoother{n: period, alpha: alpha},
	}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(price float64) {
	if !r.primed {
		r.last, r.primed = price, true
		return
	}
	change := price - r.last
	r.last = price
	r.gain.add(max(change, 0))
	r.loss.add(max(-change, 0))
}

func (r *RSI) Ready() bool { return r.gain.ready() }

// Value is 50 for a motionless window and 100 when nothing was lost.
func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	up, down := r.gain.avg, r.loss.avg
	if down == 0 {
		if up == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+up/down)
}

package transport

// CongestionController is the pluggable congestion-control dispatch
// surface named in spec.md §4.5: it owns cwnd, ssthresh, slow-start vs.
// congestion-avoidance transitions, and fast-retransmit. Implementations
// are tagged-variant style (dynamic dispatch via interface, not
// inheritance, per spec.md §9's design note) rather than a class
// hierarchy.
type CongestionController interface {
	// CWND returns the current congestion window, in bytes.
	CWND() uint32
	// OnACK is called for every ACK that newly acknowledges ackedBytes.
	OnACK(ackedBytes uint32)
	// OnDupACK is called for a duplicate ACK (a potential fast-retransmit
	// signal); dupCount is the number of consecutive duplicates seen so
	// far including this one.
	OnDupACK(dupCount int)
	// OnTimeout is called when the retransmit timer fires: it must enter
	// slow start with a halved (or reset) ssthresh.
	OnTimeout()
	// SSThresh returns the current slow-start threshold, in bytes.
	SSThresh() uint32
}

const (
	defaultMSS        = 1460
	dupACKThreshold   = 3 // matches Reno/Cubic fast-retransmit convention
)

// Reno implements additive-increase/multiplicative-decrease slow start
// and congestion avoidance (RFC 5681-style), per spec.md §4.5's AIMD
// option.
type Reno struct {
	cwnd     uint32
	ssthresh uint32
	mss      uint32
	dupACKs  int
}

// NewReno returns a Reno controller starting in slow start with an
// initial window of 2*mss, per RFC 5681's conservative default.
func NewReno(mss uint32) *Reno {
	if mss == 0 {
		mss = defaultMSS
	}
	return &Reno{cwnd: 2 * mss, ssthresh: 64 * 1024, mss: mss}
}

func (r *Reno) CWND() uint32     { return r.cwnd }
func (r *Reno) SSThresh() uint32 { return r.ssthresh }

func (r *Reno) OnACK(acked uint32) {
	r.dupACKs = 0
	if r.cwnd < r.ssthresh {
		// Slow start: grow by the bytes acknowledged, capped at one MSS
		// per segment acknowledged (the standard "cwnd += min(acked, mss)").
		grow := acked
		if grow > r.mss {
			grow = r.mss
		}
		r.cwnd += grow
		return
	}
	// Congestion avoidance: roughly +1 MSS per RTT.
	r.cwnd += r.mss * acked / r.cwnd
}

func (r *Reno) OnDupACK(dupCount int) {
	r.dupACKs = dupCount
	if dupCount == dupACKThreshold {
		// Fast retransmit/fast recovery: halve cwnd.
		r.ssthresh = r.cwnd / 2
		if r.ssthresh < 2*r.mss {
			r.ssthresh = 2 * r.mss
		}
		r.cwnd = r.ssthresh + 3*r.mss
	} else if dupCount > dupACKThreshold {
		r.cwnd += r.mss
	}
}

func (r *Reno) OnTimeout() {
	r.ssthresh = r.cwnd / 2
	if r.ssthresh < 2*r.mss {
		r.ssthresh = 2 * r.mss
	}
	r.cwnd = r.mss
	r.dupACKs = 0
}

// Cubic implements a simplified CUBIC congestion window growth function
// (RFC 8312-style), per spec.md §4.5's CUBIC option. The cubic constant C
// and fast-convergence factor beta follow the RFC's recommended defaults.
type Cubic struct {
	cwnd       uint32
	ssthresh   uint32
	mss        uint32
	wMax       uint32
	k          float64
	epochStart bool
	tEpoch     float64 // seconds since congestion event, advanced externally via Tick
	dupACKs    int
}

const (
	cubicC    = 0.4
	cubicBeta = 0.7
)

// NewCubic returns a Cubic controller starting in slow start.
func NewCubic(mss uint32) *Cubic {
	if mss == 0 {
		mss = defaultMSS
	}
	return &Cubic{cwnd: 2 * mss, ssthresh: 64 * 1024, mss: mss}
}

func (c *Cubic) CWND() uint32     { return c.cwnd }
func (c *Cubic) SSThresh() uint32 { return c.ssthresh }

// Tick advances the congestion-avoidance epoch clock by elapsedSeconds;
// the transport layer calls this once per RTT-ish interval while in
// congestion avoidance. It is a no-op during slow start.
func (c *Cubic) Tick(elapsedSeconds float64) {
	if c.cwnd < c.ssthresh {
		return
	}
	c.tEpoch += elapsedSeconds
	t := c.tEpoch
	target := cubicC*cube(t-c.k) + float64(c.wMax)
	if target > float64(c.cwnd) {
		c.cwnd = uint32(target)
	}
}

func cube(x float64) float64 { return x * x * x }

func (c *Cubic) OnACK(acked uint32) {
	c.dupACKs = 0
	if c.cwnd < c.ssthresh {
		grow := acked
		if grow > c.mss {
			grow = c.mss
		}
		c.cwnd += grow
		return
	}
	c.cwnd += c.mss * acked / c.cwnd
}

func (c *Cubic) OnDupACK(dupCount int) {
	c.dupACKs = dupCount
	if dupCount == dupACKThreshold {
		c.wMax = c.cwnd
		c.ssthresh = uint32(float64(c.cwnd) * cubicBeta)
		if c.ssthresh < 2*c.mss {
			c.ssthresh = 2 * c.mss
		}
		c.cwnd = c.ssthresh
		c.k = cubeRoot(float64(c.wMax) * (1 - cubicBeta) / cubicC)
		c.tEpoch = 0
	} else if dupCount > dupACKThreshold {
		c.cwnd += c.mss
	}
}

func (c *Cubic) OnTimeout() {
	c.wMax = c.cwnd
	c.ssthresh = c.cwnd / 2
	if c.ssthresh < 2*c.mss {
		c.ssthresh = 2 * c.mss
	}
	c.cwnd = c.mss
	c.tEpoch = 0
	c.dupACKs = 0
}

func cubeRoot(x float64) float64 {
	if x < 0 {
		return -cubeRoot(-x)
	}
	if x == 0 {
		return 0
	}
	// Newton's method; congestion events are infrequent so a handful of
	// iterations here is not a hot path.
	guess := x
	for i := 0; i < 30; i++ {
		guess -= (guess*guess*guess - x) / (3 * guess * guess)
	}
	return guess
}

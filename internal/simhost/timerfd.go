package simhost

import "github.com/shadow-sim/shadow/internal/vtime"

// TimerFD implements timerfd_create/settime/gettime: an expiration count
// that becomes readable when the scheduled deadline (maintained by the
// owning host's event queue via a generic callback event) elapses.
type TimerFD struct {
	*Base
	expirations uint64
	deadline    vtime.Time
	interval    vtime.Time // 0 means one-shot
}

// NewTimerFD returns a disarmed timerfd.
func NewTimerFD() *TimerFD {
	return &TimerFD{Base: NewBase(ACTIVE), deadline: vtime.Invalid}
}

// Arm schedules the next deadline, optionally periodic at interval.
func (t *TimerFD) Arm(deadline vtime.Time, interval vtime.Time) {
	t.deadline = deadline
	t.interval = interval
}

// Disarm cancels any pending expiration.
func (t *TimerFD) Disarm() {
	t.deadline = vtime.Invalid
	t.interval = 0
}

// Deadline returns the next absolute expiration time, or vtime.Invalid if
// disarmed. Consulted by the worker loop to schedule a callback event.
func (t *TimerFD) Deadline() vtime.Time { return t.deadline }

// Interval returns the configured periodic interval, or 0 for a one-shot
// or disarmed timer.
func (t *TimerFD) Interval() vtime.Time { return t.interval }

// Fire is invoked by the scheduled callback event when the deadline
// elapses: it increments the expiration counter, sets READABLE, and
// reschedules itself if periodic.
func (t *TimerFD) Fire(now vtime.Time) {
	t.expirations++
	t.SetBits(READABLE)
	if t.interval != 0 {
		t.deadline = now.Add(vtime.Zero.Duration(t.interval))
	} else {
		t.deadline = vtime.Invalid
	}
}

// ReadExpirations implements timerfd's read(2): returns the accumulated
// expiration count and resets it to 0, or (0, false) if none have
// occurred (EAGAIN).
func (t *TimerFD) ReadExpirations() (uint64, bool) {
	if t.expirations == 0 {
		return 0, false
	}
	n := t.expirations
	t.expirations = 0
	t.ClearBits(READABLE)
	return n, true
}

func (t *TimerFD) Close() error {
	t.Disarm()
	t.SetStatus(CLOSED)
	return nil
}

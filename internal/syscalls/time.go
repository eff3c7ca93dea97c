package syscalls

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/shadow-sim/shadow/internal/blocking"
	"github.com/shadow-sim/shadow/internal/vtime"
)

// TimeSyscalls registers spec.md §4.10's time-related handlers exactly:
// clock_gettime, gettimeofday, time, nanosleep, and clock_nanosleep.
// clock_gettime/gettimeofday/time never block; nanosleep/clock_nanosleep
// suspend via a deadline-only blocking.Condition.
func (h *Handlers) TimeSyscalls() map[int64]Handler {
	return map[int64]Handler{
		unix.SYS_CLOCK_GETTIME:   h.clockGettime,
		unix.SYS_GETTIMEOFDAY:    h.gettimeofday,
		unix.SYS_TIME:            h.time,
		unix.SYS_NANOSLEEP:       h.nanosleep,
		unix.SYS_CLOCK_NANOSLEEP: h.clockNanosleep,
	}
}

func (h *Handlers) clockGettime(ctx *Context) Result {
	now := ctx.Host.Queue.LocalNow()
	ts := vtime.ToTimespec(now)
	if err := writeTimespec(ctx, uintptr(ctx.Args[1]), ts); err != nil {
		return Errno(unix.EFAULT)
	}
	return Done(0)
}

func (h *Handlers) gettimeofday(ctx *Context) Result {
	now := ctx.Host.Queue.LocalNow()
	tv := vtime.ToTimeval(now)
	if err := writeTimeval(ctx, uintptr(ctx.Args[0]), tv); err != nil {
		return Errno(unix.EFAULT)
	}
	return Done(0)
}

func (h *Handlers) time(ctx *Context) Result {
	now := ctx.Host.Queue.LocalNow()
	sec := int64(time.Duration(now) / time.Second)
	if ptr := uintptr(ctx.Args[0]); ptr != 0 {
		buf := make([]byte, 8)
		putInt64(buf, sec)
		if err := ctx.Mem.Write(ptr, buf); err != nil {
			return Errno(unix.EFAULT)
		}
	}
	return Done(sec)
}

// nanosleep(0) must return immediately, per spec.md §8's boundary
// behavior; anything else blocks on a deadline-only condition.
func (h *Handlers) nanosleep(ctx *Context) Result {
	ts, err := readTimespec(ctx, uintptr(ctx.Args[0]))
	if err != nil {
		return Errno(unix.EFAULT)
	}
	d, derr := vtime.FromTimespec(ts)
	if derr != nil {
		return Errno(unix.EINVAL)
	}
	if d == 0 {
		return Done(0)
	}

	now := ctx.Host.Queue.LocalNow()
	deadline := now.Add(d)
	cond := blocking.New(blocking.Trigger{}, false, deadline)
	return Blocked(cond, true)
}

// clockNanosleep treats every clock id alike (the id is not checked). In
// relative mode the timespec is a duration from the host's virtual now;
// with TIMER_ABSTIME it is an absolute virtual time, and a deadline that
// is not after now returns immediately.
func (h *Handlers) clockNanosleep(ctx *Context) Result {
	flags := int(ctx.Args[1])
	ts, err := readTimespec(ctx, uintptr(ctx.Args[2]))
	if err != nil {
		return Errno(unix.EFAULT)
	}
	requested, derr := vtime.FromTimespec(ts)
	if derr != nil {
		return Errno(unix.EINVAL)
	}

	now := ctx.Host.Queue.LocalNow()
	var deadline vtime.Time
	if flags&unix.TIMER_ABSTIME != 0 {
		deadline = vtime.FromDuration(requested)
	} else {
		if requested == 0 {
			return Done(0)
		}
		deadline = now.Add(requested)
	}
	if !deadline.After(now) {
		return Done(0)
	}
	cond := blocking.New(blocking.Trigger{}, false, deadline)
	return Blocked(cond, true)
}

func readTimespec(ctx *Context, ptr uintptr) (unix.Timespec, error) {
	b, err := ctx.Mem.Read(ptr, 16)
	if err != nil {
		return unix.Timespec{}, err
	}
	return unix.Timespec{Sec: getInt64(b[0:8]), Nsec: getInt64(b[8:16])}, nil
}

func writeTimespec(ctx *Context, ptr uintptr, ts unix.Timespec) error {
	b := make([]byte, 16)
	putInt64(b[0:8], ts.Sec)
	putInt64(b[8:16], ts.Nsec)
	return ctx.Mem.Write(ptr, b)
}

func writeTimeval(ctx *Context, ptr uintptr, tv unix.Timeval) error {
	b := make([]byte, 16)
	putInt64(b[0:8], tv.Sec)
	putInt64(b[8:16], int64(tv.Usec))
	return ctx.Mem.Write(ptr, b)
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}

func getInt64(b []byte) int64 {
	var u uint64
	for i := 0; i < 8; i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	return int64(u)
}

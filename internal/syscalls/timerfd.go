package syscalls

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/shadow-sim/shadow/internal/simevent"
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/vtime"
)

// TimerFDSyscalls registers the timerfd_create/settime/gettime family of
// spec.md §4.10. Expirations are drained through read(2), special-cased by
// doRead in file.go.
func (h *Handlers) TimerFDSyscalls() map[int64]Handler {
	return map[int64]Handler{
		unix.SYS_TIMERFD_CREATE:  h.timerfdCreate,
		unix.SYS_TIMERFD_SETTIME: h.timerfdSettime,
		unix.SYS_TIMERFD_GETTIME: h.timerfdGettime,
	}
}

// readTimerFD implements read(2) on a timerfd descriptor: an 8-byte
// expiration count, or a block on READABLE if none have accrued yet.
func readTimerFD(tf *simhost.TimerFD, ctx *Context, fd int, bufPtr uintptr) Result {
	n, ok := tf.ReadExpirations()
	if !ok {
		return blockOnReadable(ctx, fd)
	}
	b := make([]byte, 8)
	putInt64(b, int64(n))
	if err := ctx.Mem.Write(bufPtr, b); err != nil {
		return Errno(unix.EFAULT)
	}
	return Done(8)
}

func (h *Handlers) timerfdCreate(ctx *Context) Result {
	tf := simhost.NewTimerFD()
	handle := ctx.Host.Descs.Insert(tf)
	return Done(int64(handle.FD))
}

func (h *Handlers) timerfdSettime(ctx *Context) Result {
	fd := int(int32(ctx.Args[0]))
	flags := int(ctx.Args[1])
	newValuePtr := uintptr(ctx.Args[2])
	oldValuePtr := uintptr(ctx.Args[3])

	desc, ok := ctx.Host.Descs.Lookup(fd)
	if !ok {
		return Errno(unix.EBADF)
	}
	tf, ok := desc.(*simhost.TimerFD)
	if !ok {
		return Errno(unix.EINVAL)
	}

	if oldValuePtr != 0 {
		if err := writeItimerspec(ctx, oldValuePtr, tf.Deadline(), tf.Interval(), ctx.Host.Queue.LocalNow()); err != nil {
			return Errno(unix.EFAULT)
		}
	}

	interval, value, err := readItimerspec(ctx, newValuePtr)
	if err != nil {
		return Errno(unix.EFAULT)
	}

	if value == 0 {
		tf.Disarm()
		return Done(0)
	}

	now := ctx.Host.Queue.LocalNow()
	var deadline vtime.Time
	if flags&unix.TFD_TIMER_ABSTIME != 0 {
		deadline = vtime.FromDuration(value)
	} else {
		deadline = now.Add(value)
	}
	tf.Arm(deadline, vtime.FromDuration(interval))
	scheduleTimerFDFire(ctx, tf, deadline)
	return Done(0)
}

// scheduleTimerFDFire pushes a callback event at deadline that invokes
// tf.Fire and, if the timer is periodic, reschedules itself for the next
// interval — mirroring how internal/blocking registers deadline callbacks.
func scheduleTimerFDFire(ctx *Context, tf *simhost.TimerFD, deadline vtime.Time) {
	var again func()
	again = func() {
		if tf.Deadline() != deadline {
			// Disarmed or re-armed since this callback was scheduled.
			return
		}
		tf.Fire(ctx.Host.Queue.LocalNow())
		if next := tf.Deadline(); next.IsValid() {
			deadline = next
			ctx.Host.Queue.Push(simevent.Event{
				Time:    next,
				Payload: simevent.Callback{Action: again},
			})
		}
	}
	ctx.Host.Queue.Push(simevent.Event{
		Time:    deadline,
		Payload: simevent.Callback{Action: again},
	})
}

func (h *Handlers) timerfdGettime(ctx *Context) Result {
	fd := int(int32(ctx.Args[0]))
	curValuePtr := uintptr(ctx.Args[1])

	desc, ok := ctx.Host.Descs.Lookup(fd)
	if !ok {
		return Errno(unix.EBADF)
	}
	tf, ok := desc.(*simhost.TimerFD)
	if !ok {
		return Errno(unix.EINVAL)
	}
	if err := writeItimerspec(ctx, curValuePtr, tf.Deadline(), tf.Interval(), ctx.Host.Queue.LocalNow()); err != nil {
		return Errno(unix.EFAULT)
	}
	return Done(0)
}

// readItimerspec decodes struct itimerspec { interval, value timespec }
// (32 bytes: two 16-byte timespecs), returning both as relative durations.
func readItimerspec(ctx *Context, ptr uintptr) (interval, value time.Duration, err error) {
	intervalTS, err := readTimespec(ctx, ptr)
	if err != nil {
		return 0, 0, err
	}
	valueTS, err := readTimespec(ctx, ptr+16)
	if err != nil {
		return 0, 0, err
	}
	interval, ierr := vtime.FromTimespec(intervalTS)
	if ierr != nil {
		return 0, 0, ierr
	}
	value, verr := vtime.FromTimespec(valueTS)
	if verr != nil {
		return 0, 0, verr
	}
	return interval, value, nil
}

// writeItimerspec renders the current arm state as struct itimerspec: the
// interval first, then the remaining time until deadline (clamped to 0 if
// disarmed or already past).
func writeItimerspec(ctx *Context, ptr uintptr, deadline, interval vtime.Time, now vtime.Time) error {
	var remaining time.Duration
	if deadline.IsValid() && deadline.After(now) {
		remaining = now.Duration(deadline)
	}
	if err := writeTimespec(ctx, ptr, vtime.ToTimespec(interval)); err != nil {
		return err
	}
	return writeTimespec(ctx, ptr+16, vtime.ToTimespec(vtime.FromDuration(remaining)))
}

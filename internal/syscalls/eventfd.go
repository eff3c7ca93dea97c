package syscalls

import (
	"golang.org/x/sys/unix"

	"github.com/shadow-sim/shadow/internal/blocking"
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/vtime"
)

// EventFDSyscalls registers eventfd(2)'s constructor; the descriptor it
// returns is read and written through read(2)/write(2), special-cased by
// doRead/doWrite in file.go for the 8-byte counter semantics.
func (h *Handlers) EventFDSyscalls() map[int64]Handler {
	return map[int64]Handler{
		unix.SYS_EVENTFD2: h.eventfd2,
	}
}

func (h *Handlers) eventfd2(ctx *Context) Result {
	initval := uint32(ctx.Args[0])
	flags := int(ctx.Args[1])
	semFlag := flags&unix.EFD_SEMAPHORE != 0

	ev := simhost.NewEventFD(uint64(initval), semFlag)
	handle := ctx.Host.Descs.Insert(ev)
	return Done(int64(handle.FD))
}

// readEventFD implements read(2) on an eventfd descriptor: an 8-byte
// counter value, or a block on the descriptor's READABLE bit if the
// counter currently reads 0.
func readEventFD(ctx *Context, fd int, ev *simhost.EventFD, bufPtr uintptr) Result {
	v, ok := ev.Read()
	if !ok {
		return blockOnReadable(ctx, fd)
	}
	b := make([]byte, 8)
	putInt64(b, int64(v))
	if err := ctx.Mem.Write(bufPtr, b); err != nil {
		return Errno(unix.EFAULT)
	}
	return Done(8)
}

// writeEventFD implements write(2) on an eventfd descriptor: adds the
// 8-byte value read from bufPtr to the counter.
func writeEventFD(ctx *Context, ev *simhost.EventFD, bufPtr uintptr) Result {
	b, err := ctx.Mem.Read(bufPtr, 8)
	if err != nil {
		return Errno(unix.EFAULT)
	}
	v := uint64(getInt64(b))
	if werr := ev.Write(v); werr != nil {
		return Errno(unix.EAGAIN)
	}
	return Done(8)
}

// blockOnReadable suspends the calling syscall until fd's READABLE bit is
// set, with no deadline.
func blockOnReadable(ctx *Context, fd int) Result {
	handle, ok := ctx.Host.Descs.HandleFor(fd)
	if !ok {
		return Errno(unix.EBADF)
	}
	trig := blocking.Trigger{Handle: handle, Mask: simhost.READABLE}
	cond := blocking.New(trig, true, vtime.Invalid)
	return Blocked(cond, true)
}

package syscalls

import (
	"math"
	"time"

	"golang.org/x/sys/unix"

	"github.com/shadow-sim/shadow/internal/blocking"
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/vtime"
)

// PollSyscalls registers spec.md §4.7's readiness-multiplexing handlers:
// poll, ppoll, the epoll_create/ctl/wait family. Each blocks, when
// necessary, on the target descriptor's status bits via blocking.Condition
// rather than ever parking the calling worker thread.
func (h *Handlers) PollSyscalls() map[int64]Handler {
	return map[int64]Handler{
		unix.SYS_POLL:          h.poll,
		unix.SYS_PPOLL:         h.ppoll,
		unix.SYS_EPOLL_CREATE1: h.epollCreate1,
		unix.SYS_EPOLL_CTL:     h.epollCtl,
		unix.SYS_EPOLL_WAIT:    h.epollWait,
		unix.SYS_EPOLL_PWAIT:   h.epollWait,
	}
}

// pollfd mirrors struct pollfd's wire layout: fd (int32), events (int16),
// revents (int16), packed into 8 bytes.
type pollfd struct {
	fd      int32
	events  int16
	revents int16
}

const pollfdSize = 8

func readPollfds(ctx *Context, ptr uintptr, n int) ([]pollfd, error) {
	buf, err := ctx.Mem.Read(ptr, n*pollfdSize)
	if err != nil {
		return nil, err
	}
	out := make([]pollfd, n)
	for i := 0; i < n; i++ {
		off := i * pollfdSize
		out[i] = pollfd{
			fd:     int32(le32(buf[off : off+4])),
			events: int16(le32(buf[off+4 : off+6])),
		}
	}
	return out, nil
}

func writePollfds(ctx *Context, ptr uintptr, fds []pollfd) error {
	buf := make([]byte, len(fds)*pollfdSize)
	for i, pf := range fds {
		off := i * pollfdSize
		putLE32(buf[off:off+4], uint32(pf.fd))
		putLE16(buf[off+4:off+6], uint16(pf.events))
		putLE16(buf[off+6:off+8], uint16(pf.revents))
	}
	return ctx.Mem.Write(ptr, buf)
}

func le32(b []byte) uint32 {
	var v uint32
	for i := 0; i < len(b) && i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}

func putLE32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// pollEventsToStatus translates POSIX POLLIN/POLLOUT/POLLERR/POLLHUP bits
// into the descriptor's native Status mask.
func pollEventsToStatus(events int16) simhost.Status {
	var mask simhost.Status
	if events&unix.POLLIN != 0 {
		mask |= simhost.READABLE
	}
	if events&unix.POLLOUT != 0 {
		mask |= simhost.WRITABLE
	}
	if events&unix.POLLERR != 0 {
		mask |= simhost.ERR
	}
	if events&unix.POLLHUP != 0 {
		mask |= simhost.HUP
	}
	return mask
}

func statusToPollRevents(status simhost.Status) int16 {
	var r int16
	if status.Any(simhost.READABLE) {
		r |= unix.POLLIN
	}
	if status.Any(simhost.WRITABLE) {
		r |= unix.POLLOUT
	}
	if status.Any(simhost.ERR) {
		r |= unix.POLLERR
	}
	if status.Any(simhost.HUP) {
		r |= unix.POLLHUP
	}
	return r
}

func (h *Handlers) poll(ctx *Context) Result {
	timeoutMS := int64(int32(ctx.Args[2]))
	var d time.Duration = -1
	if timeoutMS >= 0 {
		d = time.Duration(timeoutMS) * time.Millisecond
	}
	return h.doPoll(ctx, uintptr(ctx.Args[0]), int(ctx.Args[1]), d)
}

func (h *Handlers) ppoll(ctx *Context) Result {
	d := time.Duration(-1)
	if ptr := uintptr(ctx.Args[2]); ptr != 0 {
		ts, err := readTimespec(ctx, ptr)
		if err != nil {
			return Errno(unix.EFAULT)
		}
		parsed, derr := vtime.FromTimespec(ts)
		if derr != nil {
			return Errno(unix.EINVAL)
		}
		d = parsed
	}
	return h.doPoll(ctx, uintptr(ctx.Args[0]), int(ctx.Args[1]), d)
}

// doPoll evaluates every pollfd's readiness synchronously against the
// descriptor table; if none are ready and a nonzero timeout remains, it
// blocks on the first fd with a nonempty interest mask. True any-of-N
// blocking across multiple descriptors is epoll's job, not poll's, per
// SPEC_FULL.md's §4.7 note — a caller polling many fds for real concurrency
// should use epoll instead.
func (h *Handlers) doPoll(ctx *Context, ptr uintptr, nfds int, timeout time.Duration) Result {
	if nfds > math.MaxInt32 {
		return Errno(unix.EINVAL)
	}
	fds, err := readPollfds(ctx, ptr, nfds)
	if err != nil {
		return Errno(unix.EFAULT)
	}

	ready := 0
	for i := range fds {
		desc, ok := ctx.Host.Descs.Lookup(int(fds[i].fd))
		if !ok {
			fds[i].revents = unix.POLLNVAL
			ready++
			continue
		}
		mask := pollEventsToStatus(fds[i].events)
		if desc.Status()&mask != 0 {
			fds[i].revents = statusToPollRevents(desc.Status())
			ready++
		}
	}

	if ready > 0 || timeout == 0 {
		if err := writePollfds(ctx, ptr, fds); err != nil {
			return Errno(unix.EFAULT)
		}
		return Done(int64(ready))
	}

	deadline := vtime.Invalid
	if timeout > 0 {
		deadline = ctx.Host.Queue.LocalNow().Add(timeout)
	}

	for i := range fds {
		handle, ok := ctx.Host.Descs.HandleFor(int(fds[i].fd))
		if !ok {
			continue
		}
		mask := pollEventsToStatus(fds[i].events)
		if mask == 0 {
			continue
		}
		trig := blocking.Trigger{Handle: handle, Mask: mask}
		cond := blocking.New(trig, true, deadline)
		return Blocked(cond, true)
	}

	cond := blocking.New(blocking.Trigger{}, false, deadline)
	return Blocked(cond, true)
}

func (h *Handlers) epollCreate1(ctx *Context) Result {
	ep := simhost.NewEpoll(ctx.Host.Descs)
	handle := ctx.Host.Descs.Insert(ep)
	return Done(int64(handle.FD))
}

func (h *Handlers) epollCtl(ctx *Context) Result {
	epfd := int(int32(ctx.Args[0]))
	op := int(ctx.Args[1])
	fd := int(int32(ctx.Args[2]))

	desc, ok := ctx.Host.Descs.Lookup(epfd)
	if !ok {
		return Errno(unix.EBADF)
	}
	ep, ok := desc.(*simhost.Epoll)
	if !ok {
		return Errno(unix.EINVAL)
	}

	var mask simhost.Status
	if evPtr := uintptr(ctx.Args[3]); evPtr != 0 && op != unix.EPOLL_CTL_DEL {
		buf, rerr := ctx.Mem.Read(evPtr, 4)
		if rerr != nil {
			return Errno(unix.EFAULT)
		}
		mask = pollEventsToStatus(int16(le32(buf)))
	}

	var operr error
	switch op {
	case unix.EPOLL_CTL_ADD:
		operr = ep.Add(fd, mask)
	case unix.EPOLL_CTL_MOD:
		operr = ep.Mod(fd, mask)
	case unix.EPOLL_CTL_DEL:
		operr = ep.Del(fd)
	default:
		return Errno(unix.EINVAL)
	}
	if operr != nil {
		return Errno(unix.EINVAL)
	}
	return Done(0)
}

func (h *Handlers) epollWait(ctx *Context) Result {
	epfd := int(int32(ctx.Args[0]))
	eventsPtr := uintptr(ctx.Args[1])
	maxEvents := int(ctx.Args[2])
	timeoutMS := int64(int32(ctx.Args[3]))

	desc, ok := ctx.Host.Descs.Lookup(epfd)
	if !ok {
		return Errno(unix.EBADF)
	}
	ep, ok := desc.(*simhost.Epoll)
	if !ok {
		return Errno(unix.EINVAL)
	}

	ready := ep.Wait(maxEvents)
	if len(ready) > 0 || timeoutMS == 0 {
		if err := writeEpollEvents(ctx, eventsPtr, ready); err != nil {
			return Errno(unix.EFAULT)
		}
		return Done(int64(len(ready)))
	}

	deadline := vtime.Invalid
	if timeoutMS > 0 {
		deadline = ctx.Host.Queue.LocalNow().Add(time.Duration(timeoutMS) * time.Millisecond)
	}
	handle, _ := ctx.Host.Descs.HandleFor(epfd)
	trig := blocking.Trigger{Handle: handle, Mask: simhost.READABLE}
	cond := blocking.New(trig, true, deadline)
	return Blocked(cond, true)
}

// epollEventSize matches struct epoll_event's packed x86-64 layout: a
// 4-byte events field followed by an 8-byte epoll_data_t union, of which
// only the low 4 bytes (the watched fd) are populated here.
const epollEventSize = 12

func writeEpollEvents(ctx *Context, ptr uintptr, ready []simhost.ReadyEvent) error {
	buf := make([]byte, len(ready)*epollEventSize)
	for i, r := range ready {
		off := i * epollEventSize
		putLE32(buf[off:off+4], statusToEpollEvents(r.Status))
		putLE32(buf[off+4:off+8], uint32(r.FD))
	}
	return ctx.Mem.Write(ptr, buf)
}

func statusToEpollEvents(status simhost.Status) uint32 {
	var e uint32
	if status.Any(simhost.READABLE) {
		e |= unix.EPOLLIN
	}
	if status.Any(simhost.WRITABLE) {
		e |= unix.EPOLLOUT
	}
	if status.Any(simhost.ERR) {
		e |= unix.EPOLLERR
	}
	if status.Any(simhost.HUP) {
		e |= unix.EPOLLHUP
	}
	return e
}

// Package syscalls implements spec.md §4.4's dispatch layer: a table of
// syscall numbers to handlers, where each handler returns Done, Blocked,
// or Native, and integrates blocking waits with internal/blocking against
// virtual time.
package syscalls

import (
	"golang.org/x/sys/unix"

	"github.com/shadow-sim/shadow/internal/blocking"
	"github.com/shadow-sim/shadow/internal/memview"
	"github.com/shadow-sim/shadow/internal/simhost"
)

// Outcome tags the three shapes a handler's Result may take, per
// spec.md §4.4.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeBlocked
	OutcomeNative
)

// Result is what every Handler returns.
type Result struct {
	Outcome Outcome
	// Value is the syscall return value when Outcome is OutcomeDone;
	// negative values in [-4095,-1] denote -errno per the x86-64 ABI.
	Value int64
	// Condition is set when Outcome is OutcomeBlocked.
	Condition *blocking.Condition
	// SARestart reports whether, if interrupted by a signal while
	// blocked, this syscall should be transparently re-invoked
	// (SA_RESTART) rather than return -EINTR.
	SARestart bool
	// NativeFD is set when Outcome is OutcomeNative and the native call
	// needs to operate on a descriptor Shadow itself opened (e.g. mmap of
	// a simhost.RegularFile), rather than one already live in the managed
	// process. It carries the simulator-side OS fd; a ProcessLauncher must
	// re-open it as /proc/<simulator-pid>/fd/<NativeFD> inside the managed
	// process before issuing the real syscall, per spec.md §4.9. -1 when
	// the native call needs no such remap (anonymous mmap, mprotect, ...).
	NativeFD int
}

// Done returns a final, successful (or raw) result value.
func Done(v int64) Result { return Result{Outcome: OutcomeDone, Value: v} }

// Errno returns a final result encoding -errno, per the x86-64 ABI.
func Errno(errno unix.Errno) Result { return Result{Outcome: OutcomeDone, Value: -int64(errno)} }

// Blocked suspends the calling thread on cond until it resolves.
func Blocked(cond *blocking.Condition, saRestart bool) Result {
	return Result{Outcome: OutcomeBlocked, Condition: cond, SARestart: saRestart}
}

// Native defers to the real kernel: used for pure computation,
// memory-management syscalls Shadow does not virtualize, and explicitly
// whitelisted calls, per spec.md §4.4.
func Native() Result { return Result{Outcome: OutcomeNative, NativeFD: -1} }

// NativeRemapFD defers to the real kernel like Native, but additionally
// tells the launcher which simulator-side fd the call's target path needs
// to be re-resolved against before the native call runs, per spec.md
// §4.9's regular-file mmap handshake.
func NativeRemapFD(fd int) Result { return Result{Outcome: OutcomeNative, NativeFD: fd} }

// Context is everything a Handler needs to service one syscall: the
// issuing host/process/thread, the raw 6-register argument convention,
// and the memory view used to marshal pointers.
type Context struct {
	Host     *simhost.Host
	Process  *simhost.Process
	ThreadID uint64
	Number   int64
	Args     [6]uint64
	Mem      memview.View
}

// Handler services one syscall number. Handlers must never block the
// calling worker thread; any wait is expressed by returning Blocked.
type Handler func(ctx *Context) Result

// Dispatcher is the syscall-number → Handler routing table.
type Dispatcher struct {
	handlers map[int64]Handler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[int64]Handler)}
}

// Register installs h for syscall number num, overwriting any prior
// registration (used by tests to stub individual calls).
func (d *Dispatcher) Register(num int64, h Handler) {
	d.handlers[num] = h
}

// RegisterAll installs every (number, handler) pair in m.
func (d *Dispatcher) RegisterAll(m map[int64]Handler) {
	for num, h := range m {
		d.Register(num, h)
	}
}

// BuildDispatcher assembles a Dispatcher carrying every handler family this
// package implements, wired against h's configuration. Callers that need
// to stub or override individual syscalls can still call Register after
// this to replace entries.
func BuildDispatcher(h *Handlers) *Dispatcher {
	d := NewDispatcher()
	d.RegisterAll(h.FileSyscalls())
	d.RegisterAll(h.FSSyscalls())
	d.RegisterAll(h.TimeSyscalls())
	d.RegisterAll(h.PollSyscalls())
	d.RegisterAll(h.EventFDSyscalls())
	d.RegisterAll(h.TimerFDSyscalls())
	d.RegisterAll(h.MemorySyscalls())
	d.RegisterAll(h.SocketSyscalls())
	return d
}

// Dispatch routes ctx to its registered handler, or returns -ENOSYS if
// the syscall number carries no registration, per spec.md §4.4's
// "Unsupported syscalls ... return -ENOSYS" fallback.
func (d *Dispatcher) Dispatch(ctx *Context) Result {
	h, ok := d.handlers[ctx.Number]
	if !ok {
		return Errno(unix.ENOSYS)
	}
	return h(ctx)
}

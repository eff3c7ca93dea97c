package worker

import (
	"go.uber.org/zap"

	"github.com/shadow-sim/shadow/internal/blocking"
	"github.com/shadow-sim/shadow/internal/metrics"
	"github.com/shadow-sim/shadow/internal/simevent"
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/syscalls"
	"github.com/shadow-sim/shadow/internal/vtime"
)

// ProcessLauncher is the external seam spec.md §1 calls out: actually
// starting and stopping a managed process (ptrace attach, seccomp
// filter install, shared-memory IPC channel) lives outside this kernel.
// internal/worker only needs to be able to launch one, hand it its syscall
// results, and ask it to stop.
type ProcessLauncher interface {
	// Launch starts name (with args) as a new managed process attached to
	// host, returning the process record the kernel tracks it under.
	Launch(host *simhost.Host, name string, args []string) (*simhost.Process, error)
	// Resume hands a syscall's resolved result back to the managed
	// process's blocked thread, letting it continue execution.
	Resume(proc *simhost.Process, threadID uint64, result syscalls.Result)
	// Terminate stops proc, releasing any launcher-owned resources.
	Terminate(proc *simhost.Process) error
}

// StartApplication is the event payload that asks a worker to launch a
// managed process, per spec.md §4.11's scenario-driven lifecycle.
type StartApplication struct {
	Name string
	Args []string
}

// Kind implements simevent.Payload.
func (StartApplication) Kind() simevent.Kind { return simevent.KindStartApplication }

// StopApplication is the event payload that asks a worker to terminate a
// previously started managed process.
type StopApplication struct {
	PID int
}

// Kind implements simevent.Payload.
func (StopApplication) Kind() simevent.Kind { return simevent.KindStopApplication }

// pendingSyscall is a blocked syscall awaiting its condition's resolution.
type pendingSyscall struct {
	proc *simhost.Process
	ctx  *syscalls.Context
}

// Worker drives a single host's event loop for one scheduling round: it
// owns that host's blocking engine and the table of syscalls currently
// suspended on a Condition, per spec.md §4.3/§5.
//
// A Worker must only ever be driven by the goroutine internal/scheduler
// assigns it; it holds no internal locking.
type Worker struct {
	host     *simhost.Host
	net      *HostNetwork
	dispatch *syscalls.Dispatcher
	blocking *blocking.Engine
	launcher ProcessLauncher
	log      *zap.SugaredLogger

	pending map[uint64]*pendingSyscall // keyed by threadID
}

// New returns a Worker for host, wired to its own network seam, syscall
// dispatcher, and blocking engine.
func New(host *simhost.Host, net *HostNetwork, dispatch *syscalls.Dispatcher, launcher ProcessLauncher, log *zap.SugaredLogger) *Worker {
	return &Worker{
		host:     host,
		net:      net,
		dispatch: dispatch,
		blocking: blocking.NewEngine(host.Descs, host.Queue),
		launcher: launcher,
		log:      log,
		pending:  make(map[uint64]*pendingSyscall),
	}
}

// Host returns the host this worker drives.
func (w *Worker) Host() *simhost.Host { return w.host }

// RunUntil drains the host's mailbox and processes every local event whose
// time is at or before horizon, advancing the host's clock as it goes.
// This is the unit of work internal/scheduler invokes once per host per
// round, per spec.md §5's "one host per worker per round".
func (w *Worker) RunUntil(horizon vtime.Time) {
	w.host.DrainMailbox()
	for w.host.Queue.Len() > 0 && !w.host.Queue.PeekTime().After(horizon) {
		e := w.host.Queue.Pop()
		w.handle(e)
		metrics.EventsProcessed.Inc()
	}
	// An idle host (no pending event before horizon) still has its clock
	// advanced to horizon, so the scheduler's min_over_hosts(local_now)
	// converges on busier hosts' progress instead of stalling on it.
	w.host.Queue.AdvanceTo(horizon)
	metrics.HostQueueDepth.WithLabelValues(w.host.Name).Set(float64(w.host.Queue.Len()))
}

func (w *Worker) handle(e simevent.Event) {
	switch p := e.Payload.(type) {
	case simevent.Callback:
		p.Action()
	case PacketArrived:
		w.net.Deliver(p.Packet)
	case StartApplication:
		w.startApplication(p)
	case StopApplication:
		w.stopApplication(p)
	default:
		w.log.Warnw("worker: unhandled event kind", "kind", e.Payload.Kind(), "host", w.host.Name)
	}
}

func (w *Worker) startApplication(p StartApplication) {
	proc, err := w.launcher.Launch(w.host, p.Name, p.Args)
	if err != nil {
		w.log.Errorw("worker: failed to launch application", "host", w.host.Name, "name", p.Name, "error", err)
		return
	}
	w.host.Processes = append(w.host.Processes, proc)
}

func (w *Worker) stopApplication(p StopApplication) {
	for i, proc := range w.host.Processes {
		if proc.PID != p.PID {
			continue
		}
		if err := w.launcher.Terminate(proc); err != nil {
			w.log.Errorw("worker: failed to terminate application", "host", w.host.Name, "pid", p.PID, "error", err)
		}
		w.host.Processes = append(w.host.Processes[:i], w.host.Processes[i+1:]...)
		return
	}
}

// HandleSyscall is what a ProcessLauncher implementation calls synchronously
// the moment it intercepts a syscall from one of its managed threads. It
// dispatches through the syscall table; if the result blocks, it registers
// a Condition against this host's blocking engine and returns immediately
// without resuming the thread — the launcher gets the result later via
// ProcessLauncher.Resume, once the condition wakes.
func (w *Worker) HandleSyscall(proc *simhost.Process, threadID uint64, ctx *syscalls.Context) {
	res := w.dispatch.Dispatch(ctx)
	if res.Outcome != syscalls.OutcomeBlocked {
		w.launcher.Resume(proc, threadID, res)
		return
	}

	w.pending[threadID] = &pendingSyscall{proc: proc, ctx: ctx}
	w.blocking.Register(res.Condition, w.host.Queue.LocalNow(), func(*blocking.Condition) {
		w.onWake(threadID)
	})
}

// onWake re-checks the originally blocked syscall's preconditions by
// re-dispatching it, per spec.md §4.3's "spurious wakeups are legal"
// rule: a resolved condition does not guarantee the syscall can now
// complete, only that it is worth trying again.
func (w *Worker) onWake(threadID uint64) {
	p, ok := w.pending[threadID]
	if !ok {
		return
	}
	delete(w.pending, threadID)

	res := w.dispatch.Dispatch(p.ctx)
	if res.Outcome == syscalls.OutcomeBlocked {
		w.pending[threadID] = p
		w.blocking.Register(res.Condition, w.host.Queue.LocalNow(), func(*blocking.Condition) {
			w.onWake(threadID)
		})
		return
	}
	w.launcher.Resume(p.proc, threadID, res)
}

package worker

import (
	"fmt"

	"github.com/shadow-sim/shadow/internal/memview"
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/syscalls"
)

// LoopbackApp models a managed application's entire execution as a
// synchronous state machine rather than a free-running thread. Given the
// previous syscall's result, it returns the next syscall to issue, or
// reports it has nothing left to do. This gives a Worker the same
// intercept-and-resume shape real ptrace provides, without requiring a
// goroutine (and the cross-goroutine synchronization that would demand,
// since a Worker is only ever safe to drive from one goroutine at a
// time) per spec.md §1's ptrace/shared-memory mechanics being out of
// scope.
type LoopbackApp interface {
	// Start returns the first syscall to issue, given the memory view
	// backing this process's fake address space.
	Start(mem memview.View) (num int64, args [6]uint64)
	// Next is handed the previous syscall's return value (already
	// resolved: -errno on failure, per the x86-64 ABI) and returns the
	// next syscall, or done=true once there is nothing further to do.
	Next(result int64) (num int64, args [6]uint64, done bool)
}

// LoopbackAppFactory constructs a fresh LoopbackApp instance per launch,
// so the same bundled application can be started on multiple hosts.
type LoopbackAppFactory func(args []string) LoopbackApp

type loopbackThread struct {
	app  LoopbackApp
	host *simhost.Host
	mem  memview.View
}

// LoopbackLauncher implements ProcessLauncher by driving a registered
// LoopbackApp's state machine directly from the owning Worker's own
// goroutine, in place of the real ptrace/shared-memory interception
// spec.md §1 scopes out. Used by cmd/shadow to run its bundled
// echo-server/echo-client apps, and by cmd/shadow's end-to-end test.
type LoopbackLauncher struct {
	worker  *Worker
	apps    map[string]LoopbackAppFactory
	threads map[uint64]*loopbackThread
	nextPID int
}

// NewLoopbackLauncher returns a launcher that can start any of apps by
// name (the StartApplication event's Name field).
func NewLoopbackLauncher(apps map[string]LoopbackAppFactory) *LoopbackLauncher {
	return &LoopbackLauncher{apps: apps, threads: make(map[uint64]*loopbackThread)}
}

// Bind attaches the Worker that will service this launcher's syscalls.
// Must be called once, after the Worker is constructed — the two have a
// circular dependency, since the worker needs a launcher at construction
// time and the launcher needs the worker to dispatch syscalls through.
func (l *LoopbackLauncher) Bind(w *Worker) { l.worker = w }

// Launch starts app's state machine, synchronously dispatching its first
// syscall through the bound Worker.
func (l *LoopbackLauncher) Launch(host *simhost.Host, name string, args []string) (*simhost.Process, error) {
	factory, ok := l.apps[name]
	if !ok {
		return nil, fmt.Errorf("worker: no bundled application named %q", name)
	}
	l.nextPID++
	pid := l.nextPID
	threadID := uint64(pid)

	app := factory(args)
	mem := memview.NewLoopbackView(64 * 1024)
	l.threads[threadID] = &loopbackThread{app: app, host: host, mem: mem}

	proc := &simhost.Process{PID: pid, Name: name, Started: host.Queue.LocalNow()}
	num, sargs := app.Start(mem)
	ctx := &syscalls.Context{Host: host, Process: proc, ThreadID: threadID, Number: num, Args: sargs, Mem: mem}
	l.worker.HandleSyscall(proc, threadID, ctx)
	return proc, nil
}

// Resume delivers a resolved syscall result back to the application's
// state machine and, if it has more work to do, dispatches its next
// syscall — all synchronously, on whichever goroutine called Resume
// (always the owning Worker's own goroutine, either directly from
// HandleSyscall or later from a blocking condition's wake callback).
func (l *LoopbackLauncher) Resume(proc *simhost.Process, threadID uint64, result syscalls.Result) {
	st, ok := l.threads[threadID]
	if !ok {
		return
	}

	// Native results have no emulated return value to hand back; the
	// loopback model has no real kernel to execute them against, so it
	// treats them as a successful no-op.
	val := result.Value
	if result.Outcome == syscalls.OutcomeNative {
		val = 0
	}

	num, args, done := st.app.Next(val)
	if done {
		delete(l.threads, threadID)
		return
	}
	ctx := &syscalls.Context{Host: st.host, Process: proc, ThreadID: threadID, Number: num, Args: args, Mem: st.mem}
	l.worker.HandleSyscall(proc, threadID, ctx)
}

// Terminate drops the application's state machine; the loopback model
// holds no OS-level resources to release.
func (l *LoopbackLauncher) Terminate(proc *simhost.Process) error {
	delete(l.threads, uint64(proc.PID))
	return nil
}

package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shadow-sim/shadow/internal/simevent"
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/syscalls"
	"github.com/shadow-sim/shadow/internal/vtime"
)

type fakeLauncher struct {
	launched    []string
	terminated  []int
	resumes     []syscalls.Result
	nextPID     int
}

func (f *fakeLauncher) Launch(host *simhost.Host, name string, args []string) (*simhost.Process, error) {
	f.nextPID++
	f.launched = append(f.launched, name)
	return &simhost.Process{PID: f.nextPID, Name: name, Started: host.Queue.LocalNow()}, nil
}

func (f *fakeLauncher) Resume(proc *simhost.Process, threadID uint64, result syscalls.Result) {
	f.resumes = append(f.resumes, result)
}

func (f *fakeLauncher) Terminate(proc *simhost.Process) error {
	f.terminated = append(f.terminated, proc.PID)
	return nil
}

func newTestWorker(t *testing.T) (*Worker, *simhost.Host, *fakeLauncher) {
	t.Helper()
	host := simhost.New(1, "h", "/tmp", simhost.Bandwidth{})
	launcher := &fakeLauncher{}
	w := New(host, nil, syscalls.NewDispatcher(), launcher, zap.NewNop().Sugar())
	return w, host, launcher
}

func TestRunUntilProcessesCallbackAndAdvancesClock(t *testing.T) {
	w, host, _ := newTestWorker(t)

	ran := false
	host.Queue.Push(simevent.Event{
		Time:    vtime.FromDuration(5 * time.Millisecond),
		Payload: simevent.Callback{Action: func() { ran = true }},
	})

	w.RunUntil(vtime.FromDuration(10 * time.Millisecond))

	assert.True(t, ran)
	assert.Equal(t, vtime.FromDuration(10*time.Millisecond), host.Queue.LocalNow())
}

func TestRunUntilLaunchesAndStopsApplication(t *testing.T) {
	w, host, launcher := newTestWorker(t)

	host.Queue.Push(simevent.Event{Time: vtime.Zero, Payload: StartApplication{Name: "echo-server"}})
	w.RunUntil(vtime.Zero)
	require.Len(t, launcher.launched, 1)
	require.Len(t, host.Processes, 1)

	pid := host.Processes[0].PID
	host.Queue.Push(simevent.Event{Time: vtime.Zero, Payload: StopApplication{PID: pid}})
	w.RunUntil(vtime.Zero)

	assert.Equal(t, []int{pid}, launcher.terminated)
	assert.Empty(t, host.Processes)
}

func TestHandleSyscallResumesImmediatelyWhenDone(t *testing.T) {
	w, host, launcher := newTestWorker(t)
	w.dispatch.Register(1, func(ctx *syscalls.Context) syscalls.Result { return syscalls.Done(42) })

	proc := &simhost.Process{PID: 1}
	ctx := &syscalls.Context{Host: host, Process: proc, Number: 1}
	w.HandleSyscall(proc, 7, ctx)

	require.Len(t, launcher.resumes, 1)
	assert.Equal(t, int64(42), launcher.resumes[0].Value)
}

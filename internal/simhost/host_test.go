package simhost

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/simevent"
	"github.com/shadow-sim/shadow/internal/vtime"
)

func Test_RegistryAddAndGet(t *testing.T) {
	r := NewRegistry()
	h := New(1, "client", "/", Bandwidth{UpKbps: 1000, DownKbps: 1000})
	r.Add(h)

	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.Equal(t, 1, r.Len())
}

func Test_RegistryRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	r.Add(New(1, "a", "/", Bandwidth{}))

	assert.Panics(t, func() {
		r.Add(New(1, "b", "/", Bandwidth{}))
	})
}

func Test_HostDrainMailboxMovesEventsToQueue(t *testing.T) {
	h := New(2, "server", "/", Bandwidth{})
	h.PostRemote(simevent.Event{Time: vtime.Zero.Add(10), Payload: simevent.Callback{}})
	h.PostRemote(simevent.Event{Time: vtime.Zero.Add(20), Payload: simevent.Callback{}})

	h.DrainMailbox()

	assert.Equal(t, 2, h.Queue.Len())
}

func Test_HostRNGIsDeterministicPerID(t *testing.T) {
	a := New(42, "a", "/", Bandwidth{})
	b := New(42, "b", "/", Bandwidth{})

	assert.Equal(t, a.RNG.Int63(), b.RNG.Int63())
}

func Test_ReseedChangesStreamButStaysDeterministicPerSeed(t *testing.T) {
	a := New(7, "a", "/", Bandwidth{})
	b := New(7, "b", "/", Bandwidth{})
	c := New(7, "c", "/", Bandwidth{})
	a.Reseed(1)
	b.Reseed(1)
	c.Reseed(2)

	assert.Equal(t, a.RNG.Int63(), b.RNG.Int63())
	assert.NotEqual(t, b.RNG.Int63(), c.RNG.Int63())
}

func Test_SnapshotReflectsHostState(t *testing.T) {
	h := New(3, "worker-1", "/", Bandwidth{})
	h.Queue.Push(simevent.Event{Time: vtime.Zero.Add(5), Payload: simevent.Callback{}})
	h.Descs.Insert(newFakeDesc())
	h.Processes = append(h.Processes, &Process{PID: 100, Name: "echo-server"})

	got := h.Snapshot()
	want := Snapshot{
		ID:          3,
		Name:        "worker-1",
		LocalNow:    vtime.Zero,
		QueueLen:    1,
		Descriptors: 1,
		Processes:   1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

package simhost

import (
	"math/rand"
	"net/netip"

	"github.com/shadow-sim/shadow/internal/simevent"
	"github.com/shadow-sim/shadow/internal/vtime"
)

// ID identifies a simulated host, matching simevent.HostID.
type ID = simevent.HostID

// Bandwidth holds a host's configured up/down bandwidth floor and cap, in
// kilobits per second, used by the router's per-interface rate limiter.
type Bandwidth struct {
	UpKbps, DownKbps int64
}

// Process is a minimal record of a managed process hosted here; the
// launcher mechanics (ptrace/seccomp/shared memory) are external to this
// kernel per spec §1 and are represented by the worker.ProcessLauncher
// interface, not here.
type Process struct {
	PID     int
	Name    string
	Started vtime.Time
}

// Host owns everything spec.md §3 assigns it: a descriptor table, a
// per-host event queue, interfaces, a process list, a deterministic RNG
// seeded from the host ID, a working directory, and bandwidth settings.
//
// A Host is owned by exactly one worker goroutine per scheduling round
// (see internal/scheduler); all fields here are mutated without locking
// under that discipline.
type Host struct {
	ID         ID
	Name       string
	Addresses  []netip.Addr
	Descs      *DescriptorTable
	Queue      *simevent.Queue
	Processes  []*Process
	RNG        *rand.Rand
	WorkDir    string
	Bandwidth  Bandwidth

	// Mailbox receives events posted by other hosts (cross-host packet
	// delivery); it is the single inter-host synchronization point
	// described in spec.md §5. Buffered and drained by the owning
	// worker at the top of each round, before any local computation.
	Mailbox chan simevent.Event
}

// New constructs a Host with a RNG deterministically seeded from id, per
// spec.md §3's "deterministic RNG seeded from host ID".
func New(id ID, name, workDir string, bw Bandwidth) *Host {
	return &Host{
		ID:        id,
		Name:      name,
		Descs:     NewDescriptorTable(),
		Queue:     simevent.NewQueue(),
		RNG:       rand.New(rand.NewSource(int64(id))),
		WorkDir:   workDir,
		Bandwidth: bw,
		Mailbox:   make(chan simevent.Event, 256),
	}
}

// Reseed re-derives the host's RNG from the simulation-wide seed
// (spec.md §6's `seed` configuration key), keeping the host ID as the
// per-host stream discriminator so that two hosts under the same seed
// never share a stream, while changing seed still changes every host's
// sequence, as spec.md §8's reproducibility property requires.
func (h *Host) Reseed(seed int64) {
	h.RNG = rand.New(rand.NewSource(seed*31 + int64(h.ID)))
}

// PostRemote enqueues an event produced by another host's activity (e.g. a
// packet arrival) into this host's mailbox, for the owning worker to drain.
// It must never be called from within this host's own worker loop — local
// events go directly to Queue.Push.
func (h *Host) PostRemote(e simevent.Event) {
	h.Mailbox <- e
}

// DrainMailbox moves every pending mailbox event into the local queue.
// Called by the owning worker at the start of processing this host for a
// round, before computing the round's local minimum time.
func (h *Host) DrainMailbox() {
	for {
		select {
		case e := <-h.Mailbox:
			h.Queue.Push(e)
		default:
			return
		}
	}
}

// Snapshot is a point-in-time, loggable summary of a host's state, used
// by internal/worker's fatal-error path to record enough context to
// diagnose a simulator-internal crash without dumping live pointers.
type Snapshot struct {
	ID          ID
	Name        string
	LocalNow    vtime.Time
	QueueLen    int
	Descriptors int
	Processes   int
}

// Snapshot captures h's current state.
func (h *Host) Snapshot() Snapshot {
	return Snapshot{
		ID:          h.ID,
		Name:        h.Name,
		LocalNow:    h.Queue.LocalNow(),
		QueueLen:    h.Queue.Len(),
		Descriptors: h.Descs.Len(),
		Processes:   len(h.Processes),
	}
}

// Registry is the simulation-wide map from host ID to host state.
type Registry struct {
	hosts map[ID]*Host
	order []ID
}

// NewRegistry returns an empty host registry.
func NewRegistry() *Registry {
	return &Registry{hosts: make(map[ID]*Host)}
}

// Add registers h under h.ID. Panics on a duplicate ID, which would be an
// internal invariant violation (topology loading assigns IDs uniquely).
func (r *Registry) Add(h *Host) {
	if _, exists := r.hosts[h.ID]; exists {
		panic("simhost: duplicate host ID registered")
	}
	r.hosts[h.ID] = h
	r.order = append(r.order, h.ID)
}

// Get looks up a host by ID.
func (r *Registry) Get(id ID) (*Host, bool) {
	h, ok := r.hosts[id]
	return h, ok
}

// All returns every registered host in registration order (stable, so
// that host-partitioning across workers is deterministic across runs).
func (r *Registry) All() []*Host {
	out := make([]*Host, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.hosts[id])
	}
	return out
}

// Len reports the number of registered hosts.
func (r *Registry) Len() int { return len(r.hosts) }

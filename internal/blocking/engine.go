package blocking

import (
	"github.com/shadow-sim/shadow/internal/simevent"
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/vtime"
)

// Engine is the per-host registry of outstanding blocking conditions. It
// wires a Condition's trigger to a status listener on the target
// descriptor, and its deadline to a callback event pushed onto the host's
// event queue — the two integration points spec.md §4.3 calls out.
type Engine struct {
	table *simhost.DescriptorTable
	queue *simevent.Queue
}

// NewEngine binds the blocking engine to a single host's descriptor table
// and event queue. One Engine per Host.
func NewEngine(table *simhost.DescriptorTable, queue *simevent.Queue) *Engine {
	return &Engine{table: table, queue: queue}
}

// Register wires c's trigger (if any) as a status listener and schedules
// c's deadline (if valid) as a callback event. onWake is invoked exactly
// once, the first time the condition resolves for any reason — by a
// matching status change, by the deadline elapsing, or by explicit
// cancellation — which is what lets a resumed syscall re-check its
// preconditions per spec.md §4.3's "spurious wakeups are legal" rule.
func (e *Engine) Register(c *Condition, now vtime.Time, onWake func(*Condition)) {
	var listenerToken uint64
	var haveListener bool

	fire := func(reason Reason) {
		if trig, ok := c.Trigger(); ok && haveListener {
			if desc, ok := e.table.Resolve(trig.Handle); ok {
				desc.RemoveListener(listenerToken)
			}
		}
		onWake(c)
	}

	// Install the resolve hook (New leaves none) so that resolving also
	// removes the listener installed below. A queued deadline event is
	// not removed; its callback is a no-op once the condition resolved.
	c.onResolve = fire

	if trig, ok := c.Trigger(); ok {
		desc, ok := e.table.Resolve(trig.Handle)
		if !ok {
			// The descriptor is already gone; resolve immediately as
			// canceled rather than waiting forever.
			c.resolve(ReasonCanceled)
			return
		}
		if desc.Status()&trig.Mask != 0 {
			// Already satisfied: resolve synchronously, matching
			// epoll_wait's "returns immediately if ready" rule (§4.7).
			c.resolve(ReasonTrigger)
			return
		}
		listenerToken = desc.AddListener(simhost.Listener{
			Mask: trig.Mask,
			Notify: func(simhost.Status, simhost.Status) {
				c.resolve(ReasonTrigger)
			},
		})
		haveListener = true
	}

	if c.deadline.IsValid() {
		if c.deadline <= now {
			c.resolve(ReasonDeadline)
			return
		}
		deadline := c.deadline
		cond := c
		e.queue.Push(simevent.Event{
			Time: deadline,
			Payload: simevent.Callback{Action: func() {
				if !cond.resolved {
					cond.resolve(ReasonDeadline)
				}
			}},
		})
	}
}

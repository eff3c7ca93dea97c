package topology

import (
	"math/rand"
	"time"
)

// Decision is the outcome of routing a single packet: the latency it
// should be scheduled to arrive after, and whether it is delivered at all
// (the reliability roll).
type Decision struct {
	Latency   time.Duration
	Delivered bool
}

// Router implements spec.md §4.6: for an outbound packet from host A's
// network to host B's network, look up the edge, draw a latency sample
// using the destination's RNG (for determinism per spec.md §8), and roll
// the edge's reliability.
type Router struct {
	graph *Graph
}

// NewRouter binds a router to a topology graph.
func NewRouter(graph *Graph) *Router {
	return &Router{graph: graph}
}

// Route decides the fate of a packet from 'from' to 'to', drawing
// randomness from destRNG — which must be the destination host's RNG, per
// spec.md §4.6, so that repeated runs with the same seed reproduce the
// same sequence of draws regardless of which worker processed the sender.
func (r *Router) Route(from, to NetworkID, destRNG *rand.Rand) (Decision, bool) {
	edge, ok := r.graph.Lookup(from, to)
	if !ok {
		return Decision{}, false
	}

	latency := edge.LatencyUp.Sample(destRNG)
	delivered := destRNG.Float64() < edge.ReliabilityUp

	return Decision{Latency: latency, Delivered: delivered}, true
}

// Interface models a single host's network attachment point: a bandwidth
// cap enforced via token bucket, and a bounded drop-tail FIFO for packets
// that would otherwise exceed it, per spec.md §4.6. A packet that is
// queued rather than sent immediately does not depart until DrainQueued
// actually pops it off the bucket, so the caller must defer whatever
// "this packet left the interface" work it does (scheduling arrival,
// say) until the associated onSent callback runs — not at the moment
// Send is called.
type Interface struct {
	capacityBps int64 // bits per second
	queueCap    int
	tokens      float64 // bits currently available
	queue       []queuedSend
}

// queuedSend pairs a payload awaiting tokens with the callback to invoke
// once it actually departs.
type queuedSend struct {
	payload []byte
	onSent  func()
}

// NewInterface returns a rate-limited interface with the given bandwidth
// cap (bits/sec) and bounded outbound queue depth.
func NewInterface(capacityBps int64, queueCap int) *Interface {
	return &Interface{capacityBps: capacityBps, queueCap: queueCap}
}

// Refill advances the token bucket given an elapsed wall/virtual duration.
func (i *Interface) Refill(elapsed time.Duration) {
	i.tokens += float64(i.capacityBps) * elapsed.Seconds()
	cap := float64(i.capacityBps) // at most 1 second worth of burst
	if i.tokens > cap {
		i.tokens = cap
	}
}

// Send attempts to account for sending payload. It returns (true, false)
// if the packet may go out now (tokens were available and debited) — the
// caller should treat the packet as departed immediately. Otherwise it
// enqueues the packet onto the bounded FIFO: (false, true) if the queue is
// already full, meaning the packet is dropped tail, per spec.md §4.6; or
// (false, false) if it was queued successfully, in which case onSent is
// invoked later, from a future DrainQueued call, once tokens free up and
// the packet actually departs — onSent must do whatever the caller would
// otherwise have done right after a true Send, so that work reflects the
// packet's real departure time rather than the time it was first offered.
func (i *Interface) Send(payload []byte, onSent func()) (sent bool, dropped bool) {
	bits := float64(len(payload) * 8)
	if i.tokens >= bits {
		i.tokens -= bits
		return true, false
	}
	if len(i.queue) >= i.queueCap {
		return false, true
	}
	i.queue = append(i.queue, queuedSend{payload: payload, onSent: onSent})
	return false, false
}

// DrainQueued pops and fires the onSent callback of every queued packet
// that can now be sent given available tokens, in FIFO order, debiting
// the bucket as it goes. It returns how many packets departed.
func (i *Interface) DrainQueued() int {
	n := 0
	for len(i.queue) > 0 {
		bits := float64(len(i.queue[0].payload) * 8)
		if i.tokens < bits {
			break
		}
		i.tokens -= bits
		onSent := i.queue[0].onSent
		i.queue = i.queue[1:]
		n++
		onSent()
	}
	return n
}

// QueueLen reports how many packets are currently queued awaiting tokens.
func (i *Interface) QueueLen() int { return len(i.queue) }

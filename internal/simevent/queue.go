package simevent

import (
	"container/heap"

	"github.com/shadow-sim/shadow/internal/vtime"
)

// Queue is a single host's event queue: a priority queue on (Time, Seq)
// with FIFO tie-breaking among events scheduled for the same instant.
//
// A Queue belongs to exactly one host and must only be mutated by that
// host's owning worker (see internal/scheduler); it carries no internal
// locking.
type Queue struct {
	heap      eventHeap
	nextSeq   uint64
	localNow  vtime.Time
}

// NewQueue returns an empty queue with local_now at vtime.Zero.
func NewQueue() *Queue {
	return &Queue{}
}

// LocalNow returns the time of the last popped event or the latest time
// passed to AdvanceTo, whichever was set last, or vtime.Zero if neither
// has happened yet.
func (q *Queue) LocalNow() vtime.Time { return q.localNow }

// Len reports the number of pending events.
func (q *Queue) Len() int { return len(q.heap) }

// AdvanceTo moves local_now forward to t, letting an idle host's clock
// track the scheduler's round horizon even when it has no pending event
// to Pop. It is a no-op if t does not advance the clock, so it is always
// safe to call with the round horizon regardless of the queue's state.
func (q *Queue) AdvanceTo(t vtime.Time) {
	if t > q.localNow {
		q.localNow = t
	}
}

// Push inserts an event, assigning it the next per-host sequence number.
// It is an invariant violation to push an event with Time < LocalNow; the
// caller (the scheduler/worker, which owns the clock) must never attempt
// this, so Push panics rather than silently reordering history.
func (q *Queue) Push(e Event) {
	if e.Time.IsValid() && e.Time < q.localNow {
		panic("simevent: pushed event precedes host's local_now")
	}
	e.Seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.heap, e)
}

// PeekTime returns the time of the earliest pending event, or
// vtime.Infinite if the queue is empty.
func (q *Queue) PeekTime() vtime.Time {
	if len(q.heap) == 0 {
		return vtime.Infinite
	}
	return q.heap[0].Time
}

// Pop removes and returns the earliest pending event, advancing local_now
// to its time. Pop panics on an empty queue; callers must check Len/PeekTime
// first.
func (q *Queue) Pop() Event {
	e := heap.Pop(&q.heap).(Event)
	q.localNow = e.Time
	return e
}

type eventHeap []Event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return Less(h[i], h[j]) }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)         { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Package blocking implements the blocking-condition engine: status
// listeners that wake suspended syscalls when descriptors become ready or
// timers expire, per spec.md §4.3.
package blocking

import (
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/vtime"
)

// Trigger is an optional descriptor+mask a Condition waits on.
type Trigger struct {
	Handle simhost.Handle
	Mask   simhost.Status
}

// Reason records why a Condition resolved, so the resumed syscall can
// tell a real wake from a timeout or a signal without re-deriving it.
type Reason int

const (
	ReasonTrigger Reason = iota
	ReasonDeadline
	ReasonSignal
	ReasonCanceled
)

// Condition is the union trigger ∨ deadline ∨ signal described in
// spec.md §4.3. A Condition built with no trigger and a vtime.Invalid
// deadline never resolves on its own and exists only to be explicitly
// canceled.
type Condition struct {
	id       uint64
	trigger  *Trigger
	deadline vtime.Time
	resolved bool
	reason   Reason
	onResolve func(Reason)
}

// New constructs a condition. Either trig or deadline (or both) may be
// supplied; pass a zero Trigger{} and vtime.Invalid respectively to omit.
// The condition does nothing until passed to an Engine's Register.
func New(trig Trigger, hasTrigger bool, deadline vtime.Time) *Condition {
	c := &Condition{deadline: deadline}
	if hasTrigger {
		c.trigger = &trig
	}
	return c
}

// Resolved reports whether this condition has already fired.
func (c *Condition) Resolved() bool { return c.resolved }

// Reason returns why the condition resolved; meaningless if !Resolved().
func (c *Condition) Reason() Reason { return c.reason }

// Deadline returns the absolute virtual-time deadline, or vtime.Invalid.
func (c *Condition) Deadline() vtime.Time { return c.deadline }

// Trigger returns the descriptor trigger, if any.
func (c *Condition) Trigger() (Trigger, bool) {
	if c.trigger == nil {
		return Trigger{}, false
	}
	return *c.trigger, true
}

func (c *Condition) resolve(reason Reason) {
	if c.resolved {
		return
	}
	c.resolved = true
	c.reason = reason
	if c.onResolve != nil {
		c.onResolve(reason)
	}
}

// Cancel resolves the condition early (descriptor close, signal delivery,
// or explicit cancellation), per spec.md §5's "Cancellation & timeouts".
func (c *Condition) Cancel(reason Reason) {
	c.resolve(reason)
}

package blocking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/simevent"
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/vtime"
)

type fakeDesc struct{ *simhost.Base }

func newFakeDesc() *fakeDesc          { return &fakeDesc{simhost.NewBase(simhost.ACTIVE)} }
func (f *fakeDesc) Close() error      { f.SetStatus(simhost.CLOSED); return nil }

func Test_TriggerWakesOnMatchingStatus(t *testing.T) {
	tbl := simhost.NewDescriptorTable()
	d := newFakeDesc()
	h := tbl.Insert(d)

	q := simevent.NewQueue()
	eng := NewEngine(tbl, q)

	var woke bool
	c := New(Trigger{Handle: h, Mask: simhost.READABLE}, true, vtime.Invalid)
	eng.Register(c, vtime.Zero, func(*Condition) { woke = true })

	assert.False(t, woke)
	d.SetBits(simhost.READABLE)
	assert.True(t, woke)
	assert.Equal(t, ReasonTrigger, c.Reason())
}

func Test_AlreadySatisfiedTriggerResolvesSynchronously(t *testing.T) {
	tbl := simhost.NewDescriptorTable()
	d := newFakeDesc()
	d.SetBits(simhost.READABLE)
	h := tbl.Insert(d)

	eng := NewEngine(tbl, simevent.NewQueue())

	var woke bool
	c := New(Trigger{Handle: h, Mask: simhost.READABLE}, true, vtime.Invalid)
	eng.Register(c, vtime.Zero, func(*Condition) { woke = true })

	assert.True(t, woke)
}

func Test_DeadlineWakesViaQueueCallback(t *testing.T) {
	tbl := simhost.NewDescriptorTable()
	q := simevent.NewQueue()
	eng := NewEngine(tbl, q)

	deadline := vtime.Zero.Add(100)
	var woke bool
	c := New(Trigger{}, false, deadline)
	eng.Register(c, vtime.Zero, func(*Condition) { woke = true })

	require.Equal(t, 1, q.Len())
	ev := q.Pop()
	ev.Payload.(simevent.Callback).Action()

	assert.True(t, woke)
	assert.Equal(t, ReasonDeadline, c.Reason())
}

func Test_TriggerFiringCancelsPendingDeadlineCallback(t *testing.T) {
	tbl := simhost.NewDescriptorTable()
	d := newFakeDesc()
	h := tbl.Insert(d)
	q := simevent.NewQueue()
	eng := NewEngine(tbl, q)

	wakes := 0
	c := New(Trigger{Handle: h, Mask: simhost.READABLE}, true, vtime.Zero.Add(100))
	eng.Register(c, vtime.Zero, func(*Condition) { wakes++ })

	d.SetBits(simhost.READABLE)
	assert.Equal(t, 1, wakes)

	// The deadline's callback event is still queued; popping and invoking
	// it must not wake the already-resolved condition a second time.
	ev := q.Pop()
	ev.Payload.(simevent.Callback).Action()
	assert.Equal(t, 1, wakes)
}

func Test_StaleHandleResolvesAsCanceled(t *testing.T) {
	tbl := simhost.NewDescriptorTable()
	d := newFakeDesc()
	h := tbl.Insert(d)
	require.NoError(t, tbl.Close(h.FD))

	eng := NewEngine(tbl, simevent.NewQueue())

	var reason Reason
	c := New(Trigger{Handle: h, Mask: simhost.READABLE}, true, vtime.Invalid)
	eng.Register(c, vtime.Zero, func(cond *Condition) { reason = cond.Reason() })

	assert.Equal(t, ReasonCanceled, reason)
}

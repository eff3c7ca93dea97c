package simhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_BaseNotifiesOnlyIntersectingListeners(t *testing.T) {
	b := NewBase(ACTIVE)

	var readableFired, writableFired bool
	b.AddListener(Listener{Mask: READABLE, Notify: func(Status, Status) { readableFired = true }})
	b.AddListener(Listener{Mask: WRITABLE, Notify: func(Status, Status) { writableFired = true }})

	b.SetBits(READABLE)

	assert.True(t, readableFired)
	assert.False(t, writableFired)
}

func Test_RemoveListenerStopsNotifications(t *testing.T) {
	b := NewBase(ACTIVE)

	fired := 0
	token := b.AddListener(Listener{Mask: READABLE, Notify: func(Status, Status) { fired++ }})
	b.SetBits(READABLE)
	b.RemoveListener(token)
	b.ClearBits(READABLE)
	b.SetBits(READABLE)

	assert.Equal(t, 1, fired)
}

func Test_StatusHasAndAny(t *testing.T) {
	s := READABLE | WRITABLE
	assert.True(t, s.Has(READABLE))
	assert.False(t, s.Has(READABLE|ERR))
	assert.True(t, s.Any(READABLE|ERR))
	assert.False(t, s.Any(ERR|HUP))
}

func Test_StatusString(t *testing.T) {
	assert.Equal(t, "NONE", Status(0).String())
	assert.Equal(t, "ACTIVE|READABLE", (ACTIVE | READABLE).String())
}

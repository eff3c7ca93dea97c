package simhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_EventFDReadResetsCounterWhenNotSemaphore(t *testing.T) {
	e := NewEventFD(0, false)
	_, ok := e.Read()
	assert.False(t, ok, "reading a zero counter must indicate EAGAIN")

	require.NoError(t, e.Write(5))
	assert.True(t, e.Status().Has(READABLE))

	v, ok := e.Read()
	require.True(t, ok)
	assert.Equal(t, uint64(5), v)
	assert.False(t, e.Status().Has(READABLE))
}

func Test_EventFDSemaphoreDecrementsByOne(t *testing.T) {
	e := NewEventFD(3, true)

	v, ok := e.Read()
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)
	assert.True(t, e.Status().Has(READABLE))

	e.Read()
	v, ok = e.Read()
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)
	assert.False(t, e.Status().Has(READABLE))
}

func Test_EventFDWriteRejectsAllOnes(t *testing.T) {
	e := NewEventFD(0, false)
	assert.Error(t, e.Write(^uint64(0)))
}

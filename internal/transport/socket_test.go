package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/simnet"
)

// fakeSender records every packet handed to it, for assertions, and
// optionally forwards it synchronously to a peer under test.
type fakeSender struct {
	sent []*simnet.Packet
	peer func(*simnet.Packet)
}

func (f *fakeSender) SendPacket(pkt *simnet.Packet) {
	f.sent = append(f.sent, pkt)
	if f.peer != nil {
		f.peer(pkt)
	}
}

func (f *fakeSender) last() *simnet.Packet {
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

// fakeClock captures scheduled timers without actually sleeping; tests
// fire them explicitly via fireAll/fireOne.
type fakeClock struct {
	timers []*fakeTimer
}

type fakeTimer struct {
	fn        func()
	cancelled bool
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) func() {
	timer := &fakeTimer{fn: fn}
	c.timers = append(c.timers, timer)
	return func() { timer.cancelled = true }
}

func (c *fakeClock) fireAll() {
	pending := c.timers
	c.timers = nil
	for _, t := range pending {
		if !t.cancelled {
			t.fn()
		}
	}
}

func Test_SendBufferAppendAndAckThrough(t *testing.T) {
	b := newSendBuffer(16, 100)
	n := b.Append([]byte("hello"))
	assert.Equal(t, 5, n)
	assert.Equal(t, uint32(105), b.Tail())

	assert.Equal(t, []byte("hel"), b.Slice(100, 3))

	b.AckThrough(103)
	assert.Equal(t, uint32(103), b.base)
	assert.Equal(t, []byte("lo"), b.Slice(103, 2))
}

func Test_SendBufferFreeReflectsCapacity(t *testing.T) {
	b := newSendBuffer(4, 0)
	assert.Equal(t, 4, b.Free())
	b.Append([]byte("abcdef"))
	assert.Equal(t, 0, b.Free())
}

func Test_RecvBufferOrdersInSequence(t *testing.T) {
	b := newRecvBuffer(64, 0)
	require.True(t, b.Accept(0, []byte("hello")))
	assert.Equal(t, 5, b.Readable())

	out := make([]byte, 5)
	n := b.Read(out)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(out))
}

func Test_RecvBufferBuffersOutOfOrderThenFillsGap(t *testing.T) {
	b := newRecvBuffer(64, 0)
	require.True(t, b.Accept(5, []byte("world")))
	assert.Equal(t, 0, b.Readable(), "out-of-order segment must not be readable yet")

	require.True(t, b.Accept(0, []byte("hello")))
	assert.Equal(t, 10, b.Readable())

	out := make([]byte, 10)
	b.Read(out)
	assert.Equal(t, "helloworld", string(out))
}

func Test_RecvBufferDropsWhenFull(t *testing.T) {
	b := newRecvBuffer(4, 0)
	ok := b.Accept(0, []byte("12345"))
	assert.False(t, ok)
}

func Test_RecvBufferSACKRangesReflectGaps(t *testing.T) {
	b := newRecvBuffer(64, 0)
	b.Accept(10, []byte("xyz"))
	ranges := b.SACKRanges()
	require.Len(t, ranges, 1)
	assert.Equal(t, uint32(10), ranges[0].Start)
	assert.Equal(t, uint32(13), ranges[0].End)
}

func Test_RecvBufferFinConsumedOnlyAfterOrderedCatchesUp(t *testing.T) {
	b := newRecvBuffer(64, 0)
	b.Accept(0, []byte("hi"))
	b.MarkFin(2)
	assert.False(t, b.FinConsumed(), "must not report EOF before the reader drains buffered bytes")

	out := make([]byte, 2)
	b.Read(out)
	assert.True(t, b.FinConsumed())
}

package simnet

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_SealedPacketCanStillBeMarked(t *testing.T) {
	p := NewPacket(netip.MustParseAddrPort("10.0.0.1:80"), netip.MustParseAddrPort("10.0.0.2:443"), ProtoTCP).
		WithPayload(NewPayload([]byte("hi"))).
		Seal()

	assert.True(t, p.Sealed())
	p.Mark(MarkInterfaceSent)
	assert.True(t, p.HasMark(MarkCreated))
	assert.True(t, p.HasMark(MarkInterfaceSent))
}

func Test_SACKRangesCappedAtFour(t *testing.T) {
	ranges := []SACKRange{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {4, 5}, {5, 6}}
	p := NewPacket(netip.AddrPort{}, netip.AddrPort{}, ProtoTCP).WithSACK(ranges)

	assert.Len(t, p.SACK, MaxSACKRanges)
	assert.Equal(t, SACKRange{2, 3}, p.SACK[0], "must keep the most recent ranges")
}

func Test_PayloadRetainShareBackingBytes(t *testing.T) {
	p := NewPayload([]byte("abc"))
	p2 := p.Retain()

	assert.Equal(t, p.Bytes(), p2.Bytes())
	assert.Equal(t, 3, p.Len())
}

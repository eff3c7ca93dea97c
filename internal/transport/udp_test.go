package transport

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/simnet"
)

func Test_UDPSendAssemblesPacketImmediately(t *testing.T) {
	sender := &fakeSender{}
	local := netip.MustParseAddrPort("10.0.0.1:9000")
	remote := netip.MustParseAddrPort("10.0.0.2:9001")
	u := NewUDP(local, sender)

	require.NoError(t, u.SendTo(remote, []byte("ping")))
	pkt := sender.last()
	require.NotNil(t, pkt)
	assert.Equal(t, simnet.ProtoUDP, pkt.Proto)
	assert.Equal(t, "ping", string(pkt.Payload().Bytes()))
	assert.True(t, pkt.Sealed())
}

func Test_UDPDeliverMakesSocketReadable(t *testing.T) {
	local := netip.MustParseAddrPort("10.0.0.2:9001")
	remote := netip.MustParseAddrPort("10.0.0.1:9000")
	u := NewUDP(local, &fakeSender{})

	assert.False(t, u.Status().Has(simhost.READABLE))

	pkt := simnet.NewPacket(remote, local, simnet.ProtoUDP).WithPayload(simnet.NewPayload([]byte("pong"))).Seal()
	u.Deliver(pkt)
	assert.True(t, u.Status().Has(simhost.READABLE))

	buf := make([]byte, 16)
	from, n, err := u.RecvFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, remote, from)
	assert.Equal(t, "pong", string(buf[:n]))
	assert.False(t, u.Status().Has(simhost.READABLE), "must clear READABLE once drained")
}

func Test_UDPDeliverDropsNewestWhenBufferFull(t *testing.T) {
	local := netip.MustParseAddrPort("10.0.0.2:9001")
	remote := netip.MustParseAddrPort("10.0.0.1:9000")
	u := NewUDP(local, &fakeSender{})
	u.recvBufCap = 4

	u.Deliver(simnet.NewPacket(remote, local, simnet.ProtoUDP).WithPayload(simnet.NewPayload([]byte("abcd"))).Seal())
	u.Deliver(simnet.NewPacket(remote, local, simnet.ProtoUDP).WithPayload(simnet.NewPayload([]byte("ex"))).Seal())

	buf := make([]byte, 16)
	_, n, err := u.RecvFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))

	_, _, err = u.RecvFrom(buf)
	assert.Error(t, err, "the overflowing second datagram must have been dropped")
}

func Test_UDPCloseRejectsFurtherSends(t *testing.T) {
	local := netip.MustParseAddrPort("10.0.0.1:9000")
	u := NewUDP(local, &fakeSender{})
	require.NoError(t, u.Close())
	assert.Error(t, u.SendTo(local, []byte("x")))
	assert.True(t, u.Status().Has(simhost.CLOSED))
}

package simnet

import (
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ToWireRoundTripsTCPHeaderFields(t *testing.T) {
	p := NewPacket(
		netip.MustParseAddrPort("10.0.0.1:5000"),
		netip.MustParseAddrPort("10.0.0.2:80"),
		ProtoTCP,
	).WithPayload(NewPayload([]byte("hello"))).Seal()
	p.Seq = 100
	p.Flags = FlagSYN

	frame, err := ToWire(p)
	require.NoError(t, err)

	parsed := ParseWire(frame)
	require.Empty(t, parsed.ErrorLayer())

	tcpLayer := parsed.Layer(layers.LayerTypeTCP)
	require.NotNil(t, tcpLayer)
	tcp := tcpLayer.(*layers.TCP)
	assert.True(t, tcp.SYN)
	assert.Equal(t, uint32(100), tcp.Seq)
	assert.Equal(t, "hello", string(parsed.ApplicationLayer().Payload()))
}

package transport

import (
	"io"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/simnet"
)

var (
	clientAddr = netip.MustParseAddrPort("10.0.0.1:40000")
	serverAddr = netip.MustParseAddrPort("10.0.0.2:7000")
)

// handshake drives a full three-way handshake between a freshly dialed
// client and a listener, pumping captured packets by hand rather than
// auto-wiring sender callbacks, since the first SYN is sent from inside
// Dial before the caller has a reference to the returned *TCP.
func handshake(t *testing.T) (client *TCP, server *TCP, clientSender, serverSender *fakeSender, clock *fakeClock) {
	t.Helper()
	clientSender = &fakeSender{}
	serverSender = &fakeSender{}
	clock = &fakeClock{}
	cfg := Config{}

	listener := Listen(serverAddr, 4, serverSender, clock, cfg)

	client = Dial(clientAddr, serverAddr, 1000, clientSender, clock, cfg)
	syn := clientSender.last()
	require.NotNil(t, syn)

	listener.HandleSYN(syn, 5000)
	require.Len(t, listener.pending, 1)
	synAck := serverSender.last()
	require.NotNil(t, synAck)

	client.HandleSegment(synAck)
	assert.Equal(t, StateEstablished, client.State())
	ack := clientSender.last()
	require.NotNil(t, ack)

	handled := listener.HandleSegment(ack)
	require.True(t, handled)

	server, err := listener.Accept()
	require.NoError(t, err)
	assert.Equal(t, StateEstablished, server.State())
	return client, server, clientSender, serverSender, clock
}

func Test_TCPThreeWayHandshakeReachesEstablished(t *testing.T) {
	client, server, _, _, _ := handshake(t)
	assert.Equal(t, StateEstablished, client.State())
	assert.Equal(t, StateEstablished, server.State())
}

func Test_TCPDataFlowsClientToServer(t *testing.T) {
	client, server, clientSender, serverSender, _ := handshake(t)

	n, err := client.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	seg := clientSender.last()
	require.NotNil(t, seg)
	server.HandleSegment(seg)

	out := make([]byte, 32)
	read, err := server.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out[:read]))

	// server's ACK (carrying no data) should propagate back and clear the
	// client's retransmit timer for the acked range.
	ackBack := serverSender.last()
	require.NotNil(t, ackBack)
	client.HandleSegment(ackBack)
}

func Test_TCPOutOfOrderSegmentsReassemble(t *testing.T) {
	client, server, _, _, _ := handshake(t)

	n, err := client.Write([]byte("abcdefghij"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// transmit() already emitted one segment covering the whole write
	// (smaller than MSS); construct two hand-split segments instead to
	// exercise reassembly, bypassing transmit()'s own pacing.
	base := client.sendBuf.base
	seg1 := newDataSegment(client.local, client.remote, base+5, client.ackNow(), []byte("fghij"))
	seg2 := newDataSegment(client.local, client.remote, base, client.ackNow(), []byte("abcde"))

	server.HandleSegment(seg1)
	out := make([]byte, 10)
	read, _ := server.Read(out)
	assert.Equal(t, 0, read, "must not be readable until the gap at the front fills")

	server.HandleSegment(seg2)
	read, err = server.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(out[:read]))
}

func Test_TCPWriteRejectedBeforeEstablished(t *testing.T) {
	sender := &fakeSender{}
	clock := &fakeClock{}
	client := Dial(clientAddr, serverAddr, 1, sender, clock, Config{})
	_, err := client.Write([]byte("x"))
	assert.Error(t, err)
}

func Test_TCPCloseSendsFinAndReachesTimeWait(t *testing.T) {
	client, server, clientSender, serverSender, clock := handshake(t)

	require.NoError(t, client.Close())
	assert.Equal(t, StateFinWait1, client.State())
	fin := clientSender.last()
	require.NotNil(t, fin)

	server.HandleSegment(fin)
	assert.Equal(t, StateCloseWait, server.State())

	finAck := serverSender.last()
	require.NotNil(t, finAck)
	client.HandleSegment(finAck)
	assert.Equal(t, StateFinWait2, client.State())

	require.NoError(t, server.Close())
	assert.Equal(t, StateLastAck, server.State())
	serverFin := serverSender.last()
	require.NotNil(t, serverFin)

	client.HandleSegment(serverFin)
	assert.Equal(t, StateTimeWait, client.State())

	lastAck := clientSender.last()
	require.NotNil(t, lastAck)
	server.HandleSegment(lastAck)
	assert.Equal(t, StateClosed, server.State())

	clock.fireAll()
	assert.Equal(t, StateClosed, client.State())
	assert.True(t, client.Status().Has(simhost.CLOSED))
}

func Test_TCPReadReturnsEOFAfterFinConsumed(t *testing.T) {
	client, server, clientSender, _, _ := handshake(t)

	client.Write([]byte("hi"))
	server.HandleSegment(clientSender.last())

	require.NoError(t, client.Close())
	server.HandleSegment(clientSender.last())

	out := make([]byte, 2)
	n, err := server.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(out[:n]))

	_, err = server.Read(out)
	assert.Equal(t, io.EOF, err)
}

// newDataSegment builds a raw, sealed data segment, letting tests
// construct specific out-of-order arrival patterns directly.
func newDataSegment(src, dst netip.AddrPort, seq, ack uint32, payload []byte) *simnet.Packet {
	pkt := simnet.NewPacket(src, dst, simnet.ProtoTCP)
	pkt.Seq = seq
	pkt.Ack = ack
	pkt.Flags = simnet.FlagACK
	pkt.WithPayload(simnet.NewPayload(payload))
	return pkt.Seal()
}

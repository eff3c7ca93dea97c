package worker

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/simevent"
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/simnet"
	"github.com/shadow-sim/shadow/internal/topology"
	"github.com/shadow-sim/shadow/internal/transport"
)

func twoHostTopology(t *testing.T) (*simhost.Registry, *AddressTable, *topology.Router) {
	t.Helper()
	reg := simhost.NewRegistry()
	a := simhost.New(1, "a", "/tmp/a", simhost.Bandwidth{})
	b := simhost.New(2, "b", "/tmp/b", simhost.Bandwidth{})
	reg.Add(a)
	reg.Add(b)

	addrs := NewAddressTable()
	addrs.Add(netip.MustParseAddr("10.0.0.1"), a.ID, 1)
	addrs.Add(netip.MustParseAddr("10.0.0.2"), b.ID, 2)

	graph := topology.NewGraph()
	cdf, err := topology.NewCDF([]topology.CDFPoint{{Value: 0, CumulativeProb: 1}})
	require.NoError(t, err)
	require.NoError(t, graph.AddEdge(1, topology.Edge{To: 2, LatencyUp: cdf, LatencyDown: cdf, ReliabilityUp: 1, ReliabilityDown: 1}))
	require.NoError(t, graph.AddEdge(2, topology.Edge{To: 1, LatencyUp: cdf, LatencyDown: cdf, ReliabilityUp: 1, ReliabilityDown: 1}))

	return reg, addrs, topology.NewRouter(graph)
}

func TestHostNetworkSendPacketSameHost(t *testing.T) {
	reg, addrs, router := twoHostTopology(t)
	a, _ := reg.Get(1)
	iface := topology.NewInterface(1<<30, 1024)
	iface.Refill(time.Second) // the bucket starts empty; fill it so the packet leaves at once
	net := NewHostNetwork(a, reg, addrs, router, iface, transport.Config{})

	local := netip.MustParseAddrPort("10.0.0.1:1000")
	pkt := simnet.NewPacket(local, local, simnet.ProtoUDP).WithPayload(simnet.NewPayload([]byte("hi"))).Seal()

	net.SendPacket(pkt)

	require.Equal(t, 1, a.Queue.Len())
	e := a.Queue.Pop()
	arrived, ok := e.Payload.(PacketArrived)
	require.True(t, ok)
	assert.Equal(t, pkt, arrived.Packet)
}

func TestHostNetworkSendPacketCrossHost(t *testing.T) {
	reg, addrs, router := twoHostTopology(t)
	a, _ := reg.Get(1)
	b, _ := reg.Get(2)
	iface := topology.NewInterface(1<<30, 1024)
	iface.Refill(time.Second) // the bucket starts empty; fill it so the packet leaves at once
	net := NewHostNetwork(a, reg, addrs, router, iface, transport.Config{})

	src := netip.MustParseAddrPort("10.0.0.1:1000")
	dst := netip.MustParseAddrPort("10.0.0.2:2000")
	pkt := simnet.NewPacket(src, dst, simnet.ProtoUDP).WithPayload(simnet.NewPayload([]byte("hi"))).Seal()

	net.SendPacket(pkt)

	require.Equal(t, 0, a.Queue.Len())
	select {
	case e := <-b.Mailbox:
		_, ok := e.Payload.(PacketArrived)
		assert.True(t, ok)
	default:
		t.Fatal("expected a mailbox event on the destination host")
	}
}

// A packet offered to a saturated interface must not have its arrival
// scheduled until it is actually drained off the token bucket — the
// interface-queue delay must stack on top of the edge latency, per
// spec.md §4.6, rather than being silently skipped.
func TestHostNetworkSendPacketQueuedBehindTokenBucketDefersArrival(t *testing.T) {
	reg, addrs, router := twoHostTopology(t)
	a, _ := reg.Get(1)
	b, _ := reg.Get(2)
	// No tokens start in the bucket, so the first packet offered is always
	// queued; capacityBps is high enough that a single 1ms refill tick
	// (scheduleDrain's cadence) has enough tokens to drain it.
	iface := topology.NewInterface(1_000_000, 4)
	net := NewHostNetwork(a, reg, addrs, router, iface, transport.Config{})

	src := netip.MustParseAddrPort("10.0.0.1:1000")
	dst := netip.MustParseAddrPort("10.0.0.2:2000")
	pkt := simnet.NewPacket(src, dst, simnet.ProtoUDP).WithPayload(simnet.NewPayload([]byte("hi"))).Seal()

	net.SendPacket(pkt)

	// No tokens were available, so the packet must be queued, not
	// delivered: nothing posted yet, and a drain callback is pending on
	// a's own queue (scheduleDrain's AfterFunc).
	select {
	case <-b.Mailbox:
		t.Fatal("packet must not arrive before the interface actually drains it")
	default:
	}
	require.Equal(t, 1, a.Queue.Len())

	// Advance past the drain callback: it refills the bucket and actually
	// dequeues the packet, which is when arrival finally gets scheduled.
	e := a.Queue.Pop()
	cb, ok := e.Payload.(simevent.Callback)
	require.True(t, ok, "expected scheduleDrain's callback event")
	cb.Action()

	select {
	case ev := <-b.Mailbox:
		_, ok := ev.Payload.(PacketArrived)
		assert.True(t, ok)
	default:
		t.Fatal("expected the drain callback to have scheduled arrival")
	}
}

func TestReserveEphemeralPortAvoidsCollision(t *testing.T) {
	reg, addrs, router := twoHostTopology(t)
	a, _ := reg.Get(1)
	iface := topology.NewInterface(1<<30, 1024)
	net := NewHostNetwork(a, reg, addrs, router, iface, transport.Config{})

	addr := netip.MustParseAddr("10.0.0.1")
	p1, err := net.ReserveEphemeralPort("tcp", addr)
	require.NoError(t, err)
	p2, err := net.ReserveEphemeralPort("tcp", addr)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}

// Package worker implements spec.md §5's per-host event loop: draining a
// host's mailbox, advancing its queue to the round's safe horizon, routing
// outbound packets through the topology graph, and servicing syscalls
// through the dispatch table built by internal/syscalls.
package worker

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/shadow-sim/shadow/internal/metrics"
	"github.com/shadow-sim/shadow/internal/simevent"
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/simnet"
	"github.com/shadow-sim/shadow/internal/syscalls"
	"github.com/shadow-sim/shadow/internal/topology"
	"github.com/shadow-sim/shadow/internal/transport"
)

// AddressTable maps every simulated address to the host and topology
// network it belongs to, so that an outbound packet's destination can be
// turned into a routing decision and a mailbox to post to. Built once at
// simulation setup from the loaded topology and host registry.
type AddressTable struct {
	hostOf    map[netip.Addr]simevent.HostID
	networkOf map[netip.Addr]topology.NetworkID
}

// NewAddressTable returns an empty address table for callers to populate
// with Add as hosts are assigned addresses during topology loading.
func NewAddressTable() *AddressTable {
	return &AddressTable{
		hostOf:    make(map[netip.Addr]simevent.HostID),
		networkOf: make(map[netip.Addr]topology.NetworkID),
	}
}

// Add records that addr belongs to host and network.
func (t *AddressTable) Add(addr netip.Addr, host simevent.HostID, network topology.NetworkID) {
	t.hostOf[addr] = host
	t.networkOf[addr] = network
}

// Lookup resolves addr to its owning host and network.
func (t *AddressTable) Lookup(addr netip.Addr) (simevent.HostID, topology.NetworkID, bool) {
	h, ok := t.hostOf[addr]
	if !ok {
		return 0, 0, false
	}
	return h, t.networkOf[addr], true
}

// PacketArrived is the event payload posted to a destination host's
// mailbox (or local queue, for same-host delivery) once the router has
// decided a packet is delivered, per spec.md §4.6.
type PacketArrived struct {
	Packet *simnet.Packet
}

// Kind implements simevent.Payload.
func (PacketArrived) Kind() simevent.Kind { return simevent.KindPacketArrived }

// HostNetwork is the per-host implementation of transport.Sender,
// transport.Clock, and syscalls.Network: the three seams the transport
// and syscall layers leave open for internal/worker to fill, per their
// own doc comments.
//
// One HostNetwork is bound to exactly one Host and is only ever driven by
// that host's owning worker.
type HostNetwork struct {
	host      *simhost.Host
	registry  *simhost.Registry
	addresses *AddressTable
	router    *topology.Router
	iface     *topology.Interface
	cfg       transport.Config

	nextEphemeral map[string]uint16

	// demux tables: how an arriving packet is matched back to the local
	// socket that owns it, mirroring a kernel's socket lookup.
	listeners map[uint16]*transport.Listener
	conns     map[connKey]*transport.TCP
	udps      map[uint16]*transport.UDP
}

type connKey struct {
	local, remote netip.AddrPort
}

// NewHostNetwork binds a host to the shared topology router and address
// table. iface is this host's rate-limited network attachment point.
func NewHostNetwork(host *simhost.Host, registry *simhost.Registry, addresses *AddressTable, router *topology.Router, iface *topology.Interface, cfg transport.Config) *HostNetwork {
	return &HostNetwork{
		host:          host,
		registry:      registry,
		addresses:     addresses,
		router:        router,
		iface:         iface,
		cfg:           cfg,
		nextEphemeral: make(map[string]uint16),
		listeners:     make(map[uint16]*transport.Listener),
		conns:         make(map[connKey]*transport.TCP),
		udps:          make(map[uint16]*transport.UDP),
	}
}

// ephemeralBase/ephemeralTop bound the dynamic port range, per common
// kernel convention (IANA's recommended 49152-65535 range).
const (
	ephemeralBase = 49152
	ephemeralTop  = 65535
)

// ReserveEphemeralPort implements syscalls.Network: it hands out the next
// unused port in the ephemeral range for addr, per protocol namespace.
func (n *HostNetwork) ReserveEphemeralPort(proto string, addr netip.Addr) (uint16, error) {
	start := n.nextEphemeral[proto]
	if start == 0 {
		start = ephemeralBase
	}
	for p := start; p <= ephemeralTop; p++ {
		port := uint16(p)
		if n.portInUse(proto, port) {
			continue
		}
		n.nextEphemeral[proto] = port + 1
		return port, nil
	}
	return 0, fmt.Errorf("worker: ephemeral port range exhausted for %s", proto)
}

func (n *HostNetwork) portInUse(proto string, port uint16) bool {
	switch proto {
	case "tcp":
		if _, ok := n.listeners[port]; ok {
			return true
		}
		for k := range n.conns {
			if k.local.Port() == port {
				return true
			}
		}
	case "udp":
		if _, ok := n.udps[port]; ok {
			return true
		}
	}
	return false
}

// DialTCP implements syscalls.Network: it draws a deterministic ISN from
// the host's RNG (spec.md §8) and registers the new connection in the
// demux table keyed by (local, remote).
func (n *HostNetwork) DialTCP(local, remote netip.AddrPort) (*transport.TCP, error) {
	iss := n.host.RNG.Uint32()
	conn := transport.Dial(local, remote, iss, n, n, n.cfg)
	n.conns[connKey{local: local, remote: remote}] = conn
	return conn, nil
}

// ListenTCP implements syscalls.Network.
func (n *HostNetwork) ListenTCP(local netip.AddrPort, backlog int) (*transport.Listener, error) {
	if _, exists := n.listeners[local.Port()]; exists {
		return nil, fmt.Errorf("worker: port %d already listening", local.Port())
	}
	lis := transport.Listen(local, backlog, n, n, n.cfg)
	n.listeners[local.Port()] = lis
	return lis, nil
}

// NewUDP implements syscalls.Network.
func (n *HostNetwork) NewUDP(local netip.AddrPort) (*transport.UDP, error) {
	u := transport.NewUDP(local, n)
	n.udps[local.Port()] = u
	return u, nil
}

// AfterFunc implements transport.Clock by scheduling a Callback event on
// this host's own queue at now+d. The returned cancel marks the callback
// dead rather than removing it from the queue (simevent.Queue has no
// remove-by-reference), matching spec.md §4.1's "timers are events".
func (n *HostNetwork) AfterFunc(d time.Duration, fn func()) (cancel func()) {
	live := true
	n.host.Queue.Push(simevent.Event{
		Time: n.host.Queue.LocalNow().Add(d),
		Payload: simevent.Callback{Action: func() {
			if live {
				fn()
			}
		}},
	})
	return func() { live = false }
}

// SendPacket implements transport.Sender: it routes pkt through the
// topology graph, applies this host's interface rate limit, and on
// delivery posts a PacketArrived event to the destination host (directly
// onto its queue if it is this same host, else through its mailbox),
// delayed by the sampled latency. A packet the interface cannot send
// immediately is queued behind the token bucket, per spec.md §4.6, and
// its arrival is not scheduled until it actually departs — so a sender
// exceeding its configured bandwidth sees real queuing delay stack on top
// of the edge latency, not just an eventual drop once the queue overflows.
func (n *HostNetwork) SendPacket(pkt *simnet.Packet) {
	srcHostID, srcNet, ok := n.addresses.Lookup(pkt.Src.Addr())
	if !ok || srcHostID != n.host.ID {
		metrics.PacketsDropped.WithLabelValues("unknown-source").Inc()
		return
	}
	dstHostID, dstNet, ok := n.addresses.Lookup(pkt.Dst.Addr())
	if !ok {
		metrics.PacketsDropped.WithLabelValues("unknown-destination").Inc()
		return
	}

	dstHost, ok := n.registry.Get(dstHostID)
	if !ok {
		metrics.PacketsDropped.WithLabelValues("unknown-destination").Inc()
		return
	}

	decision, ok := n.router.Route(srcNet, dstNet, dstHost.RNG)
	if !ok {
		metrics.PacketsDropped.WithLabelValues("no-route").Inc()
		return
	}

	payload := pkt.Payload().Bytes()
	proto := "tcp"
	if pkt.Proto == simnet.ProtoUDP {
		proto = "udp"
	}

	// depart does the work that belongs to the packet's actual moment of
	// leaving the interface: the reliability roll, marking, scheduling
	// arrival at (now + edge latency), and the delivered-bytes counter.
	// n.host.Queue.LocalNow() is read here, not when SendPacket was first
	// called, so a packet that sat in the token-bucket queue gets an
	// arrival time that reflects when it actually left, not when it was
	// offered.
	depart := func() {
		pkt.Mark(simnet.MarkInterfaceSent)
		if !decision.Delivered {
			pkt.Mark(simnet.MarkRouterDropped)
			metrics.PacketsDropped.WithLabelValues("reliability-roll").Inc()
			return
		}
		pkt.Mark(simnet.MarkInetSent)

		arrival := simevent.Event{
			HostID:  dstHostID,
			Time:    n.host.Queue.LocalNow().Add(decision.Latency),
			Payload: PacketArrived{Packet: pkt},
		}
		if dstHostID == n.host.ID {
			n.host.Queue.Push(arrival)
		} else {
			dstHost.PostRemote(arrival)
		}
		metrics.BytesDelivered.WithLabelValues(proto).Add(float64(len(payload)))
	}

	sent, dropped := n.iface.Send(payload, depart)
	if dropped {
		pkt.Mark(simnet.MarkDropped)
		metrics.PacketsDropped.WithLabelValues("interface-queue-full").Inc()
		return
	}
	if sent {
		depart()
		return
	}
	// Queued behind the token bucket; depart runs later, once
	// scheduleDrain's refill actually hands tokens back to this packet.
	n.scheduleDrain()
}

// scheduleDrain schedules a single re-check of the interface's queued
// packets 1ms of virtual time later: it refills 1ms worth of tokens and
// drains what they cover. It is called once per queued send; packets
// still queued after that re-check get no further one of their own. Each
// packet DrainQueued actually dequeues fires its own depart callback from
// SendPacket, so arrival scheduling happens at real departure time.
func (n *HostNetwork) scheduleDrain() {
	n.AfterFunc(time.Millisecond, func() {
		n.iface.Refill(time.Millisecond)
		n.iface.DrainQueued()
	})
}

// Deliver demuxes an arrived packet to the local socket that owns it:
// an established connection first, then a listener (for SYNs and
// handshake segments), then a UDP socket.
func (n *HostNetwork) Deliver(pkt *simnet.Packet) {
	if pkt.Proto == simnet.ProtoUDP {
		if u, ok := n.udps[pkt.Dst.Port()]; ok {
			u.Deliver(pkt)
		}
		return
	}

	key := connKey{local: pkt.Dst, remote: pkt.Src}
	if conn, ok := n.conns[key]; ok {
		conn.HandleSegment(pkt)
		return
	}

	lis, ok := n.listeners[pkt.Dst.Port()]
	if !ok {
		return
	}
	if lis.HandleSegment(pkt) {
		return
	}
	if pkt.Flags&simnet.FlagSYN != 0 {
		lis.HandleSYN(pkt, n.host.RNG.Uint32())
	}
}

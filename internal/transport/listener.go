package transport

import (
	"fmt"
	"net/netip"

	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/simnet"
)

// Listener is a passively-opened TCP endpoint in LISTEN, holding a
// bounded backlog of connections that have completed the three-way
// handshake and are waiting to be Accepted, per spec.md §3's socket
// model.
type Listener struct {
	*simhost.Base

	local   netip.AddrPort
	backlog int
	pending map[netip.AddrPort]*TCP // handshake in progress (SYN_RECEIVED)
	ready   []*TCP                  // handshake complete, awaiting Accept

	sender Sender
	clock  Clock
	cfg    Config
}

// Listen returns a Listener bound to local with the given backlog depth.
func Listen(local netip.AddrPort, backlog int, sender Sender, clock Clock, cfg Config) *Listener {
	return &Listener{
		Base:    simhost.NewBase(simhost.ACTIVE),
		local:   local,
		backlog: backlog,
		pending: make(map[netip.AddrPort]*TCP),
		sender:  sender,
		clock:   clock,
		cfg:     cfg.withDefaults(),
	}
}

// LocalAddr reports the listener's bound address.
func (l *Listener) LocalAddr() netip.AddrPort { return l.local }

// HandleSYN processes an incoming SYN against the backlog: a full backlog
// causes the SYN to be silently dropped (the peer's retransmit timer will
// retry), matching common listen-socket behavior. iss is the caller's
// deterministically-drawn initial sequence number for the new connection.
func (l *Listener) HandleSYN(pkt *simnet.Packet, iss uint32) {
	if pkt.Flags&simnet.FlagSYN == 0 {
		return
	}
	if len(l.pending)+len(l.ready) >= l.backlog {
		return
	}
	if _, exists := l.pending[pkt.Src]; exists {
		return
	}
	child := acceptedTCP(l.local, pkt.Src, iss, pkt.Seq, l.sender, l.clock, l.cfg)
	l.pending[pkt.Src] = child
}

// HandleSegment routes a non-SYN segment to its pending connection object
// if one is mid-handshake, promoting it to the accept-ready queue once
// the handshake completes.
func (l *Listener) HandleSegment(pkt *simnet.Packet) (handled bool) {
	child, ok := l.pending[pkt.Src]
	if !ok {
		return false
	}
	child.HandleSegment(pkt)
	if child.State() == StateEstablished {
		delete(l.pending, pkt.Src)
		l.ready = append(l.ready, child)
		l.SetBits(simhost.READABLE)
	}
	return true
}

// Accept pops the oldest fully-handshaken connection.
func (l *Listener) Accept() (*TCP, error) {
	if len(l.ready) == 0 {
		return nil, fmt.Errorf("transport: no pending connection to accept")
	}
	conn := l.ready[0]
	l.ready = l.ready[1:]
	if len(l.ready) == 0 {
		l.ClearBits(simhost.READABLE)
	}
	return conn, nil
}

// Close marks the listener closed. Connections already accepted are
// unaffected; those still mid-handshake are abandoned.
func (l *Listener) Close() error {
	l.pending = nil
	l.ready = nil
	l.SetStatus(simhost.CLOSED)
	return nil
}

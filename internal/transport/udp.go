package transport

import (
	"fmt"
	"net/netip"

	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/simnet"
)

// datagram is one received UDP payload paired with its sender, since
// recvfrom-style reads need the source address.
type datagram struct {
	from    netip.AddrPort
	payload []byte
}

// UDP implements spec.md §4.5's datagram path: "datagrams are enqueued on
// send with the destination packet assembled immediately"; the receive
// buffer is bounded and overflow drops the newest datagram.
type UDP struct {
	*simhost.Base

	sender Sender
	local  netip.AddrPort

	recvQueue   []datagram
	recvBufCap  int
	recvBufUsed int

	closed bool
}

// defaultUDPRecvBuffer is the default bound, in bytes, on buffered
// unread datagram payload.
const defaultUDPRecvBuffer = 64 * 1024

// NewUDP returns an unconnected UDP socket bound to local.
func NewUDP(local netip.AddrPort, sender Sender) *UDP {
	return &UDP{
		Base:       simhost.NewBase(simhost.ACTIVE | simhost.WRITABLE),
		sender:     sender,
		local:      local,
		recvBufCap: defaultUDPRecvBuffer,
	}
}

// LocalAddr reports the socket's bound address.
func (u *UDP) LocalAddr() netip.AddrPort { return u.local }

// SendTo assembles and hands off a datagram to dst. UDP has no
// congestion window or retry: the packet either reaches the router or is
// dropped per the edge's reliability, exactly once.
func (u *UDP) SendTo(dst netip.AddrPort, payload []byte) error {
	if u.closed {
		return fmt.Errorf("transport: send on closed udp socket")
	}
	pkt := simnet.NewPacket(u.local, dst, simnet.ProtoUDP)
	pkt.WithPayload(simnet.NewPayload(payload))
	pkt.Mark(simnet.MarkCreated)
	u.sender.SendPacket(pkt.Seal())
	return nil
}

// Deliver is called by the demux when a UDP packet addressed to this
// socket arrives. It enqueues the payload, dropping the newest datagram
// (this one) if the receive buffer is full.
func (u *UDP) Deliver(pkt *simnet.Packet) {
	if u.closed {
		return
	}
	payload := pkt.Payload().Bytes()
	if u.recvBufUsed+len(payload) > u.recvBufCap {
		pkt.Mark(simnet.MarkDropped)
		return
	}
	u.recvQueue = append(u.recvQueue, datagram{from: pkt.Src, payload: payload})
	u.recvBufUsed += len(payload)
	u.SetBits(simhost.READABLE)
}

// RecvFrom pops the oldest buffered datagram into p, returning the
// sender's address and the number of bytes copied (truncating if p is
// smaller than the datagram, matching recvfrom's truncation behavior).
func (u *UDP) RecvFrom(p []byte) (netip.AddrPort, int, error) {
	if len(u.recvQueue) == 0 {
		return netip.AddrPort{}, 0, fmt.Errorf("transport: no datagram available")
	}
	d := u.recvQueue[0]
	u.recvQueue = u.recvQueue[1:]
	u.recvBufUsed -= len(d.payload)
	if len(u.recvQueue) == 0 {
		u.ClearBits(simhost.READABLE)
	}
	n := copy(p, d.payload)
	return d.from, n, nil
}

// Close marks the socket closed: later sends fail and newly arriving
// datagrams are dropped, while datagrams already queued stay readable.
func (u *UDP) Close() error {
	u.closed = true
	u.SetStatus(simhost.CLOSED)
	return nil
}

// Package simnet implements Shadow's packet and address model: the
// immutable-once-sealed Packet type with its delivery-status trace bits,
// and address/hostname resolution for the simulated network.
package simnet

import (
	"net/netip"
	"sync/atomic"
)

// Protocol distinguishes the transport carried in a Packet.
type Protocol uint8

const (
	ProtoTCP Protocol = iota
	ProtoUDP
)

// Flags are the TCP control bits a Packet may carry; UDP packets carry
// none of these.
type Flags uint8

const (
	FlagSYN Flags = 1 << iota
	FlagACK
	FlagFIN
	FlagRST
	FlagSACK
	FlagDUP
)

// MaxSACKRanges is the documented cap on SACK ranges per packet, per
// spec.md §3 and §9's resolved open question.
const MaxSACKRanges = 4

// SACKRange is a half-open [Start, End) sequence-number range.
type SACKRange struct {
	Start, End uint32
}

// Payload is a shared, ref-counted byte buffer backing a Packet's data,
// so that retransmissions can reference the original bytes without
// copying.
type Payload struct {
	data refcountedBytes
}

type refcountedBytes struct {
	bytes []byte
	refs  *int32
}

// NewPayload wraps b in a fresh, singly-referenced Payload. b is not
// copied; callers must not mutate it afterward (Packets are immutable
// once sealed).
func NewPayload(b []byte) Payload {
	refs := int32(1)
	return Payload{data: refcountedBytes{bytes: b, refs: &refs}}
}

// Retain increments the reference count and returns a handle sharing the
// same backing bytes.
func (p Payload) Retain() Payload {
	atomic.AddInt32(p.data.refs, 1)
	return p
}

// Release decrements the reference count. The backing slice is left for
// the garbage collector once the count reaches zero; Shadow does not
// pool packet buffers.
func (p Payload) Release() {
	atomic.AddInt32(p.data.refs, -1)
}

// Bytes returns the backing byte slice. Callers must not mutate it.
func (p Payload) Bytes() []byte { return p.data.bytes }

// Len returns the payload length in bytes.
func (p Payload) Len() int { return len(p.data.bytes) }

// DeliveryStatus accumulates trace marks across a packet's lifetime, per
// spec.md §3, for post-hoc assertions and tracing. Bits are additive;
// once set, a mark is never cleared (this is a history, not a state
// machine).
type DeliveryStatus uint32

const (
	MarkCreated DeliveryStatus = 1 << iota
	MarkBuffered
	MarkInterfaceSent
	MarkInetSent
	MarkDropped
	MarkRouterEnqueued
	MarkRouterDequeued
	MarkRouterDropped
	MarkRcvInterface
	MarkRcvSocketBuffered
	MarkRcvSocketDelivered
	MarkDestroyed
)

// Packet is immutable once Seal is called; only its mutable
// DeliveryStatus trace bitfield may change afterward.
type Packet struct {
	Src, Dst   netip.AddrPort
	Proto      Protocol
	Seq, Ack   uint32
	Flags      Flags
	Window     uint16
	WindowScale uint8
	TSVal, TSEcho uint32
	SACK       []SACKRange
	payload    Payload

	status DeliveryStatus
	sealed bool
}

// NewPacket constructs an unsealed packet under construction.
func NewPacket(src, dst netip.AddrPort, proto Protocol) *Packet {
	return &Packet{Src: src, Dst: dst, Proto: proto, status: MarkCreated}
}

// WithPayload attaches payload data. Must be called before Seal.
func (p *Packet) WithPayload(payload Payload) *Packet {
	p.payload = payload
	return p
}

// WithSACK attaches up to MaxSACKRanges ranges, truncating silently to the
// most recent ranges if more are supplied, matching the documented 4-range
// wire cap (spec.md §9).
func (p *Packet) WithSACK(ranges []SACKRange) *Packet {
	if len(ranges) > MaxSACKRanges {
		ranges = ranges[len(ranges)-MaxSACKRanges:]
	}
	p.SACK = ranges
	return p
}

// Seal finalizes the packet; after this, only Mark may mutate it.
func (p *Packet) Seal() *Packet {
	p.sealed = true
	return p
}

// Sealed reports whether the packet has been sealed.
func (p *Packet) Sealed() bool { return p.sealed }

// Payload returns the packet's payload handle.
func (p *Packet) Payload() Payload { return p.payload }

// Mark adds a delivery-status trace bit. Legal on sealed or unsealed
// packets (the trace bitfield is explicitly excluded from immutability).
func (p *Packet) Mark(m DeliveryStatus) { p.status |= m }

// Status returns the accumulated delivery-status trace bits.
func (p *Packet) Status() DeliveryStatus { return p.status }

// HasMark reports whether m has been recorded.
func (p *Packet) HasMark(m DeliveryStatus) bool { return p.status&m != 0 }

package transport

import (
	"time"

	"github.com/shadow-sim/shadow/internal/simnet"
)

// Sender is the outbound path a socket hands sealed packets to. The
// router, per-interface rate limiter, and cross-host event-queue wiring
// (spec.md §4.6/§5) live in internal/worker (HostNetwork implements
// Sender); the interface keeps package transport testable in isolation.
type Sender interface {
	// SendPacket hands pkt to the network for delivery. pkt must already
	// be sealed.
	SendPacket(pkt *simnet.Packet)
}

// Clock is the virtual-time timer source a socket schedules retransmit,
// delayed-ACK, and TIME_WAIT timers against, via the owning host's event
// queue and its generic-callback event kind (spec.md §4.1).
type Clock interface {
	// AfterFunc schedules fn to run once virtual time reaches now+d. The
	// returned cancel func is idempotent and safe to call after fn has
	// already fired (a no-op in that case).
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// sendBuffer is a contiguous byte run covering [base, base+len(data)) of
// send-sequence space, per spec.md §4.5's "payload appended to the send
// buffer".
type sendBuffer struct {
	data     []byte
	base     uint32
	capacity int
}

func newSendBuffer(capacity int, isn uint32) *sendBuffer {
	return &sendBuffer{base: isn, capacity: capacity}
}

// Free reports how many more bytes may be appended before the buffer is
// full.
func (b *sendBuffer) Free() int { return b.capacity - len(b.data) }

// Append adds p to the tail of the buffer, truncating to available space.
// Returns the number of bytes actually appended.
func (b *sendBuffer) Append(p []byte) int {
	n := b.Free()
	if n > len(p) {
		n = len(p)
	}
	b.data = append(b.data, p[:n]...)
	return n
}

// Tail returns the sequence number one past the last byte written.
func (b *sendBuffer) Tail() uint32 { return b.base + uint32(len(b.data)) }

// Slice returns up to n bytes starting at absolute sequence seq, clamped
// to what has actually been written.
func (b *sendBuffer) Slice(seq uint32, n int) []byte {
	off := int(seq - b.base)
	if off < 0 || off >= len(b.data) {
		return nil
	}
	end := off + n
	if end > len(b.data) {
		end = len(b.data)
	}
	return b.data[off:end]
}

// AckThrough discards the bytes covered by [base, seq), advancing base to
// seq. No-op if seq does not advance the base.
func (b *sendBuffer) AckThrough(seq uint32) {
	if seqBefore(seq, b.base) {
		return
	}
	adv := int(seq - b.base)
	if adv > len(b.data) {
		adv = len(b.data)
	}
	b.data = b.data[adv:]
	b.base = seq
}

// gapSegment is a buffered out-of-order run awaiting the bytes that
// precede it.
type gapSegment struct {
	start uint32
	data  []byte
}

// recvBuffer implements spec.md §4.5's receive policy: ordered payload
// accumulates in a contiguous buffer; out-of-order segments wait in a gap
// set until the missing bytes arrive, at which point they migrate into
// the ordered buffer.
type recvBuffer struct {
	ordered     []byte
	orderedNext uint32 // sequence number expected next (= tail of ordered)
	readCursor  int    // index into ordered already delivered to the reader
	capacity    int
	gaps        []gapSegment
	peerFinSeq  uint32
	haveFin     bool
}

func newRecvBuffer(capacity int, irs uint32) *recvBuffer {
	return &recvBuffer{capacity: capacity, orderedNext: irs}
}

// Readable reports how many bytes are available to Read.
func (b *recvBuffer) Readable() int { return len(b.ordered) - b.readCursor }

// Free reports remaining receive-window space, counting both ordered
// unread bytes and buffered gap segments against capacity.
func (b *recvBuffer) Free() int {
	used := b.Readable()
	for _, g := range b.gaps {
		used += len(g.data)
	}
	n := b.capacity - used
	if n < 0 {
		return 0
	}
	return n
}

// Accept buffers an incoming segment. It returns false only if the
// segment was dropped because the receive window is exhausted; an
// entirely duplicate segment is discarded and reports true.
func (b *recvBuffer) Accept(seq uint32, data []byte) bool {
	if len(data) == 0 {
		return true
	}
	// Starts before what we already have but extends past it.
	if !seqBefore(seq+uint32(len(data)), b.orderedNext) && seqBefore(seq, b.orderedNext) {
		// Overlaps the front: trim the already-seen prefix.
		trim := b.orderedNext - seq
		seq = b.orderedNext
		data = data[trim:]
	} else if seqBefore(seq+uint32(len(data)), b.orderedNext) {
		return true // fully duplicate
	}
	if len(data) == 0 {
		return true
	}
	if b.Free() < len(data) {
		return false
	}

	if seq == b.orderedNext {
		b.ordered = append(b.ordered, data...)
		b.orderedNext += uint32(len(data))
		b.absorbGaps()
		return true
	}

	b.gaps = append(b.gaps, gapSegment{start: seq, data: data})
	return true
}

// absorbGaps migrates any gap segments that have become contiguous with
// the ordered tail into the ordered buffer, per spec.md §4.5's "on gap
// fill, adjacent data migrates into the ordered buffer".
func (b *recvBuffer) absorbGaps() {
	for progress := true; progress; {
		progress = false
		for i, g := range b.gaps {
			if g.start == b.orderedNext {
				b.ordered = append(b.ordered, g.data...)
				b.orderedNext += uint32(len(g.data))
				b.gaps = append(b.gaps[:i], b.gaps[i+1:]...)
				progress = true
				break
			}
		}
	}
}

// Read copies up to len(p) unread ordered bytes into p.
func (b *recvBuffer) Read(p []byte) int {
	n := copy(p, b.ordered[b.readCursor:])
	b.readCursor += n
	if b.readCursor == len(b.ordered) && b.readCursor > 0 {
		b.ordered = nil
		b.readCursor = 0
	}
	return n
}

// SACKRanges reports the buffered gap segments as SACK ranges, most
// recently received last, for Packet.WithSACK to cap at
// simnet.MaxSACKRanges.
func (b *recvBuffer) SACKRanges() []simnet.SACKRange {
	if len(b.gaps) == 0 {
		return nil
	}
	out := make([]simnet.SACKRange, len(b.gaps))
	for i, g := range b.gaps {
		out[i] = simnet.SACKRange{Start: g.start, End: g.start + uint32(len(g.data))}
	}
	return out
}

// MarkFin records the sequence number carried by a FIN. A FIN consumes
// one sequence number the same way a SYN does; when it arrives in order
// (no outstanding gap before it) that slot is folded into orderedNext
// immediately so the next ACK correctly acknowledges it.
func (b *recvBuffer) MarkFin(seq uint32) {
	b.haveFin = true
	b.peerFinSeq = seq
	if seq == b.orderedNext {
		b.orderedNext = seq + 1
	}
}

// FinConsumed reports whether the ordered stream has reached a recorded
// FIN with nothing left unread, i.e. the peer's half-close is now visible
// to the reader as EOF.
func (b *recvBuffer) FinConsumed() bool {
	return b.haveFin && !seqBefore(b.orderedNext, b.peerFinSeq+1) && b.Readable() == 0
}

package transport

import (
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/shadow-sim/shadow/internal/metrics"
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/simnet"
)

// State enumerates the TCP connection states named in spec.md §3.
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return "UNKNOWN"
	}
}

// Config bundles the per-connection tunables spec.md §6 exposes under the
// tcp.* configuration keys.
type Config struct {
	MSS              uint32
	SendBufferSize   int
	RecvBufferSize   int
	// DelayedACKMax is the resolved open question of spec.md §9: ACKs are
	// delayed up to one additional segment or this duration, whichever
	// comes first. Default 40ms.
	DelayedACKMax time.Duration
	// TimeWait is the virtual duration TIME_WAIT is held before the
	// descriptor is destroyed. Default 60s per spec.md §4.5.
	TimeWait       time.Duration
	MinRTO, MaxRTO time.Duration
	// NewCongestionController selects the pluggable algorithm (AIMD/Reno
	// or CUBIC); defaults to Reno.
	NewCongestionController func(mss uint32) CongestionController
}

func (c Config) withDefaults() Config {
	if c.MSS == 0 {
		c.MSS = defaultMSS
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = 128 * 1024
	}
	if c.RecvBufferSize == 0 {
		c.RecvBufferSize = 128 * 1024
	}
	if c.DelayedACKMax == 0 {
		c.DelayedACKMax = 40 * time.Millisecond
	}
	if c.TimeWait == 0 {
		c.TimeWait = 60 * time.Second
	}
	if c.MinRTO == 0 {
		c.MinRTO = 200 * time.Millisecond
	}
	if c.MaxRTO == 0 {
		c.MaxRTO = 60 * time.Second
	}
	if c.NewCongestionController == nil {
		c.NewCongestionController = func(mss uint32) CongestionController { return NewReno(mss) }
	}
	return c
}

// reorderingBytes approximates the classic "3 duplicate ACKs" loss
// heuristic at byte granularity for Scoreboard.DetectLost.
const reorderingBytes = 3 * defaultMSS

// TCP implements the connection-lifecycle FSM of spec.md §3/§4.5. It
// satisfies simhost.Descriptor via the embedded Base, reporting READABLE
// once ordered payload (or a consumed half-close) is available and
// WRITABLE while the send buffer has room and the peer's window is open.
type TCP struct {
	*simhost.Base

	cfg    Config
	sender Sender
	clock  Clock

	state  State
	local  netip.AddrPort
	remote netip.AddrPort

	iss, irs uint32
	sndNxt   uint32 // next sequence number to transmit

	recvBuf *recvBuffer
	sendBuf *sendBuffer

	cc  CongestionController
	rtt *RTTEstimator
	sb  *Scoreboard

	peerWindow  uint32
	dupACKSeq   uint32
	dupACKCount int

	delayedACKPending bool
	cancelDelayedACK  func()
	cancelRetransmit  func()
	cancelTimeWait    func()
	rto               time.Duration

	peerReset bool
}

// Dial creates an actively-opened connection in SYN_SENT and transmits
// the initial SYN. iss is the caller-chosen initial send sequence number
// (drawn from the owning host's deterministic RNG per spec.md §8, not
// generated here, so that transport stays reproducible without owning
// randomness itself).
func Dial(local, remote netip.AddrPort, iss uint32, sender Sender, clock Clock, cfg Config) *TCP {
	cfg = cfg.withDefaults()
	t := &TCP{
		Base:    simhost.NewBase(simhost.ACTIVE),
		cfg:     cfg,
		sender:  sender,
		clock:   clock,
		state:   StateSynSent,
		local:   local,
		remote:  remote,
		iss:     iss,
		sndNxt:  iss,
		sendBuf: newSendBuffer(cfg.SendBufferSize, iss+1),
		cc:      cfg.NewCongestionController(cfg.MSS),
		rtt:     NewRTTEstimator(cfg.MinRTO, cfg.MaxRTO),
		sb:      NewScoreboard(iss+1),
	}
	t.rto = cfg.MinRTO
	t.send(simnet.FlagSYN, iss, 0, nil)
	t.sndNxt++
	return t
}

// acceptedTCP constructs the server-side connection object for a SYN
// received against a Listener, per the three-way handshake. It sends
// SYN+ACK and waits in SYN_RECEIVED for the final ACK.
func acceptedTCP(local, remote netip.AddrPort, iss, irs uint32, sender Sender, clock Clock, cfg Config) *TCP {
	cfg = cfg.withDefaults()
	t := &TCP{
		Base:    simhost.NewBase(simhost.ACTIVE),
		cfg:     cfg,
		sender:  sender,
		clock:   clock,
		state:   StateSynReceived,
		local:   local,
		remote:  remote,
		iss:     iss,
		irs:     irs,
		sndNxt:  iss,
		sendBuf: newSendBuffer(cfg.SendBufferSize, iss+1),
		recvBuf: newRecvBuffer(cfg.RecvBufferSize, irs+1),
		cc:      cfg.NewCongestionController(cfg.MSS),
		rtt:     NewRTTEstimator(cfg.MinRTO, cfg.MaxRTO),
		sb:      NewScoreboard(iss+1),
	}
	t.rto = cfg.MinRTO
	t.send(simnet.FlagSYN|simnet.FlagACK, iss, irs+1, nil)
	t.sndNxt++
	return t
}

// State reports the connection's current FSM state.
func (t *TCP) State() State { return t.state }

// LocalAddr and RemoteAddr report the connection's bound endpoints.
func (t *TCP) LocalAddr() netip.AddrPort  { return t.local }
func (t *TCP) RemoteAddr() netip.AddrPort { return t.remote }

// Write appends p to the send buffer and paces emission per cwnd, peer
// window, and MSS segmentation (spec.md §4.5's send policy). It returns
// the number of bytes accepted, which may be less than len(p) if the send
// buffer is full.
func (t *TCP) Write(p []byte) (int, error) {
	if t.state != StateEstablished && t.state != StateCloseWait {
		return 0, fmt.Errorf("transport: write on connection in state %s", t.state)
	}
	if t.peerReset {
		t.SetBits(simhost.ERR)
		return 0, fmt.Errorf("transport: write to reset connection: %w", errEPIPE)
	}
	n := t.sendBuf.Append(p)
	t.transmit()
	t.refreshWritable()
	return n, nil
}

// Read copies buffered ordered payload into p, returning io.EOF once the
// peer's FIN has been consumed and nothing remains unread.
func (t *TCP) Read(p []byte) (int, error) {
	if t.recvBuf == nil {
		return 0, io.EOF
	}
	n := t.recvBuf.Read(p)
	if n > 0 {
		t.refreshReadable()
		return n, nil
	}
	if t.recvBuf.FinConsumed() {
		return 0, io.EOF
	}
	if t.peerReset {
		return 0, fmt.Errorf("transport: read from reset connection")
	}
	return 0, nil
}

// Close initiates the local half of connection teardown per spec.md
// §4.5's close policy: FIN_WAIT_1 from ESTABLISHED/SYN_RECEIVED, LAST_ACK
// from CLOSE_WAIT.
func (t *TCP) Close() error {
	switch t.state {
	case StateEstablished, StateSynReceived:
		t.state = StateFinWait1
		t.sendFin()
	case StateCloseWait:
		t.state = StateLastAck
		t.sendFin()
	case StateSynSent, StateListen:
		t.state = StateClosed
		t.SetBits(simhost.CLOSED)
	default:
		// Already closing or closed: no-op.
	}
	return nil
}

func (t *TCP) sendFin() {
	finSeq := t.sendBuf.Tail()
	t.send(simnet.FlagFIN|simnet.FlagACK, finSeq, t.ackNow(), nil)
	if t.sndNxt == finSeq {
		t.sndNxt++
	}
	t.scheduleRetransmit()
}

// HandleSegment processes one inbound segment against the current state,
// per the FSM of spec.md §3/§4.5. The caller (the per-host demux,
// eventually internal/worker) is responsible for routing segments to the
// TCP instance matching their 4-tuple.
func (t *TCP) HandleSegment(pkt *simnet.Packet) {
	if pkt.Flags&simnet.FlagRST != 0 {
		t.onReset()
		return
	}

	switch t.state {
	case StateSynSent:
		t.handleSynSent(pkt)
	case StateSynReceived:
		t.handleSynReceived(pkt)
	case StateEstablished, StateCloseWait:
		t.handleDataSegment(pkt)
	case StateFinWait1:
		t.handleFinWait1(pkt)
	case StateFinWait2:
		t.handleDataSegment(pkt)
		t.checkFinClose(pkt, StateFinWait2)
	case StateClosing:
		t.handleAckOnly(pkt)
		if !seqBefore(pkt.Ack, t.sndNxt) {
			t.enterTimeWait()
		}
	case StateLastAck:
		t.handleAckOnly(pkt)
		if !seqBefore(pkt.Ack, t.sndNxt) {
			t.finish()
		}
	default:
		// CLOSED/LISTEN/TIME_WAIT: a segment here is out-of-band for this
		// per-connection object; the demux should not route it here.
	}
}

func (t *TCP) onReset() {
	t.peerReset = true
	t.state = StateClosed
	t.cancelTimers()
	t.SetBits(simhost.ERR | simhost.HUP)
}

func (t *TCP) handleSynSent(pkt *simnet.Packet) {
	if pkt.Flags&simnet.FlagSYN == 0 {
		return
	}
	t.irs = pkt.Seq
	t.recvBuf = newRecvBuffer(t.cfg.RecvBufferSize, pkt.Seq+1)
	t.peerWindow = uint32(pkt.Window)

	if pkt.Flags&simnet.FlagACK != 0 && pkt.Ack == t.sndNxt {
		t.state = StateEstablished
		t.send(simnet.FlagACK, t.sndNxt, t.ackNow(), nil)
		t.refreshWritable()
		t.refreshReadable()
		return
	}
	// Simultaneous open: SYN without matching ACK.
	t.state = StateSynReceived
	t.send(simnet.FlagSYN|simnet.FlagACK, t.iss, t.ackNow(), nil)
}

func (t *TCP) handleSynReceived(pkt *simnet.Packet) {
	if pkt.Flags&simnet.FlagACK == 0 {
		return
	}
	if pkt.Ack != t.sndNxt {
		return
	}
	t.state = StateEstablished
	t.peerWindow = uint32(pkt.Window)
	t.refreshWritable()
	t.handleDataSegment(pkt)
}

func (t *TCP) handleFinWait1(pkt *simnet.Packet) {
	ackedFin := t.handleAckOnly(pkt)
	t.ingestPayload(pkt)

	switch {
	case pkt.Flags&simnet.FlagFIN != 0 && ackedFin:
		t.enterTimeWait()
	case pkt.Flags&simnet.FlagFIN != 0:
		t.state = StateClosing
		t.sendAckNow()
	case ackedFin:
		t.state = StateFinWait2
	}
}

func (t *TCP) checkFinClose(pkt *simnet.Packet, from State) {
	if pkt.Flags&simnet.FlagFIN != 0 && from == StateFinWait2 {
		t.enterTimeWait()
	}
}

// handleDataSegment processes payload/ACK fields common to ESTABLISHED,
// CLOSE_WAIT, and FIN_WAIT_2.
func (t *TCP) handleDataSegment(pkt *simnet.Packet) {
	t.handleAckOnly(pkt)
	t.ingestPayload(pkt)
	if pkt.Flags&simnet.FlagFIN != 0 && t.state == StateEstablished {
		t.state = StateCloseWait
		t.SetBits(simhost.HUP)
	}
}

// ingestPayload buffers any payload bytes carried by pkt and schedules
// the resulting ACK (immediate or delayed), per spec.md §4.5.
func (t *TCP) ingestPayload(pkt *simnet.Packet) {
	if t.recvBuf == nil {
		return
	}
	payload := pkt.Payload().Bytes()
	hasFin := pkt.Flags&simnet.FlagFIN != 0

	accepted := true
	if len(payload) > 0 {
		accepted = t.recvBuf.Accept(pkt.Seq, payload)
	}
	if hasFin {
		t.recvBuf.MarkFin(pkt.Seq + uint32(len(payload)))
	}
	t.refreshReadable()

	if !accepted || len(payload) > 0 || hasFin {
		t.sendAckNow()
		return
	}
	t.scheduleDelayedACK()
}

// handleAckOnly applies the cumulative-ACK and SACK fields of pkt against
// the send buffer, scoreboard, and congestion controller. It returns
// whether the ACK newly acknowledges the local FIN sequence.
func (t *TCP) handleAckOnly(pkt *simnet.Packet) bool {
	if pkt.Flags&simnet.FlagACK == 0 {
		return false
	}
	t.peerWindow = uint32(pkt.Window)

	ackedFin := false
	if !seqBefore(pkt.Ack, t.sendBuf.base) && pkt.Ack != t.sendBuf.base {
		acked := pkt.Ack - t.sendBuf.base
		t.sendBuf.AckThrough(pkt.Ack)
		t.sb.MarkAcked(pkt.Ack-acked, pkt.Ack)
		t.cc.OnACK(acked)
		t.rto = t.rtt.RTO()
		if pkt.Ack == t.sndNxt {
			ackedFin = t.sndNxt == t.sendBuf.Tail()+1 || t.sndNxt == t.sendBuf.Tail()
			t.cancelRetransmitTimer()
		}
		t.dupACKCount = 0
	} else if pkt.Ack == t.dupACKSeq {
		t.dupACKCount++
		t.cc.OnDupACK(t.dupACKCount)
	} else {
		t.dupACKSeq = pkt.Ack
		t.dupACKCount = 1
	}

	if len(pkt.SACK) > 0 {
		ranges := make([][2]uint32, len(pkt.SACK))
		for i, r := range pkt.SACK {
			ranges[i] = [2]uint32{r.Start, r.End}
		}
		t.sb.MarkSacked(ranges)
		for _, lost := range t.sb.DetectLost(reorderingBytes) {
			t.retransmitRange(lost[0], lost[1])
		}
	}

	t.transmit()
	t.refreshWritable()
	return ackedFin
}

func (t *TCP) enterTimeWait() {
	t.state = StateTimeWait
	t.cancelTimers()
	t.cancelTimeWait = t.clock.AfterFunc(t.cfg.TimeWait, t.finish)
}

func (t *TCP) finish() {
	t.state = StateClosed
	t.cancelTimers()
	t.SetBits(simhost.CLOSED)
}

func (t *TCP) cancelTimers() {
	if t.cancelRetransmit != nil {
		t.cancelRetransmit()
		t.cancelRetransmit = nil
	}
	if t.cancelDelayedACK != nil {
		t.cancelDelayedACK()
		t.cancelDelayedACK = nil
	}
}

func (t *TCP) cancelRetransmitTimer() {
	if t.cancelRetransmit != nil {
		t.cancelRetransmit()
		t.cancelRetransmit = nil
	}
}

// transmit segments unsent bytes from the send buffer, paced by
// cwnd ∧ peer_window ∧ rate_limit (the rate-limit factor is applied by
// the interface in internal/topology, not here), per spec.md §4.5.
func (t *TCP) transmit() {
	for {
		inFlight := t.sndNxt - t.sendBuf.base
		window := t.cc.CWND()
		if t.peerWindow < window {
			window = t.peerWindow
		}
		if uint32(inFlight) >= window {
			return
		}
		avail := t.sendBuf.Tail() - t.sndNxt
		if avail == 0 {
			return
		}
		segLen := t.cfg.MSS
		if uint32(avail) < segLen {
			segLen = uint32(avail)
		}
		if room := window - uint32(inFlight); segLen > room {
			segLen = room
		}
		if segLen == 0 {
			return
		}
		data := t.sendBuf.Slice(t.sndNxt, int(segLen))
		t.sb.MarkInFlight(t.sndNxt, t.sndNxt+uint32(len(data)))
		t.send(simnet.FlagACK, t.sndNxt, t.ackNow(), data)
		t.sndNxt += uint32(len(data))
		t.scheduleRetransmit()
	}
}

func (t *TCP) retransmitRange(start, end uint32) {
	data := t.sendBuf.Slice(start, int(end-start))
	if len(data) == 0 {
		return
	}
	t.sb.MarkRetransmitted(start, end)
	metrics.Retransmits.WithLabelValues("sack").Inc()
	t.send(simnet.FlagACK, start, t.ackNow(), data)
}

// onRetransmitTimeout fires at RTO: retransmit the oldest unacknowledged
// segment, double RTO (capped), and signal the congestion controller, per
// spec.md §4.5.
func (t *TCP) onRetransmitTimeout() {
	t.cancelRetransmit = nil
	if t.sendBuf.base == t.sndNxt {
		return
	}
	segLen := t.sndNxt - t.sendBuf.base
	if segLen > t.cfg.MSS {
		segLen = t.cfg.MSS
	}
	t.cc.OnTimeout()
	t.sb.MarkRetransmitted(t.sendBuf.base, t.sendBuf.base+segLen)
	metrics.Retransmits.WithLabelValues("rto").Inc()
	t.send(simnet.FlagACK, t.sendBuf.base, t.ackNow(), t.sendBuf.Slice(t.sendBuf.base, int(segLen)))

	t.rto *= 2
	if t.rto > t.cfg.MaxRTO {
		t.rto = t.cfg.MaxRTO
	}
	t.cancelRetransmit = t.clock.AfterFunc(t.rto, t.onRetransmitTimeout)
}

func (t *TCP) scheduleRetransmit() {
	if t.cancelRetransmit != nil {
		return
	}
	t.cancelRetransmit = t.clock.AfterFunc(t.rto, t.onRetransmitTimeout)
}

// scheduleDelayedACK arranges for an ACK-only segment to go out after at
// most cfg.DelayedACKMax, per spec.md §4.5's "delayed ACK permitted up to
// one segment or a virtual-time timer, whichever first" — the "one
// segment" half of that policy is enforced by ingestPayload calling
// sendAckNow directly whenever a segment carries data.
func (t *TCP) scheduleDelayedACK() {
	if t.delayedACKPending {
		return
	}
	t.delayedACKPending = true
	t.cancelDelayedACK = t.clock.AfterFunc(t.cfg.DelayedACKMax, func() {
		t.delayedACKPending = false
		t.cancelDelayedACK = nil
		t.sendAckNow()
	})
}

func (t *TCP) sendAckNow() {
	if t.delayedACKPending && t.cancelDelayedACK != nil {
		t.cancelDelayedACK()
		t.cancelDelayedACK = nil
		t.delayedACKPending = false
	}
	t.send(simnet.FlagACK, t.sndNxt, t.ackNow(), nil)
}

func (t *TCP) ackNow() uint32 {
	if t.recvBuf == nil {
		return t.irs
	}
	return t.recvBuf.orderedNext
}

// send constructs, seals, and hands off a segment via the Sender.
func (t *TCP) send(flags simnet.Flags, seq, ack uint32, payload []byte) {
	pkt := simnet.NewPacket(t.local, t.remote, simnet.ProtoTCP)
	pkt.Seq = seq
	pkt.Ack = ack
	pkt.Flags = flags
	if t.recvBuf != nil {
		pkt.Window = uint16(clampUint32(t.recvBuf.Free(), 0xFFFF))
	} else {
		pkt.Window = 0xFFFF
	}
	if len(payload) > 0 {
		pkt.WithPayload(simnet.NewPayload(payload))
	}
	if t.recvBuf != nil {
		if sack := t.recvBuf.SACKRanges(); len(sack) > 0 {
			pkt.Flags |= simnet.FlagSACK
			pkt.WithSACK(sack)
		}
	}
	pkt.Mark(simnet.MarkCreated)
	t.sender.SendPacket(pkt.Seal())
}

func clampUint32(v int, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func (t *TCP) refreshWritable() {
	writable := t.sendBuf.Free() > 0 && t.peerWindow > 0
	if writable {
		t.SetBits(simhost.WRITABLE)
	} else {
		t.ClearBits(simhost.WRITABLE)
	}
}

func (t *TCP) refreshReadable() {
	if t.recvBuf == nil {
		return
	}
	if t.recvBuf.Readable() > 0 || t.recvBuf.FinConsumed() {
		t.SetBits(simhost.READABLE)
	} else {
		t.ClearBits(simhost.READABLE)
	}
}

var errEPIPE = fmt.Errorf("broken pipe")

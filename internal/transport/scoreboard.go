package transport

import "sort"

// ByteState is the per-byte retransmit state spec.md §4.5 names.
type ByteState int

const (
	StateUnsent ByteState = iota
	StateInFlight
	StateSacked
	StateLost
	StateRetransmitted
)

// byteRun is a half-open [Start, End) run of sequence space sharing a
// single ByteState. The Scoreboard represents its state as a sorted,
// non-overlapping list of runs, merging adjacent runs of equal state.
type byteRun struct {
	Start, End uint32
	State      ByteState
}

// Scoreboard tracks per-byte send state across [sendBase, sendBase+len)
// using the SACK ranges carried on incoming ACKs, per spec.md §4.5. Byte
// comparisons use modular 32-bit sequence-space arithmetic throughout
// (spec.md §4.5's "Sequence space: 32-bit, wrap handled by modular
// comparison").
type Scoreboard struct {
	base uint32
	runs []byteRun
}

// NewScoreboard returns a scoreboard over [base, base) (empty).
func NewScoreboard(base uint32) *Scoreboard {
	return &Scoreboard{base: base}
}

// seqBefore reports whether a comes strictly before b in 32-bit modular
// sequence space (RFC 793 §3.3's "SEG.SEQ < SEG.ACK" comparison style).
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// MarkUnsent extends the tracked region to include [start, end) as
// unsent, called when new data is appended to the send buffer.
func (s *Scoreboard) MarkUnsent(start, end uint32) {
	s.setRange(start, end, StateUnsent)
}

// MarkInFlight transitions [start, end) to in-flight, called on
// transmission.
func (s *Scoreboard) MarkInFlight(start, end uint32) {
	s.setRange(start, end, StateInFlight)
}

// MarkSacked applies up to MaxSACKRanges ranges reported by an incoming
// ACK's SACK option.
func (s *Scoreboard) MarkSacked(ranges [][2]uint32) {
	for _, r := range ranges {
		s.setRange(r[0], r[1], StateSacked)
	}
}

// MarkAcked fully retires [start, end) — the cumulative ACK has advanced
// past it, so it leaves the tracked scoreboard altogether.
func (s *Scoreboard) MarkAcked(start, end uint32) {
	s.setRange(start, end, -1) // sentinel: remove
	if !seqBefore(s.base, end) {
		return
	}
	s.base = end
}

// MarkRetransmitted transitions [start, end) to retransmitted, typically
// following a MarkLost.
func (s *Scoreboard) MarkRetransmitted(start, end uint32) {
	s.setRange(start, end, StateRetransmitted)
}

// DetectLost scans for in-flight runs that are sequence-before a sacked
// run by more than reorderingBytes (the classic "3 dup ACKs"-equivalent
// byte-granularity heuristic) and marks them lost. Returns the lost
// ranges for the caller to act on (e.g. schedule retransmission).
func (s *Scoreboard) DetectLost(reorderingBytes uint32) [][2]uint32 {
	var highestSacked uint32
	haveSacked := false
	for _, r := range s.runs {
		if r.State == StateSacked && (!haveSacked || seqBefore(highestSacked, r.End)) {
			highestSacked = r.End
			haveSacked = true
		}
	}
	if !haveSacked {
		return nil
	}

	var lost [][2]uint32
	for i := range s.runs {
		r := &s.runs[i]
		if r.State != StateInFlight {
			continue
		}
		if seqBefore(r.End+reorderingBytes, highestSacked) {
			r.State = StateLost
			lost = append(lost, [2]uint32{r.Start, r.End})
		}
	}
	s.normalize()
	return lost
}

// State returns the tracked state of byte seq, or StateUnsent if seq is
// outside every tracked run (including before base, i.e. already acked).
func (s *Scoreboard) State(seq uint32) ByteState {
	for _, r := range s.runs {
		if !seqBefore(seq, r.Start) && seqBefore(seq, r.End) {
			return r.State
		}
	}
	return StateUnsent
}

func (s *Scoreboard) setRange(start, end uint32, state ByteState) {
	if start == end {
		return
	}

	var next []byteRun
	for _, r := range s.runs {
		// No overlap: keep as-is.
		if !seqOverlap(r.Start, r.End, start, end) {
			next = append(next, r)
			continue
		}
		// Overlap: keep the non-overlapping remainder(s).
		if seqBefore(r.Start, start) {
			next = append(next, byteRun{Start: r.Start, End: start, State: r.State})
		}
		if seqBefore(end, r.End) {
			next = append(next, byteRun{Start: end, End: r.End, State: r.State})
		}
	}
	s.runs = next

	if state >= 0 {
		s.runs = append(s.runs, byteRun{Start: start, End: end, State: state})
	}
	s.normalize()
}

func seqOverlap(aStart, aEnd, bStart, bEnd uint32) bool {
	return seqBefore(aStart, bEnd) && seqBefore(bStart, aEnd)
}

// normalize sorts runs by Start and merges adjacent runs of equal state.
func (s *Scoreboard) normalize() {
	sort.Slice(s.runs, func(i, j int) bool { return seqBefore(s.runs[i].Start, s.runs[j].Start) })

	var merged []byteRun
	for _, r := range s.runs {
		if len(merged) > 0 && merged[len(merged)-1].State == r.State && merged[len(merged)-1].End == r.Start {
			merged[len(merged)-1].End = r.End
			continue
		}
		merged = append(merged, r)
	}
	s.runs = merged
}

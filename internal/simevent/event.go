// Package simevent implements the time-ordered event and per-host event
// queue that drive Shadow's discrete-event kernel.
package simevent

import "github.com/shadow-sim/shadow/internal/vtime"

// HostID identifies a simulated host. Defined here rather than imported
// from simhost to avoid an import cycle (simhost imports simevent).
type HostID uint32

// Kind tags the variant carried by an Event's Payload.
type Kind int

const (
	KindPacketArrived Kind = iota
	KindPacketDropped
	KindInterfaceSent
	KindRetransmitTimer
	KindCloseTimer
	KindCallback
	KindStartApplication
	KindStopApplication
)

func (k Kind) String() string {
	switch k {
	case KindPacketArrived:
		return "packet-arrived"
	case KindPacketDropped:
		return "packet-dropped"
	case KindInterfaceSent:
		return "interface-sent"
	case KindRetransmitTimer:
		return "retransmit-timer"
	case KindCloseTimer:
		return "close-timer"
	case KindCallback:
		return "callback"
	case KindStartApplication:
		return "start-application"
	case KindStopApplication:
		return "stop-application"
	default:
		return "unknown"
	}
}

// Payload is the tagged variant carried by every Event. Concrete payload
// types implement this by returning their Kind; the dispatcher type-switches
// on the concrete type to extract event-specific fields.
type Payload interface {
	Kind() Kind
}

// Callback is a generic event payload: the action is invoked synchronously
// by the event loop when the event is popped.
type Callback struct {
	Action func()
}

func (Callback) Kind() Kind { return KindCallback }

// Event is the fundamental scheduling unit: a payload due at Time on HostID,
// ordered against other events on the same host by Seq.
type Event struct {
	Time    vtime.Time
	HostID  HostID
	Seq     uint64
	Payload Payload
}

// Less orders two events by (Time, Seq), which is the total order the
// simulator guarantees within a single host's queue.
func Less(a, b Event) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return a.Seq < b.Seq
}

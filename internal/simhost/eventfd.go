package simhost

import "fmt"

// EventFD implements the eventfd(2) counter: reads block/return based on
// the 64-bit counter, writes add to it, and READABLE mirrors counter != 0.
type EventFD struct {
	*Base
	counter  uint64
	semFlag  bool
	maxValue uint64
}

// NewEventFD returns an eventfd starting at initval, in EFD_SEMAPHORE mode
// if semFlag is set.
func NewEventFD(initval uint64, semFlag bool) *EventFD {
	e := &EventFD{Base: NewBase(ACTIVE | WRITABLE), counter: initval, semFlag: semFlag, maxValue: ^uint64(0) - 1}
	if initval != 0 {
		e.SetBits(READABLE)
	}
	return e
}

// Read implements the 8-byte read(2) semantics of eventfd: in semaphore
// mode it decrements by 1 and returns 1; otherwise it returns and resets
// the whole counter. Returns (0, false) if the counter is currently 0
// (caller must treat this as EAGAIN/block).
func (e *EventFD) Read() (uint64, bool) {
	if e.counter == 0 {
		return 0, false
	}
	var v uint64
	if e.semFlag {
		v = 1
		e.counter--
	} else {
		v = e.counter
		e.counter = 0
	}
	e.syncStatus()
	return v, true
}

// Write adds v to the counter. Returns an error if it would overflow
// past maxValue, matching EFD counter saturation semantics.
func (e *EventFD) Write(v uint64) error {
	if v == ^uint64(0) {
		return fmt.Errorf("simhost: eventfd write value 0xffffffffffffffff is invalid")
	}
	if e.counter+v < e.counter || e.counter+v > e.maxValue {
		return errEventFDWouldBlock
	}
	e.counter += v
	e.syncStatus()
	return nil
}

func (e *EventFD) syncStatus() {
	if e.counter != 0 {
		e.SetBits(READABLE)
	} else {
		e.ClearBits(READABLE)
	}
}

func (e *EventFD) Close() error {
	e.SetStatus(CLOSED)
	return nil
}

var errEventFDWouldBlock = simhostError("eventfd counter would overflow")

package simhost

// Descriptor is the common interface every table entry satisfies, whether
// it is a regular file, pipe, eventfd, timerfd, epoll instance, or socket
// (TCP/UDP sockets are implemented in package transport and satisfy this
// interface too).
type Descriptor interface {
	// Status returns the descriptor's current status bitfield.
	Status() Status
	// AddListener registers a listener and returns a removable token.
	AddListener(l Listener) uint64
	// RemoveListener unregisters a previously added listener.
	RemoveListener(token uint64)
	// Close releases the descriptor's underlying resources. Called once,
	// when the table slot's refcount reaches zero.
	Close() error
}

// Base is embeddable scaffolding most Descriptor implementations share:
// status bits plus a listener set, with the bit-toggle/notify plumbing
// done once.
type Base struct {
	status    Status
	listeners *listenerSet
}

// NewBase returns descriptor scaffolding with the given initial status.
func NewBase(initial Status) *Base {
	return &Base{status: initial, listeners: newListenerSet()}
}

func (b *Base) Status() Status { return b.status }

func (b *Base) AddListener(l Listener) uint64 { return b.listeners.Add(l) }

func (b *Base) RemoveListener(token uint64) { b.listeners.Remove(token) }

// SetStatus replaces the status bitfield and notifies listeners of the
// delta between the old and new value. Bits that did not change are not
// included in delta, so a listener interested only in READABLE does not
// fire when, say, ERR toggles independently.
func (b *Base) SetStatus(new Status) {
	delta := b.status ^ new
	b.status = new
	if delta != 0 {
		b.listeners.fire(new, delta)
	}
}

// SetBits ORs the given bits into the status.
func (b *Base) SetBits(bits Status) {
	b.SetStatus(b.status | bits)
}

// ClearBits clears the given bits from the status.
func (b *Base) ClearBits(bits Status) {
	b.SetStatus(b.status &^ bits)
}

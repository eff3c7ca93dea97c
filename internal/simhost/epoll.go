package simhost

// Epoll implements the epoll_create/ctl/wait family's in-simulator state
// per spec.md §4.7: a watch map from fd to interest mask, and a ready set.
// The epoll descriptor's own READABLE bit mirrors "ready set nonempty",
// which is what epoll_wait's blocking condition (see internal/blocking)
// actually waits on.
type Epoll struct {
	*Base

	table *DescriptorTable
	watch map[int]*watchEntry
	ready map[int]struct{}
}

type watchEntry struct {
	mask  Status
	token uint64
}

// NewEpoll constructs an empty epoll instance bound to the owning host's
// descriptor table, used to resolve watched fds.
func NewEpoll(table *DescriptorTable) *Epoll {
	return &Epoll{
		Base:  NewBase(ACTIVE),
		table: table,
		watch: make(map[int]*watchEntry),
		ready: make(map[int]struct{}),
	}
}

// Add registers fd for events in mask. Returns an error if fd is already
// watched (EEXIST semantics belong to the syscall handler, not here).
func (e *Epoll) Add(fd int, mask Status) error {
	if _, exists := e.watch[fd]; exists {
		return errAlreadyWatched
	}

	desc, ok := e.table.Lookup(fd)
	if !ok {
		return errNoSuchDescriptor
	}

	entry := &watchEntry{mask: mask}
	entry.token = desc.AddListener(Listener{
		Mask: mask,
		Notify: func(new, _ Status) {
			e.refreshReady(fd, desc, mask, new)
		},
	})
	e.watch[fd] = entry

	e.refreshReady(fd, desc, mask, desc.Status())
	return nil
}

// Mod changes the interest mask for an already-watched fd.
func (e *Epoll) Mod(fd int, mask Status) error {
	entry, exists := e.watch[fd]
	if !exists {
		return errNoSuchDescriptor
	}
	desc, ok := e.table.Lookup(fd)
	if !ok {
		return errNoSuchDescriptor
	}

	desc.RemoveListener(entry.token)
	entry.mask = mask
	entry.token = desc.AddListener(Listener{
		Mask: mask,
		Notify: func(new, _ Status) {
			e.refreshReady(fd, desc, mask, new)
		},
	})

	e.refreshReady(fd, desc, mask, desc.Status())
	return nil
}

// Del stops watching fd.
func (e *Epoll) Del(fd int) error {
	entry, exists := e.watch[fd]
	if !exists {
		return errNoSuchDescriptor
	}
	if desc, ok := e.table.Lookup(fd); ok {
		desc.RemoveListener(entry.token)
	}
	delete(e.watch, fd)
	delete(e.ready, fd)
	e.syncReadable()
	return nil
}

func (e *Epoll) refreshReady(fd int, desc Descriptor, mask, status Status) {
	if status&mask != 0 {
		e.ready[fd] = struct{}{}
	} else {
		delete(e.ready, fd)
	}
	e.syncReadable()
}

func (e *Epoll) syncReadable() {
	if len(e.ready) > 0 {
		e.SetBits(READABLE)
	} else {
		e.ClearBits(READABLE)
	}
}

// ReadyEvent pairs a ready fd with the status bits that satisfied it.
type ReadyEvent struct {
	FD     int
	Status Status
}

// Wait drains up to maxEvents ready entries without blocking (epoll_wait's
// blocking behavior is implemented by the syscall handler using the
// descriptor's READABLE bit as a blocking::Condition trigger; this method
// is the non-blocking "collect what's ready" half).
func (e *Epoll) Wait(maxEvents int) []ReadyEvent {
	out := make([]ReadyEvent, 0, min(maxEvents, len(e.ready)))
	for fd := range e.ready {
		if len(out) >= maxEvents {
			break
		}
		entry := e.watch[fd]
		desc, ok := e.table.Lookup(fd)
		if !ok {
			continue
		}
		out = append(out, ReadyEvent{FD: fd, Status: desc.Status() & entry.mask})
	}
	return out
}

var (
	errAlreadyWatched   = simhostError("fd already registered with this epoll instance")
	errNoSuchDescriptor = simhostError("fd not registered with this epoll instance")
)

type simhostError string

func (e simhostError) Error() string { return string(e) }

package simhost

import (
	"fmt"

	"github.com/shadow-sim/shadow/internal/bitset"
)

// lowSlots bounds the range of descriptor numbers tracked by the tiny
// bitset fast path; beyond this, free-slot lookup falls back to a linear
// scan over the overflow slice. Most processes stay well under this.
const lowSlots = 64 * bitset.MaxBitsetWords

type slot struct {
	desc       Descriptor
	refcount   int
	generation uint64
	// cloexec is the FD_CLOEXEC bit kept in the table slot itself, as
	// distinct from any O_CLOEXEC flag the underlying object carries.
	cloexec bool
}

// DescriptorTable is a per-host, fixed-base, lowest-unused-integer
// allocator over descriptor slots. It is mutated only by the owning
// host's worker thread and carries no internal locking.
type DescriptorTable struct {
	slots     []slot
	used      bitset.TinyBitset // tracks occupied slots < lowSlots
	freeAbove []int             // free slots >= lowSlots, unordered
}

// NewDescriptorTable returns an empty table.
func NewDescriptorTable() *DescriptorTable {
	return &DescriptorTable{}
}

// Len reports the number of currently occupied descriptor slots.
func (t *DescriptorTable) Len() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].desc != nil {
			n++
		}
	}
	return n
}

// Handle identifies a live descriptor slot together with the generation it
// was allocated at, so that a stale reference (held by e.g. a blocking
// condition across a close/reopen of the same fd) can be recognized as
// stale rather than silently resolving to a different object.
type Handle struct {
	FD         int
	Generation uint64
}

// Insert allocates the lowest-unused fd for desc and returns its handle
// with an initial refcount of 1.
func (t *DescriptorTable) Insert(desc Descriptor) Handle {
	fd := t.allocSlot()
	gen := t.slots[fd].generation + 1

	t.slots[fd] = slot{desc: desc, refcount: 1, generation: gen}
	return Handle{FD: fd, Generation: gen}
}

// allocSlot finds the lowest unused fd, growing the table as needed.
func (t *DescriptorTable) allocSlot() int {
	for idx := 0; idx < lowSlots; idx++ {
		if !t.bitSet(idx) {
			t.growTo(idx + 1)
			t.setBit(idx)
			return idx
		}
	}

	if len(t.freeAbove) > 0 {
		fd := t.freeAbove[len(t.freeAbove)-1]
		t.freeAbove = t.freeAbove[:len(t.freeAbove)-1]
		return fd
	}

	fd := len(t.slots)
	t.growTo(fd + 1)
	return fd
}

func (t *DescriptorTable) growTo(n int) {
	for len(t.slots) < n {
		t.slots = append(t.slots, slot{})
	}
}

func (t *DescriptorTable) bitSet(idx int) bool {
	return t.used.Has(uint32(idx))
}

func (t *DescriptorTable) setBit(idx int) { t.used.Insert(uint32(idx)) }

// Lookup returns the descriptor at fd, or (nil, false) if fd is
// unallocated. It does not check generations; see Resolve for that.
func (t *DescriptorTable) Lookup(fd int) (Descriptor, bool) {
	if fd < 0 || fd >= len(t.slots) || t.slots[fd].desc == nil {
		return nil, false
	}
	return t.slots[fd].desc, true
}

// HandleFor returns the current live Handle (including generation) for fd,
// for callers that need to register a weak reference (e.g. a blocking
// trigger) against whatever currently occupies that slot.
func (t *DescriptorTable) HandleFor(fd int) (Handle, bool) {
	if fd < 0 || fd >= len(t.slots) || t.slots[fd].desc == nil {
		return Handle{}, false
	}
	return Handle{FD: fd, Generation: t.slots[fd].generation}, true
}

// Resolve is like Lookup but additionally validates the handle's
// generation, implementing the weak-handle discipline of DESIGN.md: a
// listener holding a Handle from a closed-and-reallocated fd must not
// resolve to the new occupant.
func (t *DescriptorTable) Resolve(h Handle) (Descriptor, bool) {
	d, ok := t.Lookup(h.FD)
	if !ok || t.slots[h.FD].generation != h.Generation {
		return nil, false
	}
	return d, true
}

// Dup duplicates oldfd onto the lowest-unused fd, per POSIX dup(2),
// incrementing the shared object's refcount. The FD_CLOEXEC flag is NOT
// inherited (per POSIX).
func (t *DescriptorTable) Dup(oldfd int) (Handle, error) {
	if oldfd < 0 || oldfd >= len(t.slots) || t.slots[oldfd].desc == nil {
		return Handle{}, fmt.Errorf("simhost: dup of unallocated fd %d", oldfd)
	}
	newfd := t.allocSlot()
	gen := t.slots[newfd].generation + 1
	t.slots[newfd] = slot{desc: t.slots[oldfd].desc, refcount: 1, generation: gen}
	t.slots[oldfd].refcount++
	return Handle{FD: newfd, Generation: gen}, nil
}

// Dup2 duplicates oldfd onto newfd per POSIX dup2(2): if newfd is already
// open it is closed first (as if by Close), atomically from the caller's
// perspective (no window where newfd is empty, since table mutation is
// single-threaded per host).
func (t *DescriptorTable) Dup2(oldfd, newfd int) error {
	if oldfd < 0 || oldfd >= len(t.slots) || t.slots[oldfd].desc == nil {
		return fmt.Errorf("simhost: dup2 of unallocated fd %d", oldfd)
	}
	if oldfd == newfd {
		return nil
	}
	if newfd < len(t.slots) && t.slots[newfd].desc != nil {
		if err := t.closeSlot(newfd); err != nil {
			return err
		}
	}
	t.growTo(newfd + 1)
	if newfd < lowSlots {
		t.setBit(newfd)
	}
	gen := t.slots[newfd].generation + 1
	t.slots[newfd] = slot{desc: t.slots[oldfd].desc, refcount: 1, generation: gen}
	t.slots[oldfd].refcount++
	return nil
}

// SetCloseOnExec sets or clears the FD_CLOEXEC bit on the table slot.
func (t *DescriptorTable) SetCloseOnExec(fd int, v bool) error {
	if fd < 0 || fd >= len(t.slots) || t.slots[fd].desc == nil {
		return fmt.Errorf("simhost: fcntl on unallocated fd %d", fd)
	}
	t.slots[fd].cloexec = v
	return nil
}

// CloseOnExec reports the FD_CLOEXEC bit on the table slot.
func (t *DescriptorTable) CloseOnExec(fd int) bool {
	if fd < 0 || fd >= len(t.slots) {
		return false
	}
	return t.slots[fd].cloexec
}

// Close decrements fd's refcount; at zero, the descriptor is closed and
// the slot freed for reuse.
func (t *DescriptorTable) Close(fd int) error {
	return t.closeSlot(fd)
}

func (t *DescriptorTable) closeSlot(fd int) error {
	if fd < 0 || fd >= len(t.slots) || t.slots[fd].desc == nil {
		return fmt.Errorf("simhost: close of unallocated fd %d", fd)
	}

	t.slots[fd].refcount--
	if t.slots[fd].refcount > 0 {
		return nil
	}

	desc := t.slots[fd].desc
	t.slots[fd].desc = nil
	t.slots[fd].cloexec = false
	t.freeSlot(fd)

	return desc.Close()
}

func (t *DescriptorTable) freeSlot(fd int) {
	if fd < lowSlots {
		t.used.Remove(uint32(fd))
		return
	}
	t.freeAbove = append(t.freeAbove, fd)
}

// ExecClose closes every slot whose FD_CLOEXEC bit is set, as performed
// across an exec() boundary. Shadow's managed processes are not actually
// exec'd by the kernel, and no syscall handler in this tree calls it.
func (t *DescriptorTable) ExecClose() error {
	for fd := range t.slots {
		if t.slots[fd].desc != nil && t.slots[fd].cloexec {
			if err := t.closeSlot(fd); err != nil {
				return err
			}
		}
	}
	return nil
}

package syscalls

import (
	"golang.org/x/sys/unix"

	"github.com/shadow-sim/shadow/internal/simhost"
)

// MemorySyscalls registers the memory-management family spec.md §4.4 scopes
// out of virtualization entirely: mmap/mremap/munmap/mprotect/brk run
// against the real process address space, so every handler here just
// defers to the native kernel. mmap is the one member of this family that
// still needs to look at simulator state first: mapping a simhost.RegularFile
// requires the handshake in spec.md §4.9 below, since the fd the managed
// process passed was never actually opened by its own kernel.
func (h *Handlers) MemorySyscalls() map[int64]Handler {
	native := func(ctx *Context) Result { return Native() }
	return map[int64]Handler{
		unix.SYS_MMAP:     h.mmap,
		unix.SYS_MREMAP:   native,
		unix.SYS_MUNMAP:   native,
		unix.SYS_MPROTECT: native,
		unix.SYS_BRK:      native,
	}
}

// mmap defers to the real kernel for every mapping, per spec.md §4.4, but
// a mapping of a simhost.RegularFile is backed by an fd that only exists in
// the simulator's own process, not the managed process's. Per spec.md
// §4.9, such a mapping must be re-opened as /proc/<simulator-pid>/fd/<fd>
// inside the managed process before the real mmap(2) runs there; mmap
// reports which simulator-side fd that is via Result.NativeFD so a
// ProcessLauncher can perform the re-open. Anonymous mappings, a negative
// fd, and descriptors in the table that are not a simhost.RegularFile need
// no such remap and are left as a plain Native() result; an fd that is not
// in the host's descriptor table fails with EBADF.
func (h *Handlers) mmap(ctx *Context) Result {
	flags := int32(ctx.Args[3])
	if flags&(unix.MAP_ANONYMOUS) != 0 {
		return Native()
	}

	fd := int32(ctx.Args[4])
	if fd < 0 {
		return Native()
	}

	desc, ok := ctx.Host.Descs.Lookup(int(fd))
	if !ok {
		return Errno(unix.EBADF)
	}

	reg, ok := desc.(*simhost.RegularFile)
	if !ok {
		return Native()
	}
	return NativeRemapFD(int(reg.OSFile.Fd()))
}

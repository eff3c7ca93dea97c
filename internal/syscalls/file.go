package syscalls

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/shadow-sim/shadow/internal/blocking"
	"github.com/shadow-sim/shadow/internal/simhost"
)

const pathMax = 4096

// Handlers bundles the configuration the file/time/poll/socket handler
// families need, and exposes one *-Syscalls() method per family returning
// a registration map for Dispatcher.RegisterAll.
type Handlers struct {
	Special SpecialPaths
	Network Network
	Engine  *blocking.Engine
}

// virtualFile backs the in-memory content spec.md §4.4's special-path
// policy generates (hosts file, /dev/[u]random, the cpu-topology and uuid
// files) — a plain offset-addressed byte buffer rather than a real
// *os.File, since nothing backs it on disk.
type virtualFile struct {
	*simhost.Base
	content []byte
	offset  int
}

func newVirtualFile(content []byte) *virtualFile {
	return &virtualFile{Base: simhost.NewBase(simhost.ACTIVE | simhost.READABLE), content: content}
}

func (v *virtualFile) Read(p []byte) (int, error) {
	if v.offset >= len(v.content) {
		return 0, nil
	}
	n := copy(p, v.content[v.offset:])
	v.offset += n
	return n, nil
}

func (v *virtualFile) Close() error {
	v.SetStatus(simhost.CLOSED)
	return nil
}

// FileSyscalls registers the file-table handlers read/write/pread64/
// pwrite64, open/openat/close/creat, and lseek; readv and writev are not
// registered. Regular-file I/O completes synchronously within virtual
// time (SPEC_FULL.md's resolved open question); a read on a descriptor
// that is not yet readable, such as an eventfd or timerfd, returns
// Blocked.
func (h *Handlers) FileSyscalls() map[int64]Handler {
	return map[int64]Handler{
		unix.SYS_OPEN:    h.open,
		unix.SYS_OPENAT:  h.openat,
		unix.SYS_CREAT:   h.creat,
		unix.SYS_CLOSE:   h.close,
		unix.SYS_READ:    h.read,
		unix.SYS_PREAD64: h.pread,
		unix.SYS_WRITE:   h.write,
		unix.SYS_PWRITE64: h.pwrite,
		unix.SYS_LSEEK:   h.lseek,
	}
}

func (h *Handlers) resolveDirFD(ctx *Context, dirfd int32) (string, bool) {
	if dirfd == unix.AT_FDCWD {
		return ctx.Host.WorkDir, true
	}
	desc, ok := ctx.Host.Descs.Lookup(int(dirfd))
	if !ok {
		return "", false
	}
	rf, ok := desc.(*simhost.RegularFile)
	if !ok {
		return "", false
	}
	return rf.AbsPath, true
}

func (h *Handlers) open(ctx *Context) Result {
	return h.doOpen(ctx, unix.AT_FDCWD, ctx.Args[0], int(ctx.Args[1]), uint32(ctx.Args[2]))
}

func (h *Handlers) openat(ctx *Context) Result {
	return h.doOpen(ctx, int32(ctx.Args[0]), ctx.Args[1], int(ctx.Args[2]), uint32(ctx.Args[3]))
}

func (h *Handlers) creat(ctx *Context) Result {
	flags := os.O_CREAT | os.O_WRONLY | os.O_TRUNC
	return h.doOpen(ctx, unix.AT_FDCWD, ctx.Args[0], flags, uint32(ctx.Args[1]))
}

func (h *Handlers) doOpen(ctx *Context, dirfd int32, pathPtr uint64, flags int, mode uint32) Result {
	path, err := ctx.Mem.ReadCString(uintptr(pathPtr), pathMax)
	if err != nil {
		return Errno(unix.EFAULT)
	}
	base, ok := h.resolveDirFD(ctx, dirfd)
	if !ok {
		return Errno(unix.EBADF)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(base, path)
	}

	res := h.Special.Resolve(abs, ctx.Host.RNG)

	var desc simhost.Descriptor
	if res.Virtual != nil {
		desc = newVirtualFile(res.Virtual)
	} else {
		f, oerr := os.OpenFile(res.Path, flags, os.FileMode(mode))
		if oerr != nil {
			return Errno(errnoFromOS(oerr))
		}
		desc = simhost.NewRegularFile(f, res.Path)
	}

	handle := ctx.Host.Descs.Insert(desc)
	return Done(int64(handle.FD))
}

func (h *Handlers) close(ctx *Context) Result {
	fd := int(int32(ctx.Args[0]))
	if err := ctx.Host.Descs.Close(fd); err != nil {
		return Errno(unix.EBADF)
	}
	return Done(0)
}

func (h *Handlers) read(ctx *Context) Result {
	return h.doRead(ctx, int(int32(ctx.Args[0])), uintptr(ctx.Args[1]), int(ctx.Args[2]), -1)
}

func (h *Handlers) pread(ctx *Context) Result {
	return h.doRead(ctx, int(int32(ctx.Args[0])), uintptr(ctx.Args[1]), int(ctx.Args[2]), int64(ctx.Args[3]))
}

func (h *Handlers) doRead(ctx *Context, fd int, bufPtr uintptr, count int, offset int64) Result {
	desc, ok := ctx.Host.Descs.Lookup(fd)
	if !ok {
		return Errno(unix.EBADF)
	}

	switch d := desc.(type) {
	case *simhost.EventFD:
		return readEventFD(ctx, fd, d, bufPtr)
	case *simhost.TimerFD:
		return readTimerFD(d, ctx, fd, bufPtr)
	}

	type reader interface {
		Read(p []byte) (int, error)
	}
	r, ok := desc.(reader)
	if !ok {
		return Errno(unix.EINVAL)
	}

	buf := make([]byte, count)
	var n int
	var err error
	if rf, ok := desc.(*simhost.RegularFile); ok && offset >= 0 {
		n, err = rf.OSFile.ReadAt(buf, offset)
	} else {
		n, err = r.Read(buf)
	}
	if err != nil && n == 0 {
		return Errno(unix.EIO)
	}
	if n > 0 {
		if werr := ctx.Mem.Write(bufPtr, buf[:n]); werr != nil {
			return Errno(unix.EFAULT)
		}
	}
	return Done(int64(n))
}

func (h *Handlers) write(ctx *Context) Result {
	return h.doWrite(ctx, int(int32(ctx.Args[0])), uintptr(ctx.Args[1]), int(ctx.Args[2]), -1)
}

func (h *Handlers) pwrite(ctx *Context) Result {
	return h.doWrite(ctx, int(int32(ctx.Args[0])), uintptr(ctx.Args[1]), int(ctx.Args[2]), int64(ctx.Args[3]))
}

func (h *Handlers) doWrite(ctx *Context, fd int, bufPtr uintptr, count int, offset int64) Result {
	desc, ok := ctx.Host.Descs.Lookup(fd)
	if !ok {
		return Errno(unix.EBADF)
	}

	if ev, ok := desc.(*simhost.EventFD); ok {
		return writeEventFD(ctx, ev, bufPtr)
	}

	buf, err := ctx.Mem.Read(bufPtr, count)
	if err != nil {
		return Errno(unix.EFAULT)
	}

	type writer interface {
		Write(p []byte) (int, error)
	}

	if rf, ok := desc.(*simhost.RegularFile); ok && offset >= 0 {
		n, werr := rf.OSFile.WriteAt(buf, offset)
		if werr != nil {
			return Errno(unix.EIO)
		}
		return Done(int64(n))
	}

	w, ok := desc.(writer)
	if !ok {
		return Errno(unix.EINVAL)
	}
	n, werr := w.Write(buf)
	if werr != nil && n == 0 {
		return Errno(unix.EIO)
	}
	return Done(int64(n))
}

func (h *Handlers) lseek(ctx *Context) Result {
	fd := int(int32(ctx.Args[0]))
	offset := int64(ctx.Args[1])
	whence := int(ctx.Args[2])

	desc, ok := ctx.Host.Descs.Lookup(fd)
	if !ok {
		return Errno(unix.EBADF)
	}
	rf, ok := desc.(*simhost.RegularFile)
	if !ok {
		return Errno(unix.ESPIPE)
	}
	pos, err := rf.OSFile.Seek(offset, whence)
	if err != nil {
		return Errno(unix.EINVAL)
	}
	return Done(pos)
}

// errnoFromOS extracts the underlying syscall.Errno from an *os.PathError
// (or similar), defaulting to EIO if none is present.
func errnoFromOS(err error) unix.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return unix.Errno(errno)
	}
	if os.IsNotExist(err) {
		return unix.ENOENT
	}
	if os.IsPermission(err) {
		return unix.EACCES
	}
	return unix.EIO
}

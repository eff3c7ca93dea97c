package syscalls

import (
	"encoding/binary"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/transport"
)

// Network is the host-level seam socket.go dispatches through: it owns the
// RNG-derived initial sequence numbers, the Sender wiring into the
// topology router, and ephemeral port allocation — concerns that belong to
// the host/worker, not to the syscall layer itself. internal/worker
// supplies the concrete implementation.
type Network interface {
	DialTCP(local, remote netip.AddrPort) (*transport.TCP, error)
	ListenTCP(local netip.AddrPort, backlog int) (*transport.Listener, error)
	NewUDP(local netip.AddrPort) (*transport.UDP, error)
	ReserveEphemeralPort(proto string, addr netip.Addr) (uint16, error)
}

const (
	sockStream = 1 // SOCK_STREAM
	sockDgram  = 2 // SOCK_DGRAM
)

// socketFile is the descriptor a socket(2) call allocates. It starts
// unbound and gains a concrete transport object (tcp, udp, or lis) once
// connect/listen succeeds; status/listener registration delegate to
// whichever is set, so epoll/poll work uniformly before and after.
type socketFile struct {
	*simhost.Base
	proto int
	local netip.AddrPort

	tcp *transport.TCP
	udp *transport.UDP
	lis *transport.Listener
}

func newSocketFile(proto int) *socketFile {
	return &socketFile{Base: simhost.NewBase(simhost.ACTIVE), proto: proto}
}

func (s *socketFile) bound() simhost.Descriptor {
	switch {
	case s.tcp != nil:
		return s.tcp
	case s.udp != nil:
		return s.udp
	case s.lis != nil:
		return s.lis
	default:
		return nil
	}
}

func (s *socketFile) Status() simhost.Status {
	if b := s.bound(); b != nil {
		return b.Status()
	}
	return s.Base.Status()
}

func (s *socketFile) AddListener(l simhost.Listener) uint64 {
	if b := s.bound(); b != nil {
		return b.AddListener(l)
	}
	return s.Base.AddListener(l)
}

func (s *socketFile) RemoveListener(token uint64) {
	if b := s.bound(); b != nil {
		b.RemoveListener(token)
		return
	}
	s.Base.RemoveListener(token)
}

func (s *socketFile) Close() error {
	if b := s.bound(); b != nil {
		return b.Close()
	}
	s.SetStatus(simhost.CLOSED)
	return nil
}

// SocketSyscalls registers spec.md §4.5's socket family.
func (h *Handlers) SocketSyscalls() map[int64]Handler {
	return map[int64]Handler{
		unix.SYS_SOCKET:     h.socket,
		unix.SYS_BIND:       h.bind,
		unix.SYS_LISTEN:     h.listen,
		unix.SYS_ACCEPT:     h.accept,
		unix.SYS_ACCEPT4:    h.accept,
		unix.SYS_CONNECT:    h.connect,
		unix.SYS_SENDTO:     h.sendto,
		unix.SYS_RECVFROM:   h.recvfrom,
		unix.SYS_SETSOCKOPT: h.setsockopt,
		unix.SYS_GETSOCKOPT: h.getsockopt,
	}
}

func (h *Handlers) socket(ctx *Context) Result {
	family := int(ctx.Args[0])
	typ := int(ctx.Args[1]) &^ (unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC)

	if family != unix.AF_INET && family != unix.AF_INET6 {
		return Errno(unix.EAFNOSUPPORT)
	}
	var proto int
	switch typ {
	case unix.SOCK_STREAM:
		proto = sockStream
	case unix.SOCK_DGRAM:
		proto = sockDgram
	default:
		return Errno(unix.EPROTONOSUPPORT)
	}

	sock := newSocketFile(proto)
	handle := ctx.Host.Descs.Insert(sock)
	return Done(int64(handle.FD))
}

func (h *Handlers) lookupSocket(ctx *Context, fd int) (*socketFile, Result, bool) {
	desc, ok := ctx.Host.Descs.Lookup(fd)
	if !ok {
		return nil, Errno(unix.EBADF), false
	}
	sock, ok := desc.(*socketFile)
	if !ok {
		return nil, Errno(unix.ENOTSOCK), false
	}
	return sock, Result{}, true
}

func (h *Handlers) bind(ctx *Context) Result {
	fd := int(int32(ctx.Args[0]))
	sock, errRes, ok := h.lookupSocket(ctx, fd)
	if !ok {
		return errRes
	}
	addr, err := readSockaddr(ctx, uintptr(ctx.Args[1]), int(ctx.Args[2]))
	if err != nil {
		return Errno(unix.EINVAL)
	}
	if addr.Port() == 0 {
		proto := "tcp"
		if sock.proto == sockDgram {
			proto = "udp"
		}
		port, perr := h.Network.ReserveEphemeralPort(proto, addr.Addr())
		if perr != nil {
			return Errno(unix.EADDRINUSE)
		}
		addr = netip.AddrPortFrom(addr.Addr(), port)
	}
	sock.local = addr
	return Done(0)
}

func (h *Handlers) listen(ctx *Context) Result {
	fd := int(int32(ctx.Args[0]))
	backlog := int(ctx.Args[1])
	sock, errRes, ok := h.lookupSocket(ctx, fd)
	if !ok {
		return errRes
	}
	if sock.proto != sockStream {
		return Errno(unix.EOPNOTSUPP)
	}
	lis, err := h.Network.ListenTCP(sock.local, backlog)
	if err != nil {
		return Errno(unix.EADDRINUSE)
	}
	sock.lis = lis
	return Done(0)
}

func (h *Handlers) accept(ctx *Context) Result {
	fd := int(int32(ctx.Args[0]))
	sock, errRes, ok := h.lookupSocket(ctx, fd)
	if !ok {
		return errRes
	}
	if sock.lis == nil {
		return Errno(unix.EINVAL)
	}
	child, err := sock.lis.Accept()
	if err != nil {
		return blockOnReadable(ctx, fd)
	}
	childSock := newSocketFile(sockStream)
	childSock.tcp = child
	handle := ctx.Host.Descs.Insert(childSock)

	if ptr := uintptr(ctx.Args[1]); ptr != 0 {
		if werr := writeSockaddr(ctx, ptr, child.RemoteAddr()); werr != nil {
			return Errno(unix.EFAULT)
		}
	}
	return Done(int64(handle.FD))
}

func (h *Handlers) connect(ctx *Context) Result {
	fd := int(int32(ctx.Args[0]))
	sock, errRes, ok := h.lookupSocket(ctx, fd)
	if !ok {
		return errRes
	}
	remote, err := readSockaddr(ctx, uintptr(ctx.Args[1]), int(ctx.Args[2]))
	if err != nil {
		return Errno(unix.EINVAL)
	}

	if sock.local.Port() == 0 {
		proto := "tcp"
		if sock.proto == sockDgram {
			proto = "udp"
		}
		port, perr := h.Network.ReserveEphemeralPort(proto, remote.Addr())
		if perr != nil {
			return Errno(unix.EADDRNOTAVAIL)
		}
		sock.local = netip.AddrPortFrom(remote.Addr(), port)
	}

	switch sock.proto {
	case sockStream:
		if sock.tcp != nil {
			if sock.tcp.State() == transport.StateEstablished {
				return Done(0)
			}
			return Errno(unix.EALREADY)
		}
		tcp, derr := h.Network.DialTCP(sock.local, remote)
		if derr != nil {
			return Errno(unix.ECONNREFUSED)
		}
		sock.tcp = tcp
		return blockOnReadable(ctx, fd)
	case sockDgram:
		if sock.udp == nil {
			udp, uerr := h.Network.NewUDP(sock.local)
			if uerr != nil {
				return Errno(unix.EADDRINUSE)
			}
			sock.udp = udp
		}
		return Done(0)
	default:
		return Errno(unix.EINVAL)
	}
}

func (h *Handlers) sendto(ctx *Context) Result {
	fd := int(int32(ctx.Args[0]))
	bufPtr := uintptr(ctx.Args[1])
	count := int(ctx.Args[2])

	sock, errRes, ok := h.lookupSocket(ctx, fd)
	if !ok {
		return errRes
	}
	payload, err := ctx.Mem.Read(bufPtr, count)
	if err != nil {
		return Errno(unix.EFAULT)
	}

	switch sock.proto {
	case sockStream:
		if sock.tcp == nil {
			return Errno(unix.ENOTCONN)
		}
		n, werr := sock.tcp.Write(payload)
		if werr != nil {
			return Errno(unix.EPIPE)
		}
		return Done(int64(n))
	case sockDgram:
		if sock.udp == nil {
			return Errno(unix.ENOTCONN)
		}
		dst := sock.udp.LocalAddr()
		if ptr := uintptr(ctx.Args[4]); ptr != 0 {
			addr, aerr := readSockaddr(ctx, ptr, int(ctx.Args[5]))
			if aerr != nil {
				return Errno(unix.EINVAL)
			}
			dst = addr
		}
		if serr := sock.udp.SendTo(dst, payload); serr != nil {
			return Errno(unix.EIO)
		}
		return Done(int64(len(payload)))
	default:
		return Errno(unix.EINVAL)
	}
}

func (h *Handlers) recvfrom(ctx *Context) Result {
	fd := int(int32(ctx.Args[0]))
	bufPtr := uintptr(ctx.Args[1])
	count := int(ctx.Args[2])

	sock, errRes, ok := h.lookupSocket(ctx, fd)
	if !ok {
		return errRes
	}

	switch sock.proto {
	case sockStream:
		if sock.tcp == nil {
			return Errno(unix.ENOTCONN)
		}
		buf := make([]byte, count)
		n, rerr := sock.tcp.Read(buf)
		if n == 0 && rerr != nil {
			return Done(0)
		}
		if n == 0 {
			return blockOnReadable(ctx, fd)
		}
		if werr := ctx.Mem.Write(bufPtr, buf[:n]); werr != nil {
			return Errno(unix.EFAULT)
		}
		return Done(int64(n))
	case sockDgram:
		if sock.udp == nil {
			return Errno(unix.ENOTCONN)
		}
		buf := make([]byte, count)
		from, n, rerr := sock.udp.RecvFrom(buf)
		if rerr != nil {
			return blockOnReadable(ctx, fd)
		}
		if werr := ctx.Mem.Write(bufPtr, buf[:n]); werr != nil {
			return Errno(unix.EFAULT)
		}
		if ptr := uintptr(ctx.Args[4]); ptr != 0 {
			if aerr := writeSockaddr(ctx, ptr, from); aerr != nil {
				return Errno(unix.EFAULT)
			}
		}
		return Done(int64(n))
	default:
		return Errno(unix.EINVAL)
	}
}

// setsockopt/getsockopt are accepted but not modeled: congestion control,
// buffer sizing, and timeouts are driven entirely by internal/config's
// simulation-wide defaults (SPEC_FULL.md §6), not per-socket overrides.
func (h *Handlers) setsockopt(ctx *Context) Result { return Done(0) }
func (h *Handlers) getsockopt(ctx *Context) Result { return Done(0) }

func readSockaddr(ctx *Context, ptr uintptr, length int) (netip.AddrPort, error) {
	b, err := ctx.Mem.Read(ptr, length)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if len(b) < 4 {
		return netip.AddrPort{}, errShortSockaddr
	}
	family := binary.LittleEndian.Uint16(b[0:2])
	port := binary.BigEndian.Uint16(b[2:4])

	switch family {
	case unix.AF_INET:
		if len(b) < 8 {
			return netip.AddrPort{}, errShortSockaddr
		}
		var a [4]byte
		copy(a[:], b[4:8])
		return netip.AddrPortFrom(netip.AddrFrom4(a), port), nil
	case unix.AF_INET6:
		if len(b) < 24 {
			return netip.AddrPort{}, errShortSockaddr
		}
		var a [16]byte
		copy(a[:], b[8:24])
		return netip.AddrPortFrom(netip.AddrFrom16(a), port), nil
	default:
		return netip.AddrPort{}, errUnsupportedFamily
	}
}

func writeSockaddr(ctx *Context, ptr uintptr, addr netip.AddrPort) error {
	if addr.Addr().Is4() {
		b := make([]byte, 16)
		binary.LittleEndian.PutUint16(b[0:2], unix.AF_INET)
		binary.BigEndian.PutUint16(b[2:4], addr.Port())
		a4 := addr.Addr().As4()
		copy(b[4:8], a4[:])
		return ctx.Mem.Write(ptr, b)
	}
	b := make([]byte, 28)
	binary.LittleEndian.PutUint16(b[0:2], unix.AF_INET6)
	binary.BigEndian.PutUint16(b[2:4], addr.Port())
	a16 := addr.Addr().As16()
	copy(b[8:24], a16[:])
	return ctx.Mem.Write(ptr, b)
}

type sockaddrError string

func (e sockaddrError) Error() string { return string(e) }

const (
	errShortSockaddr    = sockaddrError("syscalls: sockaddr buffer too short")
	errUnsupportedFamily = sockaddrError("syscalls: unsupported sockaddr family")
)

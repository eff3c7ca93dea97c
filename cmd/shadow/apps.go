package main

import (
	"encoding/binary"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/shadow-sim/shadow/internal/memview"
	"github.com/shadow-sim/shadow/internal/worker"
)

// bundledApplications returns the demo managed applications a scenario
// file's "start" events may name, per SPEC_FULL.md §4.14: a TCP echo
// server and client pair, issuing the same socket/bind/listen/accept/
// sendto/recvfrom sequence cmd/echo-demo's real net-based client/server
// issue, but expressed directly as the syscall state machine
// worker.LoopbackApp drives in place of a ptraced OS process.
func bundledApplications() map[string]worker.LoopbackAppFactory {
	return map[string]worker.LoopbackAppFactory{
		"echo-server": func(args []string) worker.LoopbackApp {
			addr := netip.MustParseAddrPort(argOr(args, 0, "0.0.0.0:7000"))
			return &echoServer{listenAddr: addr}
		},
		"echo-client": func(args []string) worker.LoopbackApp {
			addr := netip.MustParseAddrPort(argOr(args, 0, "127.0.0.1:7000"))
			msg := argOr(args, 1, "hello")
			return &echoClient{serverAddr: addr, message: msg}
		},
	}
}

func argOr(args []string, i int, fallback string) string {
	if i < len(args) {
		return args[i]
	}
	return fallback
}

const (
	sockaddrPtr  = uintptr(0)
	sockaddrLen  = 16
	recvBufPtr   = uintptr(64)
	recvBufSize  = 4096
)

// putSockaddrIn4 encodes addr into mem at sockaddrPtr using the same wire
// layout internal/syscalls.readSockaddr/writeSockaddr expect: a
// little-endian family word, a big-endian port, then the four address
// bytes.
func putSockaddrIn4(mem memview.View, addr netip.AddrPort) {
	b := make([]byte, sockaddrLen)
	binary.LittleEndian.PutUint16(b[0:2], unix.AF_INET)
	binary.BigEndian.PutUint16(b[2:4], addr.Port())
	a4 := addr.Addr().As4()
	copy(b[4:8], a4[:])
	_ = mem.Write(sockaddrPtr, b)
}

type echoServerState int

const (
	serverCreateSocket echoServerState = iota
	serverBind
	serverListen
	serverAccept
	serverRecv
	serverSend
	serverCloseConn
)

// echoServer accepts connections on listenAddr and echoes back whatever
// it reads on each one, one connection at a time — a syscall-driven
// analogue of cmd/echo-demo's serve().
type echoServer struct {
	listenAddr netip.AddrPort
	state      echoServerState
	mem        memview.View
	listenFD   int64
	connFD     int64
	pending    int64 // bytes read, awaiting echo back
}

func (s *echoServer) Start(mem memview.View) (int64, [6]uint64) {
	s.mem = mem
	s.state = serverCreateSocket
	return unix.SYS_SOCKET, [6]uint64{uint64(unix.AF_INET), uint64(unix.SOCK_STREAM), 0}
}

func (s *echoServer) Next(result int64) (int64, [6]uint64, bool) {
	switch s.state {
	case serverCreateSocket:
		s.listenFD = result
		putSockaddrIn4(s.mem, s.listenAddr)
		s.state = serverBind
		return unix.SYS_BIND, [6]uint64{uint64(s.listenFD), uint64(sockaddrPtr), sockaddrLen}, false

	case serverBind:
		s.state = serverListen
		return unix.SYS_LISTEN, [6]uint64{uint64(s.listenFD), 16}, false

	case serverListen:
		s.state = serverAccept
		return unix.SYS_ACCEPT, [6]uint64{uint64(s.listenFD), 0, 0}, false

	case serverAccept:
		s.connFD = result
		s.state = serverRecv
		return unix.SYS_RECVFROM, [6]uint64{uint64(s.connFD), uint64(recvBufPtr), recvBufSize, 0, 0, 0}, false

	case serverRecv:
		if result <= 0 {
			// Peer closed (or a short read produced nothing): close this
			// connection and go back to accept()ing the next one.
			s.state = serverCloseConn
			return unix.SYS_CLOSE, [6]uint64{uint64(s.connFD)}, false
		}
		s.pending = result
		s.state = serverSend
		return unix.SYS_SENDTO, [6]uint64{uint64(s.connFD), uint64(recvBufPtr), uint64(s.pending), 0, 0, 0}, false

	case serverSend:
		s.state = serverRecv
		return unix.SYS_RECVFROM, [6]uint64{uint64(s.connFD), uint64(recvBufPtr), recvBufSize, 0, 0, 0}, false

	case serverCloseConn:
		s.state = serverAccept
		return unix.SYS_ACCEPT, [6]uint64{uint64(s.listenFD), 0, 0}, false
	}
	return 0, [6]uint64{}, true
}

type echoClientState int

const (
	clientCreateSocket echoClientState = iota
	clientConnect
	clientSend
	clientRecv
	clientClose
	clientDone
)

// echoClient dials serverAddr, sends one message, and reads back the
// echoed reply — a syscall-driven analogue of cmd/echo-demo's connect().
type echoClient struct {
	serverAddr netip.AddrPort
	message    string
	state      echoClientState
	mem        memview.View
	fd         int64
}

func (c *echoClient) Start(mem memview.View) (int64, [6]uint64) {
	c.mem = mem
	c.state = clientCreateSocket
	return unix.SYS_SOCKET, [6]uint64{uint64(unix.AF_INET), uint64(unix.SOCK_STREAM), 0}
}

func (c *echoClient) Next(result int64) (int64, [6]uint64, bool) {
	switch c.state {
	case clientCreateSocket:
		c.fd = result
		putSockaddrIn4(c.mem, c.serverAddr)
		c.state = clientConnect
		return unix.SYS_CONNECT, [6]uint64{uint64(c.fd), uint64(sockaddrPtr), sockaddrLen}, false

	case clientConnect:
		_ = c.mem.Write(recvBufPtr, []byte(c.message))
		c.state = clientSend
		return unix.SYS_SENDTO, [6]uint64{uint64(c.fd), uint64(recvBufPtr), uint64(len(c.message)), 0, 0, 0}, false

	case clientSend:
		c.state = clientRecv
		return unix.SYS_RECVFROM, [6]uint64{uint64(c.fd), uint64(recvBufPtr), recvBufSize, 0, 0, 0}, false

	case clientRecv:
		c.state = clientClose
		return unix.SYS_CLOSE, [6]uint64{uint64(c.fd)}, false

	case clientClose:
		c.state = clientDone
		return 0, [6]uint64{}, true
	}
	return 0, [6]uint64{}, true
}

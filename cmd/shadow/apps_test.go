package main

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/shadow-sim/shadow/internal/memview"
)

func decodeSockaddrIn4(t *testing.T, mem memview.View) netip.AddrPort {
	t.Helper()
	b, err := mem.Read(sockaddrPtr, sockaddrLen)
	require.NoError(t, err)
	require.Equal(t, uint16(unix.AF_INET), binary.LittleEndian.Uint16(b[0:2]))
	port := binary.BigEndian.Uint16(b[2:4])
	var a [4]byte
	copy(a[:], b[4:8])
	return netip.AddrPortFrom(netip.AddrFrom4(a), port)
}

func TestEchoServerStateMachineSequence(t *testing.T) {
	mem := memview.NewLoopbackView(4096)
	apps := bundledApplications()
	app := apps["echo-server"]([]string{"0.0.0.0:7000"})

	num, _ := app.Start(mem)
	assert.EqualValues(t, unix.SYS_SOCKET, num)

	num, args, done := app.Next(7) // fd 7 from socket()
	require.False(t, done)
	assert.EqualValues(t, unix.SYS_BIND, num)
	assert.EqualValues(t, 7, args[0])
	assert.Equal(t, uint16(7000), decodeSockaddrIn4(t, mem).Port())

	num, args, done = app.Next(0) // bind() succeeded
	require.False(t, done)
	assert.EqualValues(t, unix.SYS_LISTEN, num)

	num, args, done = app.Next(0) // listen() succeeded
	require.False(t, done)
	assert.EqualValues(t, unix.SYS_ACCEPT, num)

	num, args, done = app.Next(8) // accept() returns child fd 8
	require.False(t, done)
	assert.EqualValues(t, unix.SYS_RECVFROM, num)
	assert.EqualValues(t, 8, args[0])

	require.NoError(t, mem.Write(recvBufPtr, []byte("ping")))
	num, args, done = app.Next(4) // recvfrom() got 4 bytes
	require.False(t, done)
	assert.EqualValues(t, unix.SYS_SENDTO, num)
	assert.EqualValues(t, 4, args[2])

	num, _, done = app.Next(4) // sendto() echoed 4 bytes
	require.False(t, done)
	assert.EqualValues(t, unix.SYS_RECVFROM, num)

	num, args, done = app.Next(0) // peer closed (EOF)
	require.False(t, done)
	assert.EqualValues(t, unix.SYS_CLOSE, num)
	assert.EqualValues(t, 8, args[0])

	num, _, done = app.Next(0) // close() succeeded, back to accept()
	require.False(t, done)
	assert.EqualValues(t, unix.SYS_ACCEPT, num)
}

func TestEchoClientStateMachineSequence(t *testing.T) {
	mem := memview.NewLoopbackView(4096)
	apps := bundledApplications()
	app := apps["echo-client"]([]string{"10.0.0.1:7000", "hello"})

	num, _ := app.Start(mem)
	assert.EqualValues(t, unix.SYS_SOCKET, num)

	num, args, done := app.Next(3) // fd 3 from socket()
	require.False(t, done)
	assert.EqualValues(t, unix.SYS_CONNECT, num)
	addr := decodeSockaddrIn4(t, mem)
	assert.Equal(t, "10.0.0.1", addr.Addr().String())
	assert.Equal(t, uint16(7000), addr.Port())

	num, args, done = app.Next(0) // connect() established
	require.False(t, done)
	assert.EqualValues(t, unix.SYS_SENDTO, num)
	assert.EqualValues(t, len("hello"), args[2])
	sent, err := mem.Read(recvBufPtr, len("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(sent))

	num, _, done = app.Next(int64(len("hello"))) // sendto() wrote it all
	require.False(t, done)
	assert.EqualValues(t, unix.SYS_RECVFROM, num)

	num, args, done = app.Next(5) // recvfrom() got the echo back
	require.False(t, done)
	assert.EqualValues(t, unix.SYS_CLOSE, num)
	assert.EqualValues(t, 3, args[0])

	_, _, done = app.Next(0) // close() succeeded
	assert.True(t, done)
}

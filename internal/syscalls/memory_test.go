package syscalls

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/shadow-sim/shadow/internal/simhost"
)

// mmap of a simhost.RegularFile must carry the simulator-side fd in
// Result.NativeFD, per spec.md §4.9, so a launcher can re-open it as
// /proc/<simulator-pid>/fd/<fd> before the real mmap(2) runs.
func TestMmapOfRegularFileReturnsNativeRemapFD(t *testing.T) {
	h := &Handlers{}
	host := simhost.New(1, "h", "/tmp", simhost.Bandwidth{})

	f, err := os.CreateTemp(t.TempDir(), "shadow-mmap-*")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	reg := simhost.NewRegularFile(f, f.Name())
	handle := host.Descs.Insert(reg)

	ctx := &Context{Host: host, Args: [6]uint64{0, 4096, unix.PROT_READ, unix.MAP_SHARED, uint64(handle.FD), 0}}

	res := h.mmap(ctx)

	require.Equal(t, OutcomeNative, res.Outcome)
	assert.EqualValues(t, f.Fd(), res.NativeFD)
}

// An anonymous mapping needs no remap: NativeFD stays at the Native()
// sentinel of -1.
func TestMmapAnonymousNeedsNoRemap(t *testing.T) {
	h := &Handlers{}
	host := simhost.New(1, "h", "/tmp", simhost.Bandwidth{})

	ctx := &Context{Host: host, Args: [6]uint64{0, 4096, unix.PROT_READ | unix.PROT_WRITE, unix.MAP_PRIVATE | unix.MAP_ANONYMOUS, uint64(^uintptr(0)), 0}}

	res := h.mmap(ctx)

	require.Equal(t, OutcomeNative, res.Outcome)
	assert.EqualValues(t, -1, res.NativeFD)
}

// mmap against an fd the table does not recognize returns -EBADF rather
// than silently deferring to the native kernel.
func TestMmapUnknownFDReturnsEBADF(t *testing.T) {
	h := &Handlers{}
	host := simhost.New(1, "h", "/tmp", simhost.Bandwidth{})

	ctx := &Context{Host: host, Args: [6]uint64{0, 4096, unix.PROT_READ, unix.MAP_SHARED, 7, 0}}

	res := h.mmap(ctx)

	require.Equal(t, OutcomeDone, res.Outcome)
	assert.EqualValues(t, -int64(unix.EBADF), res.Value)
}

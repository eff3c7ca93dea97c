package syscalls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/shadow-sim/shadow/internal/memview"
	"github.com/shadow-sim/shadow/internal/simhost"
)

func newTimeTestContext(t *testing.T) *Context {
	t.Helper()
	host := simhost.New(1, "h", "/tmp", simhost.Bandwidth{})
	return &Context{Host: host, Mem: memview.NewLoopbackView(256)}
}

// nanosleep(0) must return immediately per spec.md §8, not block.
func TestNanosleepZeroReturnsImmediately(t *testing.T) {
	h := &Handlers{}
	ctx := newTimeTestContext(t)

	require.NoError(t, writeTimespec(ctx, 0, unix.Timespec{Sec: 0, Nsec: 0}))

	res := h.nanosleep(ctx)

	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.EqualValues(t, 0, res.Value)
}

// A nonzero nanosleep duration blocks on a deadline-only condition rather
// than completing synchronously, with its deadline exactly the requested
// duration after the host's current virtual time (spec.md §8 scenario 3).
func TestNanosleepNonzeroBlocksForExactDuration(t *testing.T) {
	h := &Handlers{}
	ctx := newTimeTestContext(t)

	require.NoError(t, writeTimespec(ctx, 0, unix.Timespec{Sec: 1, Nsec: 0}))

	res := h.nanosleep(ctx)

	require.Equal(t, OutcomeBlocked, res.Outcome)
	require.NotNil(t, res.Condition)
	assert.Equal(t, ctx.Host.Queue.LocalNow().Add(time.Second), res.Condition.Deadline())
}

package xcmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitInterruptedReturnsContextErrorOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitInterrupted(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitInterruptedCanBeCalledRepeatedly(t *testing.T) {
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		err := WaitInterrupted(ctx)
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}
}

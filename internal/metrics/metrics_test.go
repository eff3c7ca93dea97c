package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrementByLabel(t *testing.T) {
	before := testutil.ToFloat64(Retransmits.WithLabelValues("rto"))
	Retransmits.WithLabelValues("rto").Inc()
	after := testutil.ToFloat64(Retransmits.WithLabelValues("rto"))

	assert.Equal(t, before+1, after)
}

func TestServerServeShutsDownOnContextCancel(t *testing.T) {
	srv := NewServer("127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

package xcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Interrupted reports that the process received a terminating signal;
// cmd/shadow maps it to spec.md §7's exit code 130 regardless of which of
// SIGINT/SIGTERM actually arrived.
type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return m.String()
}

// WaitInterrupted blocks until SIGINT or SIGTERM arrives or ctx is
// canceled, whichever comes first. The signal channel is unregistered
// before returning, so a caller that invokes this repeatedly (a long-lived
// process driving several simulations in sequence, or a test) never
// accumulates stale registrations that `signal.Notify` would otherwise
// keep delivering to forever.
func WaitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	defer signal.Stop(ch)

	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}

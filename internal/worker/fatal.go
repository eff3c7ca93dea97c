package worker

import (
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/shadow-sim/shadow/internal/simhost"
)

// fatal logs a simulator-internal invariant violation with enough host
// state to diagnose it, then exits with code 3 per spec.md §7's exit-code
// table: an error in the kernel itself, as distinct from configuration
// errors (1) or managed-process failures reported through syscalls.
func fatal(log *zap.SugaredLogger, host *simhost.Host, err error) {
	log.Errorw("worker: fatal simulator error", "error", err, "host", host.Snapshot())
	os.Exit(3)
}

// teardown terminates every host's managed processes through launcher,
// aggregating failures with multierr rather than stopping at the first
// one, so a single stuck process doesn't prevent the rest of the
// simulation from shutting down cleanly. It does not close the hosts'
// descriptors.
func teardown(hosts []*simhost.Host, launcher ProcessLauncher) error {
	var errs error
	for _, host := range hosts {
		for _, proc := range host.Processes {
			if err := launcher.Terminate(proc); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

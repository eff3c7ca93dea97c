// Command shadow runs a discrete-event network simulation described by a
// topology file, a host configuration file, and a scenario file, per
// spec.md §6's CLI surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/shadow-sim/shadow/internal/blocking"
	"github.com/shadow-sim/shadow/internal/config"
	"github.com/shadow-sim/shadow/internal/logging"
	"github.com/shadow-sim/shadow/internal/metrics"
	"github.com/shadow-sim/shadow/internal/scenario"
	"github.com/shadow-sim/shadow/internal/scheduler"
	"github.com/shadow-sim/shadow/internal/simhost"
	"github.com/shadow-sim/shadow/internal/simnet"
	"github.com/shadow-sim/shadow/internal/syscalls"
	"github.com/shadow-sim/shadow/internal/topology"
	"github.com/shadow-sim/shadow/internal/transport"
	"github.com/shadow-sim/shadow/internal/vtime"
	"github.com/shadow-sim/shadow/internal/worker"
	"github.com/shadow-sim/shadow/internal/xcmd"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code rather than calling os.Exit directly,
// so teardown (deferred closes, log flush) always happens before the
// process exits, per spec.md §7's exit-code table.
func run() int {
	var (
		configPath    string
		topologyPath  string
		simulationEnd time.Duration
		metricsAddr   string
		dataDir       string
		verbose       bool
		seed          int64
		workers       int
	)

	root := &cobra.Command{
		Use:          "shadow <scenario-file>",
		Short:        "Run a discrete-event network simulation.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), simulationArgs{
				scenarioPath: args[0],
				configPath:   configPath,
				topologyPath: topologyPath,
				end:          simulationEnd,
				metricsAddr:  metricsAddr,
				dataDir:      dataDir,
				verbose:      verbose,
				seed:         seed,
				seedSet:      cmd.Flags().Changed("seed"),
				workers:      workers,
				workersSet:   cmd.Flags().Changed("workers"),
			})
		},
	}

	root.Flags().StringVar(&configPath, "hosts", "", "path to the host configuration file (required)")
	root.Flags().StringVar(&topologyPath, "topology", "", "path to the network topology file (required)")
	root.Flags().DurationVar(&simulationEnd, "simulation-end", time.Minute, "virtual time at which the simulation stops")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	root.Flags().StringVar(&dataDir, "data-directory", ".", "directory managed processes' virtual filesystems are rooted under")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().Int64Var(&seed, "seed", 1, "deterministic RNG seed, overriding the sim.seed configuration key")
	root.Flags().IntVar(&workers, "workers", 0, "worker goroutines per round, overriding sim.workers-per-host-group")
	_ = root.MarkFlagRequired("hosts")
	_ = root.MarkFlagRequired("topology")

	if err := root.ExecuteContext(context.Background()); err != nil {
		if _, ok := err.(configError); ok {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if _, ok := err.(ioError); ok {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		if errors.Is(err, context.Canceled) {
			return 130
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// configError and ioError distinguish the two non-internal failure
// classes of spec.md §7's exit-code table (1: bad configuration, 2: I/O
// opening an input file) from the generic error path.
type configError struct{ error }
type ioError struct{ error }

// loadError classifies a failure to load an input file: failing to open
// or read the file is an ioError, anything else (a parse or validation
// error) is a configError.
func loadError(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return ioError{err}
	}
	return configError{err}
}

type simulationArgs struct {
	scenarioPath string
	configPath   string
	topologyPath string
	end          time.Duration
	metricsAddr  string
	dataDir      string
	verbose      bool
	seed         int64
	seedSet      bool
	workers      int
	workersSet   bool
}

func runSimulation(ctx context.Context, a simulationArgs) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return loadError(err)
	}
	if a.verbose {
		cfg.LogLevel = zapcore.DebugLevel
	}
	if a.seedSet {
		cfg.Sim.Seed = a.seed
	}
	if a.workersSet {
		cfg.Sim.WorkersPerHostGroup = a.workers
	}

	log, _, err := logging.Init(cfg.LoggingConfig(), zap.Int64("seed", cfg.Sim.Seed))
	if err != nil {
		return fmt.Errorf("shadow: initializing logging: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	graph, bandwidth, err := topology.Load(a.topologyPath)
	if err != nil {
		return loadError(err)
	}

	scn, err := scenario.Load(a.scenarioPath)
	if err != nil {
		return loadError(err)
	}

	sim, err := scenario.Build(scn, graph, bandwidth, a.dataDir, cfg.Sim.Seed)
	if err != nil {
		return configError{err}
	}

	resolver := simnet.NewResolver(sim.Books...)
	router := topology.NewRouter(graph)
	runahead := graph.RunaheadMin()

	workers := make([]*worker.Worker, 0, len(sim.Hosts))
	apps := bundledApplications()

	for _, host := range sim.Registry.All() {
		iface := topology.NewInterface(bandwidthBps(host.Bandwidth), 1024)
		net := worker.NewHostNetwork(host, sim.Registry, sim.Addrs, router, iface, transportConfig(cfg.TCP, cfg.VNetwork))

		launcher := worker.NewLoopbackLauncher(apps)
		engine := blocking.NewEngine(host.Descs, host.Queue)
		handlers := &syscalls.Handlers{
			Network: net,
			Engine:  engine,
			Special: syscalls.SpecialPaths{
				HostsFile: resolver.HostsFile,
				NativePID: os.Getpid(),
			},
		}
		dispatch := syscalls.BuildDispatcher(handlers)

		w := worker.New(host, net, dispatch, launcher, log.With("host", host.Name))
		launcher.Bind(w)
		workers = append(workers, w)
	}

	sched := scheduler.New(workers, cfg.Sim.WorkersPerHostGroup, runahead, vtime.FromDuration(a.end), log)

	// Unlike a long-running daemon, sched.Run returns on its own once the
	// simulation reaches its end time, so that completion — not just a
	// caught signal — must be able to unblock the interrupt watcher below.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var simErr error
	var interrupted bool

	group, gctx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		defer cancel()
		simErr = sched.Run(gctx)
		return nil
	})
	group.Go(func() error {
		err := xcmd.WaitInterrupted(gctx)
		if _, ok := err.(xcmd.Interrupted); ok {
			interrupted = true
			log.Infow("caught signal, stopping simulation", "error", err)
		}
		return nil
	})
	if a.metricsAddr != "" {
		srv := metrics.NewServer(a.metricsAddr)
		group.Go(func() error { return srv.Serve(gctx) })
	}

	if err := group.Wait(); err != nil {
		return err
	}
	if interrupted {
		return context.Canceled
	}
	return simErr
}

// bandwidthBps converts a host's configured up/down kbps floor into the
// single capacity figure topology.Interface rate-limits on; Shadow models
// one shared link capacity per host rather than separate directions; the
// narrower (more constrained) of up/down is used as the conservative
// choice.
func bandwidthBps(bw simhost.Bandwidth) int64 {
	up, down := bw.UpKbps*1000, bw.DownKbps*1000
	if up == 0 {
		return down
	}
	if down == 0 || down > up {
		return up
	}
	return down
}

// transportConfig adapts the on-disk TCP and vnetwork tunables into
// transport.Config.
func transportConfig(c config.TCPConfig, v config.VNetworkConfig) transport.Config {
	return transport.Config{
		SendBufferSize: int(v.SendBufferSize.Bytes()),
		RecvBufferSize: int(v.RecvBufferSize.Bytes()),
		DelayedACKMax:  time.Duration(c.DelayedACKMS) * time.Millisecond,
		TimeWait:       time.Duration(c.TimeWaitSeconds) * time.Second,
		MinRTO:         time.Duration(c.RetransmitMinRTOMS) * time.Millisecond,
		MaxRTO:         time.Duration(c.RetransmitMaxRTOMS) * time.Millisecond,
	}
}

// Package scheduler implements spec.md §5's conservative parallel
// scheduling algorithm: hosts are partitioned across a fixed pool of
// worker goroutines, and every round advances no host further than the
// simulation-wide safe horizon H = min_over_hosts(host.local_now) +
// runahead_min, the point below which no two hosts can yet causally
// affect each other.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shadow-sim/shadow/internal/numa"
	"github.com/shadow-sim/shadow/internal/vtime"
	"github.com/shadow-sim/shadow/internal/worker"
)

// Scheduler drives every worker's host through repeated bounded rounds
// until the simulation end time is reached and no host has an event left
// at or before it. Events scheduled after the end time are never run.
type Scheduler struct {
	workers  []*worker.Worker
	groups   int
	affinity numa.NUMAMap
	runahead time.Duration
	end      vtime.Time
	log      *zap.SugaredLogger
}

// New returns a Scheduler over workers, partitioned across groups worker
// goroutines per round. runahead is the topology's minimum edge latency
// (topology.Graph.RunaheadMin()); end is the simulation's configured end
// time.
func New(workers []*worker.Worker, groups int, runahead time.Duration, end vtime.Time, log *zap.SugaredLogger) *Scheduler {
	if groups < 1 {
		groups = 1
	}
	return &Scheduler{workers: workers, groups: groups, affinity: numa.NewWithTrailingOnes(groups), runahead: runahead, end: end, log: log}
}

// Run executes rounds until every host has run all of its events at or
// before end, or ctx is canceled. Events after end stay in their queues.
func (s *Scheduler) Run(ctx context.Context) error {
	partitions := partition(s.workers, s.groups)
	s.log.Debugw("scheduler: starting", "active groups", s.affinity.Len(), "workers", len(s.workers))

	for round := 0; ; round++ {
		horizon, idle := s.horizon()
		if idle {
			s.log.Debugw("scheduler: simulation idle, stopping", "round", round, "horizon", horizon)
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, part := range partitions {
			part := part
			g.Go(func() error {
				for _, w := range part {
					select {
					case <-gctx.Done():
						return gctx.Err()
					default:
					}
					w.RunUntil(horizon)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("scheduler: round %d: %w", round, err)
		}

		if horizon.After(s.end) || horizon == s.end {
			if s.allDrained() {
				return nil
			}
		}
	}
}

// horizon computes this round's safe advance point: the minimum local_now
// across every host, plus the topology's minimum edge latency, capped at
// the simulation end time. idle reports whether every host's queue is
// already empty and its local_now is at or past end, meaning there is
// nothing left to simulate.
func (s *Scheduler) horizon() (h vtime.Time, idle bool) {
	min := vtime.Infinite
	allEmpty := true
	for _, w := range s.workers {
		host := w.Host()
		if host.Queue.Len() > 0 {
			allEmpty = false
		}
		now := host.Queue.LocalNow()
		if now < min {
			min = now
		}
	}
	if allEmpty && min >= s.end {
		return s.end, true
	}
	h = min.Add(s.runahead)
	if h.After(s.end) {
		h = s.end
	}
	return h, false
}

// allDrained reports whether no worker's host has an event pending at or
// before the end time.
func (s *Scheduler) allDrained() bool {
	for _, w := range s.workers {
		if !w.Host().Queue.PeekTime().After(s.end) {
			return false
		}
	}
	return true
}

// partition splits workers into up to groups roughly equal slices,
// dealing them out round-robin (worker i goes to group i % groups),
// assigning hosts to the same worker goroutine across rounds so
// that any goroutine-local caching a future optimization might add stays
// valid.
func partition(workers []*worker.Worker, groups int) [][]*worker.Worker {
	if groups > len(workers) {
		groups = len(workers)
	}
	if groups < 1 {
		return nil
	}
	out := make([][]*worker.Worker, groups)
	for i, w := range workers {
		g := i % groups
		out[g] = append(out[g], w)
	}
	return out
}

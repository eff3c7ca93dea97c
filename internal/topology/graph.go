package topology

import (
	"fmt"
	"time"
)

// NetworkID identifies a vertex (a pool of addresses) in the topology
// graph, per spec.md §3 "Network topology".
type NetworkID uint32

// Edge is a directed connection between two networks, carrying a latency
// CDF per direction and a reliability, per spec.md §3/§6.
type Edge struct {
	To            NetworkID
	LatencyUp     *CDF
	LatencyDown   *CDF
	ReliabilityUp float64
	ReliabilityDown float64
}

// Graph is the directed multigraph of networks spec.md §3 describes.
type Graph struct {
	edges map[NetworkID][]Edge
	// runaheadMin/Max cache the minimum/maximum latency observed across
	// all edges, per spec.md §3's "runahead_min and runahead_max are
	// derived from the minimum/maximum edge latency".
	runaheadMin time.Duration
	runaheadMax time.Duration
	haveEdges   bool
}

// NewGraph returns an empty topology graph.
func NewGraph() *Graph {
	return &Graph{edges: make(map[NetworkID][]Edge)}
}

// AddEdge inserts a directed edge from 'from' to 'to'. The graph itself
// does not assume symmetry: Lookup and Router.Route only find the edge in
// the from→to direction, so a link usable both ways needs a second
// AddEdge for the reverse direction (Load adds it for every file edge).
func (g *Graph) AddEdge(from NetworkID, e Edge) error {
	if e.LatencyUp == nil || e.LatencyDown == nil {
		return fmt.Errorf("topology: edge %d->%d missing a latency CDF", from, e.To)
	}
	if e.ReliabilityUp < 0 || e.ReliabilityUp > 1 || e.ReliabilityDown < 0 || e.ReliabilityDown > 1 {
		return fmt.Errorf("topology: edge %d->%d reliability out of [0,1]", from, e.To)
	}

	g.edges[from] = append(g.edges[from], e)

	for _, cdf := range []*CDF{e.LatencyUp, e.LatencyDown} {
		min, max := cdf.Min(), cdf.Max()
		if !g.haveEdges || min < g.runaheadMin {
			g.runaheadMin = min
		}
		if !g.haveEdges || max > g.runaheadMax {
			g.runaheadMax = max
		}
		g.haveEdges = true
	}

	return nil
}

// Lookup finds the edge from 'from' to 'to', if one exists.
func (g *Graph) Lookup(from, to NetworkID) (Edge, bool) {
	for _, e := range g.edges[from] {
		if e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

// RunaheadMin is the scheduler's conservative-simulation lookahead: the
// minimum latency below which no two hosts can causally affect each
// other, per spec.md §3/§4.6/§5.
func (g *Graph) RunaheadMin() time.Duration { return g.runaheadMin }

// RunaheadMax is the maximum edge latency observed. It is informational
// only; unlike RunaheadMin, the scheduler does not use it.
func (g *Graph) RunaheadMax() time.Duration { return g.runaheadMax }

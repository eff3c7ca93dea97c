package topology

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of a topology file per spec.md §6:
// vertices carry an identifier and a bandwidth-CDF identifier; edges
// carry two CDF identifiers (one per direction) and two reliabilities.
type FileConfig struct {
	Vertices []VertexConfig `yaml:"vertices"`
	Edges    []EdgeConfig   `yaml:"edges"`
}

type VertexConfig struct {
	ID           uint32 `yaml:"id"`
	BandwidthCDF string `yaml:"bandwidth_cdf"`
}

type EdgeConfig struct {
	From            uint32  `yaml:"from"`
	To              uint32  `yaml:"to"`
	LatencyCDFUp    string  `yaml:"latency_cdf_up"`
	LatencyCDFDown  string  `yaml:"latency_cdf_down"`
	ReliabilityUp   float64 `yaml:"reliability_up"`
	ReliabilityDown float64 `yaml:"reliability_down"`
}

// resolveCDF resolves a named CDF identifier to a loaded CDF, either from
// a file on disk or from a `generate(...)` directive. Named identifiers
// starting with "generate:" are parsed as
// "generate:<center_ns>,<base_width_ns>,<tail_width_ns>"; anything else is
// treated as a path to a CDF file, relative to baseDir.
func resolveCDF(baseDir, name string) (*CDF, error) {
	if rest, ok := stripGeneratePrefix(name); ok {
		center, baseWidth, tailWidth, err := parseGenerateArgs(rest)
		if err != nil {
			return nil, fmt.Errorf("topology: generate(%s): %w", rest, err)
		}
		return Generate(center, baseWidth, tailWidth), nil
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	f, err := openWithRetry(path)
	if err != nil {
		return nil, fmt.Errorf("topology: opening cdf file %q: %w", path, err)
	}
	defer f.Close()

	return LoadCDF(f)
}

// openWithRetry opens path, retrying a bounded number of times against
// transient "too many open files"/NFS-hiccup style errors a slow shared
// mount can produce at startup. It never retries a plain not-found.
func openWithRetry(path string) (*os.File, error) {
	op := func() (*os.File, error) {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return f, nil
	}

	return backoff.Retry(context.Background(), op,
		backoff.WithMaxTries(3),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
}

func stripGeneratePrefix(name string) (string, bool) {
	const prefix = "generate:"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):], true
	}
	return "", false
}

func parseGenerateArgs(s string) (center, base, tail time.Duration, err error) {
	var c, b, tl int64
	n, scanErr := fmt.Sscanf(s, "%d,%d,%d", &c, &b, &tl)
	if scanErr != nil || n != 3 {
		return 0, 0, 0, fmt.Errorf("expected <center_ns>,<base_width_ns>,<tail_width_ns>, got %q", s)
	}
	return time.Duration(c), time.Duration(b), time.Duration(tl), nil
}

// Load parses a topology file at path and resolves every referenced CDF
// relative to its directory, returning a ready-to-use Graph plus the
// per-vertex bandwidth CDFs (bandwidth floors/caps feed
// host.bandwidth-{up,down}-kbps's per-host defaults, per spec.md §6).
func Load(path string) (*Graph, map[uint32]*CDF, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("topology: reading %q: %w", path, err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, nil, fmt.Errorf("topology: parsing %q: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	graph := NewGraph()
	bandwidth := make(map[uint32]*CDF, len(cfg.Vertices))

	for _, v := range cfg.Vertices {
		cdf, err := resolveCDF(baseDir, v.BandwidthCDF)
		if err != nil {
			return nil, nil, fmt.Errorf("topology: vertex %d: %w", v.ID, err)
		}
		bandwidth[v.ID] = cdf
	}

	for _, e := range cfg.Edges {
		up, err := resolveCDF(baseDir, e.LatencyCDFUp)
		if err != nil {
			return nil, nil, fmt.Errorf("topology: edge %d->%d: %w", e.From, e.To, err)
		}
		down, err := resolveCDF(baseDir, e.LatencyCDFDown)
		if err != nil {
			return nil, nil, fmt.Errorf("topology: edge %d->%d: %w", e.From, e.To, err)
		}

		edge := Edge{
			To:              NetworkID(e.To),
			LatencyUp:       up,
			LatencyDown:     down,
			ReliabilityUp:   e.ReliabilityUp,
			ReliabilityDown: e.ReliabilityDown,
		}
		if err := graph.AddEdge(NetworkID(e.From), edge); err != nil {
			return nil, nil, fmt.Errorf("topology: %w", err)
		}

		// Mirror the reverse direction so that Router.Route works
		// symmetrically without the caller tracking edge direction.
		reverse := Edge{
			To:              NetworkID(e.From),
			LatencyUp:       down,
			LatencyDown:     up,
			ReliabilityUp:   e.ReliabilityDown,
			ReliabilityDown: e.ReliabilityUp,
		}
		if err := graph.AddEdge(NetworkID(e.To), reverse); err != nil {
			return nil, nil, fmt.Errorf("topology: %w", err)
		}
	}

	return graph, bandwidth, nil
}

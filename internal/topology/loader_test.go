package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LoadParsesVerticesAndEdgesWithGeneratedCDFs(t *testing.T) {
	dir := t.TempDir()
	topoPath := filepath.Join(dir, "topology.yaml")
	content := `
vertices:
  - id: 1
    bandwidth_cdf: "generate:1000000000,200000000,500000000"
  - id: 2
    bandwidth_cdf: "generate:1000000000,200000000,500000000"
edges:
  - from: 1
    to: 2
    latency_cdf_up: "generate:50000000,10000000,20000000"
    latency_cdf_down: "generate:50000000,10000000,20000000"
    reliability_up: 1.0
    reliability_down: 1.0
`
	require.NoError(t, os.WriteFile(topoPath, []byte(content), 0o644))

	graph, bandwidth, err := Load(topoPath)
	require.NoError(t, err)

	assert.Len(t, bandwidth, 2)
	edge, ok := graph.Lookup(1, 2)
	require.True(t, ok)
	assert.Equal(t, NetworkID(2), edge.To)

	reverse, ok := graph.Lookup(2, 1)
	require.True(t, ok)
	assert.Equal(t, NetworkID(1), reverse.To)
}

func Test_LoadRejectsMissingFile(t *testing.T) {
	_, _, err := Load("/nonexistent/topology.yaml")
	assert.Error(t, err)
}

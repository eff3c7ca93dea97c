package topology

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LoadCDFParsesTabSeparatedLines(t *testing.T) {
	input := "1000000\t0.5\n2000000\t1.0\n"
	cdf, err := LoadCDF(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, time.Millisecond, cdf.Min())
	assert.Equal(t, 2*time.Millisecond, cdf.Max())
}

func Test_LoadCDFRejectsUnsortedProbabilities(t *testing.T) {
	input := "1000000\t0.9\n2000000\t0.5\n"
	_, err := LoadCDF(strings.NewReader(input))
	assert.Error(t, err)
}

func Test_LoadCDFRejectsMissingFullCoverage(t *testing.T) {
	input := "1000000\t0.5\n"
	_, err := LoadCDF(strings.NewReader(input))
	assert.Error(t, err)
}

func Test_SampleIsDeterministicForFixedSeed(t *testing.T) {
	cdf, err := NewCDF([]CDFPoint{
		{Value: 10 * time.Millisecond, CumulativeProb: 0.5},
		{Value: 50 * time.Millisecond, CumulativeProb: 1.0},
	})
	require.NoError(t, err)

	a := cdf.Sample(rand.New(rand.NewSource(7)))
	b := cdf.Sample(rand.New(rand.NewSource(7)))
	assert.Equal(t, a, b)
}

func Test_GenerateProducesFullCoverage(t *testing.T) {
	cdf := Generate(50*time.Millisecond, 20*time.Millisecond, 100*time.Millisecond)
	v := cdf.Sample(rand.New(rand.NewSource(1)))
	assert.True(t, v >= 0)
	assert.True(t, v <= 50*time.Millisecond+10*time.Millisecond+100*time.Millisecond)
}

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_RTTEstimatorFirstSampleSeedsSRTT(t *testing.T) {
	e := NewRTTEstimator(200*time.Millisecond, 60*time.Second)
	e.Sample(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, e.SRTT())
}

func Test_RTTEstimatorClampsToMinRTO(t *testing.T) {
	e := NewRTTEstimator(200*time.Millisecond, 60*time.Second)
	assert.Equal(t, 200*time.Millisecond, e.RTO(), "no samples yet must use minRTO")

	e.Sample(1 * time.Millisecond)
	assert.True(t, e.RTO() >= 200*time.Millisecond)
}

func Test_RTTEstimatorClampsToMaxRTO(t *testing.T) {
	e := NewRTTEstimator(200*time.Millisecond, time.Second)
	for i := 0; i < 5; i++ {
		e.Sample(10 * time.Second)
	}
	assert.Equal(t, time.Second, e.RTO())
}

func Test_RTTEstimatorConvergesTowardStableSamples(t *testing.T) {
	e := NewRTTEstimator(1*time.Millisecond, 60*time.Second)
	for i := 0; i < 50; i++ {
		e.Sample(100 * time.Millisecond)
	}
	assert.InDelta(t, 100*time.Millisecond, e.SRTT(), float64(2*time.Millisecond))
}

package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_RenoSlowStartGrowsCWNDPerAck(t *testing.T) {
	r := NewReno(1000)
	start := r.CWND()
	r.OnACK(1000)
	assert.Greater(t, r.CWND(), start)
}

func Test_RenoThirdDupACKHalvesWindow(t *testing.T) {
	r := NewReno(1000)
	r.cwnd = 20000
	r.OnDupACK(1)
	r.OnDupACK(2)
	r.OnDupACK(3)

	assert.Equal(t, uint32(10000), r.SSThresh())
	assert.Equal(t, uint32(13000), r.CWND())
}

func Test_RenoTimeoutResetsToOneMSS(t *testing.T) {
	r := NewReno(1000)
	r.cwnd = 50000
	r.OnTimeout()

	assert.Equal(t, uint32(1000), r.CWND())
	assert.Equal(t, uint32(25000), r.SSThresh())
}

func Test_CubicGrowsBeyondSlowStartOnTick(t *testing.T) {
	c := NewCubic(1000)
	c.cwnd = 20000
	c.ssthresh = 10000 // force congestion-avoidance regime
	c.wMax = 30000
	c.k = cubeRoot(float64(c.wMax) * (1 - cubicBeta) / cubicC)

	before := c.CWND()
	c.Tick(1.0)
	assert.GreaterOrEqual(t, c.CWND(), before)
}

func Test_CubicTimeoutResetsToOneMSS(t *testing.T) {
	c := NewCubic(1000)
	c.cwnd = 50000
	c.OnTimeout()
	assert.Equal(t, uint32(1000), c.CWND())
}

func Test_CubeRootApproximatelyCorrect(t *testing.T) {
	assert.InDelta(t, 3.0, cubeRoot(27), 1e-6)
	assert.InDelta(t, -2.0, cubeRoot(-8), 1e-6)
	assert.Equal(t, 0.0, cubeRoot(0))
}

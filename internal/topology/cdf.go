// Package topology implements the network topology graph, latency CDFs,
// and the per-host router described in spec.md §4.6 and §6.
package topology

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CDFPoint is one (value, cumulative-probability) sample of a CDF file,
// per spec.md §6: "<value>\t<cumulative-probability> per line, sorted".
type CDFPoint struct {
	Value          time.Duration
	CumulativeProb float64
}

// CDF is a cumulative distribution function over latency samples, sampled
// deterministically from a caller-supplied RNG (the destination host's
// RNG, per spec.md §4.6, to keep packet latency draws reproducible).
type CDF struct {
	points []CDFPoint
}

// NewCDF validates and wraps a sorted point list.
func NewCDF(points []CDFPoint) (*CDF, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("topology: CDF has no points")
	}
	for i := 1; i < len(points); i++ {
		if points[i].CumulativeProb < points[i-1].CumulativeProb {
			return nil, fmt.Errorf("topology: CDF points are not sorted by cumulative probability")
		}
	}
	if points[len(points)-1].CumulativeProb < 1.0-1e-9 {
		return nil, fmt.Errorf("topology: CDF does not reach cumulative probability 1.0")
	}
	return &CDF{points: points}, nil
}

// LoadCDF parses the "<value>\t<cumulative-probability>" file format of
// spec.md §6.
func LoadCDF(r io.Reader) (*CDF, error) {
	scanner := bufio.NewScanner(r)
	var points []CDFPoint
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, fmt.Errorf("topology: cdf file line %d: expected <value>\\t<prob>, got %q", lineNo, line)
		}
		ns, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("topology: cdf file line %d: %w", lineNo, err)
		}
		prob, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("topology: cdf file line %d: %w", lineNo, err)
		}
		points = append(points, CDFPoint{Value: time.Duration(ns), CumulativeProb: prob})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("topology: reading cdf file: %w", err)
	}
	return NewCDF(points)
}

// Generate synthesizes a CDF with the geometry spec.md §6 names:
// generate(center, base_width, tail_width). It produces a symmetric ramp
// around center spanning base_width, plus a long, thin tail out to
// tail_width to model rare high-latency outliers.
func Generate(center, baseWidth, tailWidth time.Duration) *CDF {
	const baseSteps = 20
	const tailSteps = 5

	lo := center - baseWidth/2
	if lo < 0 {
		lo = 0
	}
	hi := center + baseWidth/2

	points := make([]CDFPoint, 0, baseSteps+tailSteps)
	for i := 1; i <= baseSteps; i++ {
		frac := float64(i) / float64(baseSteps)
		v := lo + time.Duration(frac*float64(hi-lo))
		points = append(points, CDFPoint{Value: v, CumulativeProb: 0.95 * frac})
	}
	for i := 1; i <= tailSteps; i++ {
		frac := float64(i) / float64(tailSteps)
		v := hi + time.Duration(frac*float64(tailWidth))
		points = append(points, CDFPoint{Value: v, CumulativeProb: 0.95 + 0.05*frac})
	}
	points[len(points)-1].CumulativeProb = 1.0

	return &CDF{points: points}
}

// Sample draws a latency value deterministically from rng: it picks a
// uniform cumulative probability and returns the smallest CDF point whose
// CumulativeProb is >= that draw (inverse-CDF sampling).
func (c *CDF) Sample(rng *rand.Rand) time.Duration {
	target := rng.Float64()
	idx := sort.Search(len(c.points), func(i int) bool {
		return c.points[i].CumulativeProb >= target
	})
	if idx >= len(c.points) {
		idx = len(c.points) - 1
	}
	return c.points[idx].Value
}

// Min returns the smallest value the CDF can produce, used to derive
// runahead_min/runahead_max (spec.md §3).
func (c *CDF) Min() time.Duration {
	min := c.points[0].Value
	for _, p := range c.points {
		if p.Value < min {
			min = p.Value
		}
	}
	return min
}

// Max returns the largest value the CDF can produce.
func (c *CDF) Max() time.Duration {
	max := c.points[0].Value
	for _, p := range c.points {
		if p.Value > max {
			max = p.Value
		}
	}
	return max
}

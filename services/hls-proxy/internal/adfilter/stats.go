// Package adfilter scores media segments for ad likelihood and drops the ones
// that stand out. The scoring is a fixed heuristic; identical input always
// yields identical scores and removal decisions.
package adfilter

import (
	"math"
	"sort"

	"github.com/example/hls-platform/services/hls-proxy/internal/playlist"
)

// Stats summarises segment durations for one playlist body.
type Stats struct {
	Count  int
	Total  float64
	Mean   float64
	StdDev float64
	P10    float64
	P90    float64
	Min    float64
	Max    float64
}

// CalculateStats computes Stats over segment durations. Standard deviation
// is the population one; percentiles take sorted[floor(n*p)].
func CalculateStats(segments []playlist.Segment) Stats {
	n := len(segments)
	if n == 0 {
		return Stats{}
	}
	durations := make([]float64, n)
	var total float64
	for i, s := range segments {
		durations[i] = s.Duration
		total += s.Duration
	}
	mean := total / float64(n)

	var sq float64
	for _, d := range durations {
		sq += (d - mean) * (d - mean)
	}

	sort.Float64s(durations)
	return Stats{
		Count:  n,
		Total:  total,
		Mean:   mean,
		StdDev: math.Sqrt(sq / float64(n)),
		P10:    percentile(durations, 0.1),
		P90:    percentile(durations, 0.9),
		Min:    durations[0],
		Max:    durations[n-1],
	}
}

func percentile(sorted []float64, p float64) float64 {
	i := int(math.Floor(float64(len(sorted)) * p))
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// zScore is |d-mean|/stddev, defined as 0 when all durations are equal.
func (s Stats) zScore(d float64) float64 {
	if s.StdDev == 0 {
		return 0
	}
	return math.Abs(d-s.Mean) / s.StdDev
}

package adfilter

import (
	"math"

	"github.com/example/hls-platform/services/hls-proxy/internal/playlist"
)

const (
	durationWeight      = 0.6
	positionWeight      = 0.3
	discontinuityWeight = 0.1

	// DetectThreshold marks a segment as an ad candidate.
	DetectThreshold = 0.65

	edgeWindow     = 3
	shortSegmentS  = 1.0
	thresholdFloor = 0.5
	thresholdCeil  = 0.8
)

// Classify fills AdScore and IsAd on a copy of segments.
func Classify(segments []playlist.Segment, stats Stats) []playlist.Segment {
	out := make([]playlist.Segment, len(segments))
	for i, s := range segments {
		s.AdScore = Score(s, len(segments), stats)
		s.IsAd = s.AdScore > DetectThreshold
		out[i] = s
	}
	return out
}

// Score combines duration, position and discontinuity signals into [0,1].
func Score(s playlist.Segment, n int, stats Stats) float64 {
	duration := math.Min(1, stats.zScore(s.Duration)/3)

	var position float64
	if s.Duration < stats.P10 {
		switch {
		case s.Index < edgeWindow:
			position = 0.8
		case s.Index >= n-edgeWindow:
			position = 0.5
		}
	}

	var discontinuity float64
	if s.HasDiscontinuity {
		discontinuity = 0.3
	}

	score := durationWeight*duration + positionWeight*position + discontinuityWeight*discontinuity
	return clamp(score, 0, 1)
}

// RemovalThreshold is the dynamic cut-off used by Decide: noisier playlists
// get a lower bar, within [0.5, 0.8].
func RemovalThreshold(stats Stats) float64 {
	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDev / stats.Mean
	}
	return clamp(DetectThreshold-cv*0.2, thresholdFloor, thresholdCeil)
}

// Decide returns the segments that survive filtering, in order. A segment is
// dropped when it is an ad candidate scoring above the dynamic threshold, or
// when it is shorter than one second past the first three segments and has
// no init segment attached.
func Decide(analyzed []playlist.Segment, stats Stats) []playlist.Segment {
	threshold := RemovalThreshold(stats)
	kept := make([]playlist.Segment, 0, len(analyzed))
	for _, s := range analyzed {
		if s.IsAd && s.AdScore > threshold {
			continue
		}
		if s.Duration < shortSegmentS && s.Index >= edgeWindow && s.MapURI == "" {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

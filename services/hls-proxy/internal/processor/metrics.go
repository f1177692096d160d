package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hls_proxy",
		Name:      "processed_total",
		Help:      "Processed targets by outcome (playlist, redirect_media, redirect_original, error)",
	}, []string{"outcome"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hls_proxy",
		Name:      "cache_lookups_total",
		Help:      "Playlist cache lookups by result (hit, miss, error)",
	}, []string{"result"})

	adSegmentsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hls_proxy",
		Name:      "ad_segments_removed_total",
		Help:      "Segments dropped by the ad filter",
	})

	masterHops = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hls_proxy",
		Name:      "master_hops",
		Help:      "Variant hops needed to reach a media playlist",
		Buckets:   []float64{0, 1, 2, 3, 5, 10},
	})

	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hls_proxy",
		Name:      "process_duration_seconds",
		Help:      "Wall time of uncached processing runs",
		Buckets:   prometheus.DefBuckets,
	})
)

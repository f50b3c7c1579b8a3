package floor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricGuardBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "floor_barge_in_guard_blocks_total",
		Help: "Frames above threshold blocked by guard window",
	})

	metricBargeInLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "floor_barge_in_latency_ms",
		Help:    "Time from AI taking the floor to barge-in",
		Buckets: prometheus.ExponentialBuckets(10, 1.6, 12),
	})
)

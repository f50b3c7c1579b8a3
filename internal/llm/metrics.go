package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_requests_total",
		Help: "Chat completion requests by backend and outcome",
	}, []string{"backend", "status"})

	metricFirstTokenMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_first_token_ms",
		Help:    "Latency to first streamed token (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	}, []string{"backend"})

	metricCompletionMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_completion_ms",
		Help:    "Latency to full reply (ms)",
		Buckets: prometheus.ExponentialBuckets(100, 1.6, 12),
	}, []string{"backend"})
)

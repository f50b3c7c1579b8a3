package turn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_state_transitions_total",
		Help: "Turn controller state transitions",
	}, []string{"from", "to"})

	metricInterrupts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_interrupts_total",
		Help: "AI turns interrupted, by reason",
	}, []string{"reason"})

	metricDroppedFinals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_dropped_finals_total",
		Help: "Final transcripts dropped before commit",
	}, []string{"kind"})

	metricStaleResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_stale_results_total",
		Help: "Results from cancelled or superseded tasks that were discarded",
	}, []string{"stage"})

	metricFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_fallbacks_total",
		Help: "AI turns that degraded to a text event",
	}, []string{"kind"})

	metricGenerationMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turn_generation_ms",
		Help:    "Latency from commit to dialogue reply (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	metricSynthesisMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turn_synthesis_ms",
		Help:    "Latency of speech synthesis per reply (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	metricSTTSendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_stt_send_errors_total",
		Help: "Frames the transcriber refused",
	})

	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "turn_active_sessions",
		Help: "Voice sessions with a running turn controller",
	})
)

package tts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_requests_total",
		Help: "ElevenLabs synthesis requests by outcome",
	}, []string{"status"})

	metricUpstreamMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_upstream_latency_ms",
		Help:    "Time until ElevenLabs returns response headers",
		Buckets: prometheus.ExponentialBuckets(20, 1.6, 10),
	})

	metricSynthesisMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_synthesis_ms",
		Help:    "Full synthesis time including the audio body",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	metricAudioBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_audio_bytes",
		Help:    "Size of synthesized clips",
		Buckets: prometheus.ExponentialBuckets(4096, 2, 10),
	})
)

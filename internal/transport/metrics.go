package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricUpgrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_upgrades_total",
		Help: "Voice socket upgrade attempts by result",
	}, []string{"result"})

	metricActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transport_active_connections",
		Help: "Open voice sockets",
	})

	metricFramesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transport_frames_in_total",
		Help: "Audio frames received from clients",
	})

	metricEmptyFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transport_empty_frames_total",
		Help: "Zero-length audio frames skipped",
	})

	metricControlsIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_controls_in_total",
		Help: "Control signals received from clients",
	}, []string{"type"})

	metricEventsOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_events_out_total",
		Help: "Events written to clients",
	}, []string{"type"})

	metricCloses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_closes_total",
		Help: "Voice sockets closed, by reason",
	}, []string{"reason"})
)

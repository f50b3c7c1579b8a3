package playback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPlayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playback_items_finished_total",
		Help: "Queued audio items that finished or failed playback",
	})

	metricPlayErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playback_errors_total",
		Help: "Audio items that failed to start or play",
	})

	metricFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playback_flushes_total",
		Help: "Non-empty queue flushes (barge-in)",
	})

	metricLateStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playback_late_stops_total",
		Help: "Items stopped right after starting because a flush raced their start",
	})
)

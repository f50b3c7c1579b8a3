package interview

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_replies_total",
		Help: "Dialogue replies by outcome",
	}, []string{"status"})

	metricCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_completed_total",
		Help: "Interviews that reached the turn limit",
	})
)

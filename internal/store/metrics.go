package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricReaped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "store_sessions_reaped_total",
	Help: "Interview sessions removed after the idle TTL",
})

package worker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	attemptsTotal *prometheus.CounterVec
	skippedTotal  *prometheus.CounterVec
	failedTotal   prometheus.Counter
	inFlight      prometheus.Gauge
	pollErrors    prometheus.Counter
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		attemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "placeholder_reassignment",
			Subsystem: "worker",
			Name:      "attempts_total",
			Help:      "Total number of reassignment attempts made by the worker.",
		}, []string{"result"}),
		skippedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "placeholder_reassignment",
			Subsystem: "worker",
			Name:      "skipped_total",
			Help:      "Source users skipped by the worker.",
		}, []string{"reason"}),
		failedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "placeholder_reassignment",
			Subsystem: "worker",
			Name:      "failed_total",
			Help:      "Source users marked failed after exhausting attempts.",
		}),
		inFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "placeholder_reassignment",
			Subsystem: "worker",
			Name:      "in_flight",
			Help:      "Reassignment passes currently running.",
		}),
		pollErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "placeholder_reassignment",
			Subsystem: "worker",
			Name:      "poll_errors_total",
			Help:      "Failed polls for source users awaiting reassignment.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

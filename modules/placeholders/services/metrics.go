package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	referencesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "placeholder_reassignment",
		Subsystem: "references",
		Name:      "total",
		Help:      "Placeholder references processed, broken down by model, column and result.",
	}, []string{"model", "column", "result"})

	membershipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "placeholder_reassignment",
		Subsystem: "memberships",
		Name:      "total",
		Help:      "Placeholder memberships processed, broken down by outcome.",
	}, []string{"result"})

	trackedErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "placeholder_reassignment",
		Name:      "tracked_errors_total",
		Help:      "Recoverable errors sent to error tracking, broken down by message.",
	}, []string{"message"})

	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "placeholder_reassignment",
		Subsystem: "passes",
		Name:      "total",
		Help:      "Reassignment passes, broken down by result.",
	}, []string{"result"})

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "placeholder_reassignment",
		Subsystem: "pass",
		Name:      "duration_seconds",
		Help:      "Duration of a full reassignment pass.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
	})
)

func recordReferences(model, column, result string, n int) {
	if n <= 0 {
		return
	}
	referencesTotal.WithLabelValues(model, column, result).Add(float64(n))
}

func recordMembership(outcome MergeOutcome) {
	membershipsTotal.WithLabelValues(string(outcome)).Inc()
}

func recordPass(result string, d time.Duration) {
	passesTotal.WithLabelValues(result).Inc()
	passDuration.Observe(d.Seconds())
}

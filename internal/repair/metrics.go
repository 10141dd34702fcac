package repair

import (
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	repairAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "repair",
			Name:      "attempts_total",
			Help:      "Total recorded repair attempts by outcome",
		},
		[]string{"source_type", "outcome"},
	)

	repairInvokeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "repair",
			Name:      "invoke_duration_seconds",
			Help:      "Time spent waiting for the repair invoker",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"source_type"},
	)
)

func recordAttempt(sourceType domain.SourceType, outcome Outcome) {
	repairAttempts.WithLabelValues(string(sourceType), string(outcome)).Inc()
}

func observeInvoke(sourceType domain.SourceType, d time.Duration) {
	repairInvokeDuration.WithLabelValues(string(sourceType)).Observe(d.Seconds())
}

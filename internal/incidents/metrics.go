package incidents

import (
	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	incidentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "incidents",
			Name:      "ingested_total",
			Help:      "Total incidents reported by the detector",
		},
		[]string{"source_type", "severity"},
	)

	incidentsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "incidents",
			Name:      "resolved_total",
			Help:      "Total incidents resolved by resolution kind",
		},
		[]string{"kind"},
	)
)

func recordIngested(sourceType domain.SourceType, severity domain.Severity) {
	incidentsIngested.WithLabelValues(string(sourceType), string(severity)).Inc()
}

// RecordResolution counts a resolution transition.
func RecordResolution(kind domain.ResolutionKind) {
	incidentsResolved.WithLabelValues(string(kind)).Inc()
}

package escalation

import (
	"github.com/bissquit/incident-repair/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ticket request results.
const (
	resultCreated   = "created"
	resultDuplicate = "duplicate"
	resultSkipped   = "skipped"
	resultFailed    = "failed"
)

var ticketsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "escalation",
		Name:      "tickets_total",
		Help:      "Total ticket requests by result",
	},
	[]string{"result"},
)

func recordTicket(result string) {
	ticketsTotal.WithLabelValues(result).Inc()
}

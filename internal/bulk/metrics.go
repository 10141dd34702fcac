package bulk

import (
	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var bulkItems = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "bulk",
		Name:      "items_total",
		Help:      "Total bulk items processed by action and status",
	},
	[]string{"action", "status"},
)

func recordItem(action Action, status domain.ActionStatus) {
	bulkItems.WithLabelValues(string(action), string(status)).Inc()
}

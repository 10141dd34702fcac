package reliability

import (
	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	integrityRate = newGauge("integrity_rate_percent", "Share of eligible assets passing integrity checks")
	integrityUp   = newGauge("integrity_available", "1 if the integrity source answered on the last export")
	mttrMinutes   = newGauge("mttr_minutes", "Mean time to resolution in minutes over the default window")
	recoveryRate  = newGauge("recovery_rate_percent", "Share of resolutions that were automatic over the default window")
	escalation    = newGauge("escalation_rate_percent", "Escalated incidents per detected incident over the default window")
	unresolved    = newGauge("unresolved_incidents", "Open incidents at export time")
	chronicOpen   = newGauge("chronic_open_incidents", "Open incidents at or over the chronic failure threshold")
)

func newGauge(name, help string) prometheus.Gauge {
	return promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "reliability",
		Name:      name,
		Help:      help,
	})
}

// RecordReport exports a report as gauges. Missing values are exported as 0.
func RecordReport(report *domain.ReliabilityReport) {
	integrityRate.Set(report.IntegrityRatePercent)
	integrityUp.Set(boolToFloat(report.IntegrityAvailable))
	if report.MTTRMinutesAvg != nil {
		mttrMinutes.Set(*report.MTTRMinutesAvg)
	} else {
		mttrMinutes.Set(0)
	}
	recoveryRate.Set(report.RecoveryRatePercent)
	escalation.Set(report.EscalationRatePercent)
	unresolved.Set(float64(report.UnresolvedCount))
	chronicOpen.Set(float64(report.ChronicOpenCount))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

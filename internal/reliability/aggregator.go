// Package reliability computes reliability statistics over incident history.
package reliability

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/pkg/ctxlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	tracerName           = "github.com/bissquit/incident-repair/internal/reliability"
	defaultWindow        = 24 * time.Hour
	defaultMaxWindow     = 90 * 24 * time.Hour
	defaultComputeBudget = 30 * time.Second
)

// Store is the read side of the incident store used for statistics.
type Store interface {
	ListResolvedBetween(ctx context.Context, window domain.Window) ([]*domain.Incident, error)
	CountDetectedBetween(ctx context.Context, window domain.Window) (int, error)
	CountEscalatedBetween(ctx context.Context, window domain.Window) (int, error)
	CountOpen(ctx context.Context, chronicThreshold int) (open, chronic int, err error)
}

// IntegritySource reports asset integrity counts.
type IntegritySource interface {
	IntegritySummary(ctx context.Context) (domain.IntegrityCounts, error)
}

// Config holds aggregator settings.
type Config struct {
	DefaultWindow    time.Duration
	MaxWindow        time.Duration
	ChronicThreshold int
}

// Aggregator computes reliability reports.
type Aggregator struct {
	store     Store
	integrity IntegritySource
	config    Config
	group     singleflight.Group
	now       func() time.Time
}

// NewAggregator creates a new aggregator. integrity may be nil, in which case
// reports mark integrity as unavailable.
func NewAggregator(store Store, integrity IntegritySource, config Config) *Aggregator {
	if config.DefaultWindow <= 0 {
		config.DefaultWindow = defaultWindow
	}
	if config.MaxWindow <= 0 {
		config.MaxWindow = defaultMaxWindow
	}
	if config.ChronicThreshold <= 0 {
		config.ChronicThreshold = domain.DefaultChronicFailureThreshold
	}
	return &Aggregator{
		store:     store,
		integrity: integrity,
		config:    config,
		now:       time.Now,
	}
}

// DefaultWindow returns the trailing default window ending now.
func (a *Aggregator) DefaultWindow() domain.Window {
	return domain.TrailingWindow(a.now().UTC(), a.config.DefaultWindow)
}

// ComputeMetrics builds the report for window. Identical concurrent requests
// share one computation.
func (a *Aggregator) ComputeMetrics(ctx context.Context, window domain.Window) (*domain.ReliabilityReport, error) {
	if !window.To.After(window.From) {
		return nil, ErrInvalidWindow
	}
	if window.Duration() > a.config.MaxWindow {
		return nil, fmt.Errorf("%w: %s > %s", ErrWindowTooLarge, window.Duration(), a.config.MaxWindow)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "reliability.ComputeMetrics",
		trace.WithAttributes(
			attribute.String("window.from", window.From.Format(time.RFC3339)),
			attribute.String("window.to", window.To.Format(time.RFC3339)),
		))
	defer span.End()

	key := fmt.Sprintf("%d:%d", window.From.UnixNano(), window.To.UnixNano())
	v, err, shared := a.group.Do(key, func() (interface{}, error) {
		// Shared by every waiting caller; one caller leaving must not cancel it.
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultComputeBudget)
		defer cancel()
		return a.compute(computeCtx, window)
	})
	span.SetAttributes(attribute.Bool("singleflight.shared", shared))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := *v.(*domain.ReliabilityReport)
	return &report, nil
}

func (a *Aggregator) compute(ctx context.Context, window domain.Window) (*domain.ReliabilityReport, error) {
	report := &domain.ReliabilityReport{
		Window:      window,
		GeneratedAt: a.now().UTC(),
	}

	a.fillIntegrity(ctx, report)

	resolved, err := a.store.ListResolvedBetween(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("list resolved incidents: %w", err)
	}
	fillResolution(report, resolved)

	report.DetectedCountInWindow, err = a.store.CountDetectedBetween(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("count detected incidents: %w", err)
	}
	report.EscalatedCountInWindow, err = a.store.CountEscalatedBetween(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("count escalated incidents: %w", err)
	}
	report.EscalationRatePercent, report.EscalationRateNoData = percent(
		int64(report.EscalatedCountInWindow), int64(report.DetectedCountInWindow))

	report.UnresolvedCount, report.ChronicOpenCount, err = a.store.CountOpen(ctx, a.config.ChronicThreshold)
	if err != nil {
		return nil, fmt.Errorf("count open incidents: %w", err)
	}

	return report, nil
}

// fillIntegrity never fails the report: an unreachable source is flagged instead.
func (a *Aggregator) fillIntegrity(ctx context.Context, report *domain.ReliabilityReport) {
	if a.integrity == nil {
		return
	}

	counts, err := a.integrity.IntegritySummary(ctx)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("integrity source unavailable", "error", err)
		return
	}

	report.IntegrityAvailable = true
	report.EligibleCount = counts.Eligible
	report.InvalidCount = counts.Invalid
	if counts.Eligible == 0 {
		report.IntegrityRatePercent = 100
		return
	}
	report.IntegrityRatePercent, _ = percent(counts.Eligible-counts.Invalid, counts.Eligible)
}

func fillResolution(report *domain.ReliabilityReport, resolved []*domain.Incident) {
	var totalMinutes float64
	var measured int
	for _, incident := range resolved {
		if incident.ResolvedAt == nil {
			continue
		}
		report.ResolvedCountInWindow++
		if incident.ResolutionKind == domain.ResolutionAutoRecovered {
			report.AutoRecoveredCount++
		}

		minutes := incident.ResolvedAt.Sub(incident.DetectedAt).Minutes()
		if minutes < 0 {
			continue
		}
		totalMinutes += minutes
		measured++
	}

	if measured > 0 {
		avg := round2(totalMinutes / float64(measured))
		report.MTTRMinutesAvg = &avg
	}

	report.RecoveryRatePercent, report.RecoveryRateNoData = percent(
		int64(report.AutoRecoveredCount), int64(report.ResolvedCountInWindow))
}

// percent returns 100*part/whole clamped to [0, 100], or (0, true) when whole is zero.
func percent(part, whole int64) (float64, bool) {
	if whole <= 0 {
		return 0, true
	}
	p := 100 * float64(part) / float64(whole)
	p = math.Max(0, math.Min(100, p))
	return round2(p), false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

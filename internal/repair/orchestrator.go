// Package repair runs automated repair attempts against open incidents.
package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/incidents"
	"github.com/bissquit/incident-repair/internal/pkg/ctxlog"
	"github.com/bissquit/incident-repair/internal/pkg/keylock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName           = "github.com/bissquit/incident-repair/internal/repair"
	defaultInvokeTimeout = 30 * time.Second
)

// Invoker triggers the repair action for the resource behind an incident.
// A nil error means the resource was repaired.
type Invoker interface {
	Invoke(ctx context.Context, sourceType domain.SourceType, sourceID string) error
}

// Outcome is the result of invoking a repair.
type Outcome string

// Repair outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Result is the outcome of a single repair request.
type Result struct {
	Status          domain.ActionStatus `json:"status"`
	Outcome         Outcome             `json:"outcome,omitempty"`
	Reason          string              `json:"reason,omitempty"`
	Retryable       bool                `json:"retryable,omitempty"`
	TicketSuggested bool                `json:"ticket_suggested"`
	Incident        *domain.Incident    `json:"incident"`
}

// Config holds orchestrator settings.
type Config struct {
	InvokeTimeout    time.Duration
	ChronicThreshold int
}

// Orchestrator attempts repairs one incident at a time.
type Orchestrator struct {
	repo    incidents.Repository
	locker  keylock.Locker
	invoker Invoker
	config  Config
	now     func() time.Time
}

// NewOrchestrator creates a new repair orchestrator.
func NewOrchestrator(repo incidents.Repository, locker keylock.Locker, invoker Invoker, config Config) *Orchestrator {
	if config.InvokeTimeout <= 0 {
		config.InvokeTimeout = defaultInvokeTimeout
	}
	if config.ChronicThreshold <= 0 {
		config.ChronicThreshold = domain.DefaultChronicFailureThreshold
	}
	return &Orchestrator{
		repo:    repo,
		locker:  locker,
		invoker: invoker,
		config:  config,
		now:     time.Now,
	}
}

// AttemptRepair invokes the repair for an open incident and records exactly
// one attempt. A resolved incident yields a conflict result with no side effects.
func (o *Orchestrator) AttemptRepair(ctx context.Context, id string) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "repair.AttemptRepair",
		trace.WithAttributes(attribute.String("incident.id", id)))
	defer span.End()

	result, err := o.attemptRepair(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("repair.status", string(result.Status)),
		attribute.String("repair.outcome", string(result.Outcome)),
	)
	return result, nil
}

func (o *Orchestrator) attemptRepair(ctx context.Context, id string) (*Result, error) {
	ctx, logger := ctxlog.With(ctx, "incident_id", id)

	unlock, err := o.locker.Lock(ctx, incidents.LockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock incident: %w", err)
	}
	defer unlock()

	incident, err := incidents.Fetch(ctx, o.repo, id)
	if err != nil {
		return nil, err
	}

	if incident.IsResolved() {
		return o.conflict(incident), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("attempt repair: %w", err)
	}

	invokeErr := o.invoke(ctx, incident)

	// The external outcome is known; record it even if the caller went away.
	storeCtx := context.WithoutCancel(ctx)
	updated, err := o.repo.RecordRepairAttempt(storeCtx, id, o.now().UTC(), invokeErr == nil)
	if err != nil {
		if errors.Is(err, incidents.ErrIncidentResolved) {
			current, fetchErr := incidents.Fetch(storeCtx, o.repo, id)
			if fetchErr != nil {
				return nil, fetchErr
			}
			return o.conflict(current), nil
		}
		return nil, fmt.Errorf("record repair attempt: %w", err)
	}

	if err := updated.Validate(); err != nil {
		logger.Error("repair attempt produced invalid incident state", "error", err)
		return nil, err
	}

	result := &Result{
		Incident:        updated,
		TicketSuggested: o.ticketSuggested(updated),
	}

	if invokeErr == nil {
		result.Status = domain.ActionSucceeded
		result.Outcome = OutcomeSuccess
		recordAttempt(incident.SourceType, OutcomeSuccess)
		incidents.RecordResolution(domain.ResolutionAutoRecovered)
		logger.Info("repair succeeded, incident auto-recovered",
			"attempts", updated.RepairAttempts,
		)
		return result, nil
	}

	result.Status = domain.ActionRepairFailed
	result.Outcome = OutcomeFailure
	result.Reason = invokeErr.Error()
	result.Retryable = IsRetryable(invokeErr)
	recordAttempt(incident.SourceType, OutcomeFailure)
	logger.Warn("repair attempt failed",
		"attempts", updated.RepairAttempts,
		"retryable", result.Retryable,
		"error", invokeErr,
	)
	return result, nil
}

// invoke calls the invoker under the configured timeout. A timeout is a failure.
func (o *Orchestrator) invoke(ctx context.Context, incident *domain.Incident) error {
	ctx, cancel := context.WithTimeout(ctx, o.config.InvokeTimeout)
	defer cancel()

	start := time.Now()
	err := o.invoker.Invoke(ctx, incident.SourceType, incident.SourceRef())
	observeInvoke(incident.SourceType, time.Since(start))

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TransientError{Err: fmt.Errorf("repair timed out after %s: %w", o.config.InvokeTimeout, err)}
	}
	return err
}

func (o *Orchestrator) conflict(incident *domain.Incident) *Result {
	return &Result{
		Status:   domain.ActionConflict,
		Reason:   domain.ReasonAlreadyResolved,
		Incident: incident,
	}
}

func (o *Orchestrator) ticketSuggested(incident *domain.Incident) bool {
	return !incident.HasTicket() &&
		domain.SuggestTicket(incident.RepairAttempts, incident.Status, o.config.ChronicThreshold)
}

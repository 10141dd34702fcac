// Package bulk fans one action out over many incidents and aggregates a report.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/escalation"
	"github.com/bissquit/incident-repair/internal/incidents"
	"github.com/bissquit/incident-repair/internal/pkg/ctxlog"
	"github.com/bissquit/incident-repair/internal/repair"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName          = "github.com/bissquit/incident-repair/internal/bulk"
	defaultConcurrency  = 8
	defaultMaxBatchSize = 500
)

// Action is a bulk operation.
type Action string

// Supported actions.
const (
	ActionAttemptRepair Action = "attempt_repair"
	ActionCreateTicket  Action = "create_ticket"
	ActionResolve       Action = "resolve"
)

// IsValid checks if the action is supported.
func (a Action) IsValid() bool {
	switch a {
	case ActionAttemptRepair, ActionCreateTicket, ActionResolve:
		return true
	}
	return false
}

// Repairer runs a single repair attempt.
type Repairer interface {
	AttemptRepair(ctx context.Context, id string) (*repair.Result, error)
}

// Ticketer creates a single ticket.
type Ticketer interface {
	CreateTicket(ctx context.Context, id string) (*escalation.Result, error)
}

// Resolver resolves a single incident.
type Resolver interface {
	Resolve(ctx context.Context, id string, input incidents.ResolveInput) (*incidents.ResolveResult, error)
}

// ItemResult is the outcome for one requested incident.
type ItemResult struct {
	IncidentID string              `json:"incident_id"`
	OK         bool                `json:"ok"`
	Status     domain.ActionStatus `json:"status"`
	Reason     string              `json:"reason,omitempty"`
	TicketID   string              `json:"ticket_id,omitempty"`
	Incident   *domain.Incident    `json:"incident,omitempty"`
}

// Report aggregates the outcome of a bulk request.
type Report struct {
	Action         Action                      `json:"action"`
	Results        []ItemResult                `json:"results"`
	SucceededCount int                         `json:"succeeded_count"`
	FailedCount    int                         `json:"failed_count"`
	StatusCounts   map[domain.ActionStatus]int `json:"status_counts"`
}

// Config holds coordinator settings.
type Config struct {
	Concurrency  int
	MaxBatchSize int
}

// Coordinator runs single-incident operations over a batch.
type Coordinator struct {
	repairer Repairer
	ticketer Ticketer
	resolver Resolver
	config   Config
}

// NewCoordinator creates a new bulk coordinator.
func NewCoordinator(repairer Repairer, ticketer Ticketer, resolver Resolver, config Config) *Coordinator {
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = defaultMaxBatchSize
	}
	return &Coordinator{
		repairer: repairer,
		ticketer: ticketer,
		resolver: resolver,
		config:   config,
	}
}

// RunBulk applies action to every distinct id. Each item goes through the same
// single-incident path, so one item's failure never affects the others.
// Results follow the order of first appearance in ids.
func (c *Coordinator) RunBulk(ctx context.Context, action Action, ids []string) (*Report, error) {
	if !action.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	unique, err := c.dedupe(ids)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "bulk.RunBulk",
		trace.WithAttributes(
			attribute.String("bulk.action", string(action)),
			attribute.Int("bulk.items", len(unique)),
		))
	defer span.End()

	ctx, logger := ctxlog.With(ctx, "bulk_action", action)

	results := make([]ItemResult, len(unique))
	var g errgroup.Group
	g.SetLimit(c.config.Concurrency)

	for i, id := range unique {
		g.Go(func() error {
			results[i] = c.runItem(ctx, action, id)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		Action:       action,
		Results:      results,
		StatusCounts: make(map[domain.ActionStatus]int),
	}
	for _, r := range results {
		report.StatusCounts[r.Status]++
		if r.OK {
			report.SucceededCount++
		} else {
			report.FailedCount++
		}
		recordItem(action, r.Status)
	}

	span.SetAttributes(
		attribute.Int("bulk.succeeded", report.SucceededCount),
		attribute.Int("bulk.failed", report.FailedCount),
	)
	logger.Info("bulk action finished",
		"items", len(unique),
		"succeeded", report.SucceededCount,
		"failed", report.FailedCount,
	)

	return report, nil
}

func (c *Coordinator) dedupe(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyBatch
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, ErrBlankIncidentID
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	if len(unique) > c.config.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(unique), c.config.MaxBatchSize)
	}
	return unique, nil
}

func (c *Coordinator) runItem(ctx context.Context, action Action, id string) ItemResult {
	item := ItemResult{IncidentID: id}

	switch action {
	case ActionAttemptRepair:
		result, err := c.repairer.AttemptRepair(ctx, id)
		if err != nil {
			return c.failed(ctx, item, err)
		}
		item.Status, item.Reason, item.Incident = result.Status, result.Reason, result.Incident

	case ActionCreateTicket:
		result, err := c.ticketer.CreateTicket(ctx, id)
		if err != nil {
			return c.failed(ctx, item, err)
		}
		item.Status, item.Reason, item.Incident = result.Status, result.Reason, result.Incident
		item.TicketID = result.TicketID

	case ActionResolve:
		result, err := c.resolver.Resolve(ctx, id, incidents.ResolveInput{Kind: domain.ResolutionManual})
		if err != nil {
			return c.failed(ctx, item, err)
		}
		item.Status, item.Reason, item.Incident = result.Status, result.Reason, result.Incident
	}

	item.OK = item.Status == domain.ActionSucceeded
	return item
}

func (c *Coordinator) failed(ctx context.Context, item ItemResult, err error) ItemResult {
	if errors.Is(err, incidents.ErrIncidentNotFound) {
		item.Status = domain.ActionNotFound
		item.Reason = domain.ReasonNotFound
		return item
	}

	logger := ctxlog.FromContext(ctx)
	if errors.Is(err, domain.ErrInvariantViolation) {
		logger.Error("bulk item skipped, invariant violation",
			"incident_id", item.IncidentID,
			"error", err,
		)
	} else {
		logger.Warn("bulk item failed", "incident_id", item.IncidentID, "error", err)
	}

	item.Status = domain.ActionError
	item.Reason = err.Error()
	return item
}

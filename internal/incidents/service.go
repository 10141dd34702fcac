package incidents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/pkg/ctxlog"
	"github.com/bissquit/incident-repair/internal/pkg/keylock"
)

// LockKey returns the keylock key guarding mutations of one incident.
// Every component that mutates an incident must hold it.
func LockKey(id string) string {
	return "incident:" + id
}

// Fetch loads an incident and checks its invariants.
// A broken invariant is logged at error level and returned as an error.
func Fetch(ctx context.Context, repo Repository, id string) (*domain.Incident, error) {
	incident, err := repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := incident.Validate(); err != nil {
		ctxlog.FromContext(ctx).Error("stored incident violates invariants",
			"incident_id", id,
			"error", err,
		)
		return nil, err
	}
	return incident, nil
}

// Service implements incident read, ingest and manual resolution logic.
type Service struct {
	repo             Repository
	locker           keylock.Locker
	chronicThreshold int
	now              func() time.Time
}

// NewService creates a new incident service.
func NewService(repo Repository, locker keylock.Locker, chronicThreshold int) *Service {
	return &Service{
		repo:             repo,
		locker:           locker,
		chronicThreshold: chronicThreshold,
		now:              time.Now,
	}
}

// IngestInput holds a problem reported by the detector.
type IngestInput struct {
	Severity    domain.Severity
	Title       string
	Description string
	SourceType  domain.SourceType
	SourceID    *string
	DetectedAt  *time.Time
}

// ResolveInput holds data for a manual resolution.
type ResolveInput struct {
	Kind domain.ResolutionKind
	Note string
}

// ResolveResult is the outcome of a manual resolution.
type ResolveResult struct {
	Status   domain.ActionStatus `json:"status"`
	Reason   string              `json:"reason,omitempty"`
	Incident *domain.Incident    `json:"incident"`
}

// IncidentView is an incident with advisory display metadata.
type IncidentView struct {
	*domain.Incident
	TicketSuggested bool `json:"ticket_suggested"`
}

// View wraps an incident with advisory metadata.
func (s *Service) View(incident *domain.Incident) IncidentView {
	return IncidentView{
		Incident: incident,
		TicketSuggested: !incident.HasTicket() &&
			domain.SuggestTicket(incident.RepairAttempts, incident.Status, s.chronicThreshold),
	}
}

// Ingest records a newly detected incident as open with no attempts.
func (s *Service) Ingest(ctx context.Context, input IngestInput) (*domain.Incident, error) {
	if !input.Severity.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSeverity, input.Severity)
	}
	if !input.SourceType.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSourceType, input.SourceType)
	}

	now := s.now().UTC()
	detectedAt := now
	if input.DetectedAt != nil && !input.DetectedAt.After(now) {
		detectedAt = input.DetectedAt.UTC()
	}

	incident := &domain.Incident{
		Severity:       input.Severity,
		Title:          input.Title,
		Description:    input.Description,
		SourceType:     input.SourceType,
		SourceID:       input.SourceID,
		DetectedAt:     detectedAt,
		Status:         domain.IncidentStatusOpen,
		ResolutionKind: domain.ResolutionNone,
	}

	if err := s.repo.CreateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	recordIngested(incident.SourceType, incident.Severity)
	ctxlog.FromContext(ctx).Info("incident ingested",
		"incident_id", incident.ID,
		"source_type", incident.SourceType,
		"severity", incident.Severity,
	)

	return incident, nil
}

// GetIncident retrieves an incident by ID.
func (s *Service) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return Fetch(ctx, s.repo, id)
}

// ListIncidents retrieves incidents with optional filters.
func (s *Service) ListIncidents(ctx context.Context, filters IncidentFilters) ([]*domain.Incident, error) {
	list, err := s.repo.ListIncidents(ctx, filters)
	if err != nil {
		return nil, err
	}
	for _, incident := range list {
		if err := incident.Validate(); err != nil {
			ctxlog.FromContext(ctx).Error("stored incident violates invariants",
				"incident_id", incident.ID,
				"error", err,
			)
			return nil, err
		}
	}
	return list, nil
}

// Resolve closes an open incident on behalf of an operator.
// Resolving an already resolved incident is a conflict, not an error.
func (s *Service) Resolve(ctx context.Context, id string, input ResolveInput) (*ResolveResult, error) {
	if input.Kind == "" {
		input.Kind = domain.ResolutionManual
	}
	if input.Kind != domain.ResolutionManual && input.Kind != domain.ResolutionEscalated {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResolutionKind, input.Kind)
	}

	ctx, logger := ctxlog.With(ctx, "incident_id", id)

	unlock, err := s.locker.Lock(ctx, LockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock incident: %w", err)
	}
	defer unlock()

	incident, err := Fetch(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}

	if incident.IsResolved() {
		return &ResolveResult{
			Status:   domain.ActionConflict,
			Reason:   domain.ReasonAlreadyResolved,
			Incident: incident,
		}, nil
	}

	if input.Kind == domain.ResolutionEscalated && !incident.HasTicket() {
		return nil, ErrTicketRequired
	}

	updated, err := s.repo.Resolve(ctx, id, input.Kind, input.Note, s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrIncidentResolved) {
			return s.conflict(ctx, id)
		}
		return nil, fmt.Errorf("resolve incident: %w", err)
	}

	RecordResolution(updated.ResolutionKind)
	logger.Info("incident resolved", "kind", updated.ResolutionKind)

	return &ResolveResult{Status: domain.ActionSucceeded, Incident: updated}, nil
}

// conflict re-reads an incident that another writer resolved first.
func (s *Service) conflict(ctx context.Context, id string) (*ResolveResult, error) {
	current, err := Fetch(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	return &ResolveResult{
		Status:   domain.ActionConflict,
		Reason:   domain.ReasonAlreadyResolved,
		Incident: current,
	}, nil
}

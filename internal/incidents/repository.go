// Package incidents provides the incident store and the read/resolve/ingest operations.
package incidents

import (
	"context"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
)

// Repository defines the interface for incident storage.
//
// Every mutating method is a single conditional update: it applies only while
// the incident is still open and returns ErrIncidentResolved otherwise, so
// callers never overwrite a terminal state.
type Repository interface {
	CreateIncident(ctx context.Context, incident *domain.Incident) error
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filters IncidentFilters) ([]*domain.Incident, error)

	// RecordRepairAttempt increments repair_attempts and sets last_repair_attempt_at.
	// When resolve is true the incident is resolved as auto_recovered at the same instant.
	RecordRepairAttempt(ctx context.Context, id string, at time.Time, resolve bool) (*domain.Incident, error)
	// LinkTicket sets linked_ticket_id and escalated_at.
	// Returns ErrTicketAlreadyLinked if a ticket is already linked.
	LinkTicket(ctx context.Context, id, ticketID string, at time.Time) (*domain.Incident, error)
	Resolve(ctx context.Context, id string, kind domain.ResolutionKind, note string, at time.Time) (*domain.Incident, error)

	// Window queries used by reliability reporting.
	ListResolvedBetween(ctx context.Context, window domain.Window) ([]*domain.Incident, error)
	CountDetectedBetween(ctx context.Context, window domain.Window) (int, error)
	CountEscalatedBetween(ctx context.Context, window domain.Window) (int, error)
	CountOpen(ctx context.Context, chronicThreshold int) (open, chronic int, err error)
}

// IncidentFilters holds filter options for listing incidents.
type IncidentFilters struct {
	Status      *domain.IncidentStatus
	SourceType  *domain.SourceType
	Severity    *domain.Severity
	MinAttempts int
	Limit       int
	Offset      int
}

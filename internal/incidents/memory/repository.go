// Package memory provides an in-process implementation of incidents.Repository.
// It is used for local runs without PostgreSQL and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/incidents"
	"github.com/google/uuid"
)

// Repository implements incidents.Repository in memory.
type Repository struct {
	mu        sync.RWMutex
	incidents map[string]*domain.Incident
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{incidents: make(map[string]*domain.Incident)}
}

// Put stores an incident as-is, bypassing creation defaults.
// Tests use it to seed arbitrary (including invalid) state.
func (r *Repository) Put(incident *domain.Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents[incident.ID] = clone(incident)
}

// CreateIncident stores a new incident and assigns its ID.
func (r *Repository) CreateIncident(_ context.Context, incident *domain.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	incident.ID = uuid.NewString()
	incident.Version = 1
	incident.CreatedAt = now
	incident.UpdatedAt = now

	r.incidents[incident.ID] = clone(incident)
	return nil
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	incident, ok := r.incidents[id]
	if !ok {
		return nil, incidents.ErrIncidentNotFound
	}
	return clone(incident), nil
}

// ListIncidents retrieves incidents newest first.
func (r *Repository) ListIncidents(_ context.Context, filters incidents.IncidentFilters) ([]*domain.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*domain.Incident, 0)
	for _, incident := range r.incidents {
		if filters.Status != nil && incident.Status != *filters.Status {
			continue
		}
		if filters.SourceType != nil && incident.SourceType != *filters.SourceType {
			continue
		}
		if filters.Severity != nil && incident.Severity != *filters.Severity {
			continue
		}
		if incident.RepairAttempts < filters.MinAttempts {
			continue
		}
		list = append(list, clone(incident))
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].DetectedAt.Equal(list[j].DetectedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].DetectedAt.After(list[j].DetectedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(list) {
			return []*domain.Incident{}, nil
		}
		list = list[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(list) {
		list = list[:filters.Limit]
	}
	return list, nil
}

// RecordRepairAttempt increments the attempt counter of an open incident.
func (r *Repository) RecordRepairAttempt(_ context.Context, id string, at time.Time, resolve bool) (*domain.Incident, error) {
	return r.mutateOpen(id, func(incident *domain.Incident) error {
		incident.RepairAttempts++
		incident.LastRepairAttemptAt = &at
		if resolve {
			resolvedAt := at
			incident.Status = domain.IncidentStatusResolved
			incident.ResolvedAt = &resolvedAt
			incident.ResolutionKind = domain.ResolutionAutoRecovered
		}
		return nil
	})
}

// LinkTicket links a support ticket to an open incident.
func (r *Repository) LinkTicket(_ context.Context, id, ticketID string, at time.Time) (*domain.Incident, error) {
	return r.mutateOpen(id, func(incident *domain.Incident) error {
		if incident.LinkedTicketID != nil {
			return incidents.ErrTicketAlreadyLinked
		}
		incident.LinkedTicketID = &ticketID
		incident.EscalatedAt = &at
		return nil
	})
}

// Resolve closes an open incident.
func (r *Repository) Resolve(_ context.Context, id string, kind domain.ResolutionKind, note string, at time.Time) (*domain.Incident, error) {
	return r.mutateOpen(id, func(incident *domain.Incident) error {
		incident.Status = domain.IncidentStatusResolved
		incident.ResolvedAt = &at
		incident.ResolutionKind = kind
		incident.ResolutionNote = note
		return nil
	})
}

// ListResolvedBetween returns incidents resolved inside the window.
func (r *Repository) ListResolvedBetween(_ context.Context, window domain.Window) ([]*domain.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*domain.Incident, 0)
	for _, incident := range r.incidents {
		if incident.ResolvedAt != nil && window.Contains(*incident.ResolvedAt) {
			list = append(list, clone(incident))
		}
	}
	return list, nil
}

// CountDetectedBetween counts incidents detected inside the window.
func (r *Repository) CountDetectedBetween(_ context.Context, window domain.Window) (int, error) {
	return r.count(func(incident *domain.Incident) bool {
		return window.Contains(incident.DetectedAt)
	}), nil
}

// CountEscalatedBetween counts incidents whose ticket was linked inside the window.
func (r *Repository) CountEscalatedBetween(_ context.Context, window domain.Window) (int, error) {
	return r.count(func(incident *domain.Incident) bool {
		return incident.EscalatedAt != nil && window.Contains(*incident.EscalatedAt)
	}), nil
}

// CountOpen counts open incidents and those at or over the chronic threshold.
func (r *Repository) CountOpen(_ context.Context, chronicThreshold int) (int, int, error) {
	open := r.count(func(incident *domain.Incident) bool {
		return incident.Status == domain.IncidentStatusOpen
	})
	chronic := r.count(func(incident *domain.Incident) bool {
		return incident.Status == domain.IncidentStatusOpen && incident.RepairAttempts >= chronicThreshold
	})
	return open, chronic, nil
}

func (r *Repository) count(match func(*domain.Incident) bool) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, incident := range r.incidents {
		if match(incident) {
			n++
		}
	}
	return n
}

// mutateOpen applies fn to an open incident atomically.
func (r *Repository) mutateOpen(id string, fn func(*domain.Incident) error) (*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.incidents[id]
	if !ok {
		return nil, incidents.ErrIncidentNotFound
	}
	if current.ResolvedAt != nil {
		return nil, incidents.ErrIncidentResolved
	}

	next := clone(current)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	r.incidents[id] = next
	return clone(next), nil
}

func clone(incident *domain.Incident) *domain.Incident {
	c := *incident
	c.SourceID = copyPtr(incident.SourceID)
	c.ResolvedAt = copyPtr(incident.ResolvedAt)
	c.LastRepairAttemptAt = copyPtr(incident.LastRepairAttemptAt)
	c.LinkedTicketID = copyPtr(incident.LinkedTicketID)
	c.EscalatedAt = copyPtr(incident.EscalatedAt)
	return &c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Package postgres provides PostgreSQL implementation of incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/incidents"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const incidentColumns = `
	id, severity, title, description, source_type, source_id, detected_at,
	status, resolved_at, resolution_kind, resolution_note,
	repair_attempts, last_repair_attempt_at, linked_ticket_id, escalated_at,
	version, created_at, updated_at
`

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateIncident inserts a new incident.
func (r *Repository) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			severity, title, description, source_type, source_id, detected_at,
			status, resolution_kind
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, version, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		incident.Severity,
		incident.Title,
		incident.Description,
		incident.SourceType,
		incident.SourceID,
		incident.DetectedAt,
		incident.Status,
		incident.ResolutionKind,
	).Scan(&incident.ID, &incident.Version, &incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	if !isUUID(id) {
		return nil, incidents.ErrIncidentNotFound
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// ListIncidents retrieves incidents newest first with optional filters.
func (r *Repository) ListIncidents(ctx context.Context, filters incidents.IncidentFilters) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filters.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filters.Status)
		argNum++
	}

	if filters.SourceType != nil {
		query += fmt.Sprintf(" AND source_type = $%d", argNum)
		args = append(args, *filters.SourceType)
		argNum++
	}

	if filters.Severity != nil {
		query += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, *filters.Severity)
		argNum++
	}

	if filters.MinAttempts > 0 {
		query += fmt.Sprintf(" AND repair_attempts >= $%d", argNum)
		args = append(args, filters.MinAttempts)
		argNum++
	}

	query += " ORDER BY detected_at DESC, id"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	return r.queryIncidents(ctx, "list incidents", query, args...)
}

// RecordRepairAttempt increments the attempt counter of an open incident
// and, when resolve is set, closes it as auto-recovered in the same statement.
func (r *Repository) RecordRepairAttempt(ctx context.Context, id string, at time.Time, resolve bool) (*domain.Incident, error) {
	query := `
		UPDATE incidents
		SET repair_attempts = repair_attempts + 1,
		    last_repair_attempt_at = $2::timestamptz,
		    status = CASE WHEN $3::boolean THEN 'resolved' ELSE status END,
		    resolved_at = CASE WHEN $3::boolean THEN $2::timestamptz ELSE resolved_at END,
		    resolution_kind = CASE WHEN $3::boolean THEN 'auto_recovered' ELSE resolution_kind END,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING ` + incidentColumns

	return r.updateOpen(ctx, "record repair attempt", id, query, id, at, resolve)
}

// LinkTicket links a support ticket to an open incident without one.
func (r *Repository) LinkTicket(ctx context.Context, id, ticketID string, at time.Time) (*domain.Incident, error) {
	query := `
		UPDATE incidents
		SET linked_ticket_id = $2,
		    escalated_at = $3,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL AND linked_ticket_id IS NULL
		RETURNING ` + incidentColumns

	return r.updateOpen(ctx, "link ticket", id, query, id, ticketID, at)
}

// Resolve closes an open incident.
func (r *Repository) Resolve(ctx context.Context, id string, kind domain.ResolutionKind, note string, at time.Time) (*domain.Incident, error) {
	query := `
		UPDATE incidents
		SET status = 'resolved',
		    resolved_at = $2,
		    resolution_kind = $3,
		    resolution_note = $4,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING ` + incidentColumns

	return r.updateOpen(ctx, "resolve incident", id, query, id, at, kind, note)
}

// ListResolvedBetween returns incidents resolved inside the window.
func (r *Repository) ListResolvedBetween(ctx context.Context, window domain.Window) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE resolved_at >= $1 AND resolved_at < $2
		ORDER BY resolved_at`
	return r.queryIncidents(ctx, "list resolved incidents", query, window.From, window.To)
}

// CountDetectedBetween counts incidents detected inside the window.
func (r *Repository) CountDetectedBetween(ctx context.Context, window domain.Window) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM incidents WHERE detected_at >= $1 AND detected_at < $2`,
		window.From, window.To,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count detected incidents: %w", err)
	}
	return n, nil
}

// CountEscalatedBetween counts incidents whose ticket was linked inside the window.
func (r *Repository) CountEscalatedBetween(ctx context.Context, window domain.Window) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM incidents WHERE escalated_at >= $1 AND escalated_at < $2`,
		window.From, window.To,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count escalated incidents: %w", err)
	}
	return n, nil
}

// CountOpen counts open incidents and those at or over the chronic threshold.
func (r *Repository) CountOpen(ctx context.Context, chronicThreshold int) (int, int, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE repair_attempts >= $1)
		FROM incidents
		WHERE status = 'open'
	`
	var open, chronic int
	if err := r.db.QueryRow(ctx, query, chronicThreshold).Scan(&open, &chronic); err != nil {
		return 0, 0, fmt.Errorf("count open incidents: %w", err)
	}
	return open, chronic, nil
}

// updateOpen runs a conditional UPDATE ... RETURNING. When no row matched it
// tells apart a missing incident, a resolved one and an already linked ticket.
func (r *Repository) updateOpen(ctx context.Context, op, id, query string, args ...any) (*domain.Incident, error) {
	if !isUUID(id) {
		return nil, incidents.ErrIncidentNotFound
	}

	incident, err := scanIncident(r.db.QueryRow(ctx, query, args...))
	if err == nil {
		return incident, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var resolved, linked bool
	err = r.db.QueryRow(ctx,
		`SELECT resolved_at IS NOT NULL, linked_ticket_id IS NOT NULL FROM incidents WHERE id = $1`,
		id,
	).Scan(&resolved, &linked)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, incidents.ErrIncidentNotFound
	case err != nil:
		return nil, fmt.Errorf("%s: check state: %w", op, err)
	case resolved:
		return nil, incidents.ErrIncidentResolved
	case linked:
		return nil, incidents.ErrTicketAlreadyLinked
	default:
		return nil, fmt.Errorf("%s: no row updated", op)
	}
}

func (r *Repository) queryIncidents(ctx context.Context, op, query string, args ...any) ([]*domain.Incident, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	list := make([]*domain.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		list = append(list, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return list, nil
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	err := row.Scan(
		&incident.ID,
		&incident.Severity,
		&incident.Title,
		&incident.Description,
		&incident.SourceType,
		&incident.SourceID,
		&incident.DetectedAt,
		&incident.Status,
		&incident.ResolvedAt,
		&incident.ResolutionKind,
		&incident.ResolutionNote,
		&incident.RepairAttempts,
		&incident.LastRepairAttemptAt,
		&incident.LinkedTicketID,
		&incident.EscalatedAt,
		&incident.Version,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

package domain

import (
	"errors"
	"fmt"
	"time"
)

// Severity represents how bad a detected problem is.
type Severity string

// Severity levels.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityError || s == SeverityCritical
}

// SourceType identifies the kind of resource an incident was detected on.
type SourceType string

// Source types.
const (
	SourceTypeAsset     SourceType = "asset"
	SourceTypeJob       SourceType = "job"
	SourceTypeScheduler SourceType = "scheduler"
	SourceTypeQueue     SourceType = "queue"
	SourceTypeOther     SourceType = "other"
)

// IsValid checks if the source type is valid.
func (t SourceType) IsValid() bool {
	switch t {
	case SourceTypeAsset, SourceTypeJob, SourceTypeScheduler, SourceTypeQueue, SourceTypeOther:
		return true
	}
	return false
}

// IncidentStatus is derived from whether the incident has a resolution time.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusOpen     IncidentStatus = "open"
	IncidentStatusResolved IncidentStatus = "resolved"
)

// IsValid checks if the status is valid.
func (s IncidentStatus) IsValid() bool {
	return s == IncidentStatusOpen || s == IncidentStatusResolved
}

// ResolutionKind records how an incident was closed.
type ResolutionKind string

// Resolution kinds.
const (
	ResolutionNone          ResolutionKind = "none"
	ResolutionAutoRecovered ResolutionKind = "auto_recovered"
	ResolutionManual        ResolutionKind = "manual"
	ResolutionEscalated     ResolutionKind = "escalated"
)

// IsValid checks if the resolution kind is valid.
func (k ResolutionKind) IsValid() bool {
	switch k {
	case ResolutionNone, ResolutionAutoRecovered, ResolutionManual, ResolutionEscalated:
		return true
	}
	return false
}

// Incident is a detected problem tied to a resource or subsystem.
type Incident struct {
	ID                  string         `json:"id"`
	Severity            Severity       `json:"severity"`
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	SourceType          SourceType     `json:"source_type"`
	SourceID            *string        `json:"source_id"`
	DetectedAt          time.Time      `json:"detected_at"`
	Status              IncidentStatus `json:"status"`
	ResolvedAt          *time.Time     `json:"resolved_at"`
	ResolutionKind      ResolutionKind `json:"resolution_kind"`
	ResolutionNote      string         `json:"resolution_note,omitempty"`
	RepairAttempts      int            `json:"repair_attempts"`
	LastRepairAttemptAt *time.Time     `json:"last_repair_attempt_at"`
	LinkedTicketID      *string        `json:"linked_ticket_id"`
	EscalatedAt         *time.Time     `json:"escalated_at"`
	Version             int64          `json:"version"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// IsResolved reports whether the incident reached its terminal state.
func (i *Incident) IsResolved() bool {
	return i.Status == IncidentStatusResolved
}

// HasTicket reports whether a support ticket is linked to the incident.
func (i *Incident) HasTicket() bool {
	return i.LinkedTicketID != nil
}

// SourceRef returns the affected resource id or an empty string.
func (i *Incident) SourceRef() string {
	if i.SourceID == nil {
		return ""
	}
	return *i.SourceID
}

// ErrInvariantViolation marks stored incident state that can never be produced
// by a valid sequence of transitions.
var ErrInvariantViolation = errors.New("incident invariant violation")

// InvariantError describes which invariant a stored incident breaks.
type InvariantError struct {
	IncidentID string
	Detail     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("incident %s: invariant violation: %s", e.IncidentID, e.Detail)
}

// Unwrap allows errors.Is(err, ErrInvariantViolation).
func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// Validate checks the incident against the state invariants.
// A non-nil result always wraps ErrInvariantViolation.
func (i *Incident) Validate() error {
	violation := func(format string, args ...any) error {
		return &InvariantError{IncidentID: i.ID, Detail: fmt.Sprintf(format, args...)}
	}

	if !i.Status.IsValid() {
		return violation("unknown status %q", i.Status)
	}
	if !i.ResolutionKind.IsValid() {
		return violation("unknown resolution kind %q", i.ResolutionKind)
	}
	if i.IsResolved() != (i.ResolvedAt != nil) {
		return violation("status %s does not match resolved_at", i.Status)
	}
	if i.IsResolved() == (i.ResolutionKind == ResolutionNone) {
		return violation("status %s with resolution kind %s", i.Status, i.ResolutionKind)
	}
	if i.RepairAttempts < 0 {
		return violation("negative repair attempts %d", i.RepairAttempts)
	}
	if i.HasTicket() != (i.EscalatedAt != nil) {
		return violation("linked ticket and escalation time disagree")
	}
	if i.ResolvedAt != nil && i.ResolvedAt.Before(i.DetectedAt) {
		return violation("resolved before detection")
	}
	return nil
}

package incidents

import "errors"

// Store errors.
var (
	ErrIncidentNotFound    = errors.New("incident not found")
	ErrIncidentResolved    = errors.New("incident already resolved")
	ErrTicketAlreadyLinked = errors.New("ticket already linked")
)

// Validation errors.
var (
	ErrInvalidSeverity       = errors.New("invalid severity")
	ErrInvalidSourceType     = errors.New("invalid source type")
	ErrInvalidResolutionKind = errors.New("invalid resolution kind")
	ErrTicketRequired        = errors.New("escalated resolution requires a linked ticket")
)

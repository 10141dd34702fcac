package escalation

import (
	"errors"
	"fmt"
)

// ErrDuplicateTicket is returned by a Gateway when the desk already holds a
// ticket for the incident.
var ErrDuplicateTicket = errors.New("duplicate ticket")

// DuplicateError carries the existing ticket id when the desk reports it.
type DuplicateError struct {
	TicketID string
}

func (e *DuplicateError) Error() string {
	if e.TicketID == "" {
		return ErrDuplicateTicket.Error()
	}
	return fmt.Sprintf("%s: %s", ErrDuplicateTicket, e.TicketID)
}

// Unwrap allows errors.Is(err, ErrDuplicateTicket).
func (e *DuplicateError) Unwrap() error { return ErrDuplicateTicket }

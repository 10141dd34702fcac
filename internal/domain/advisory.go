package domain

// DefaultChronicFailureThreshold is the repair attempt count from which an open
// incident is considered unlikely to recover without a human.
const DefaultChronicFailureThreshold = 3

// SuggestTicket reports whether an incident should be offered for escalation.
// It is advisory only: escalation never requires it to be true.
// A non-positive threshold falls back to DefaultChronicFailureThreshold.
func SuggestTicket(attempts int, status IncidentStatus, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultChronicFailureThreshold
	}
	return status == IncidentStatusOpen && attempts >= threshold
}

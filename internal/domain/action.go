package domain

// ActionStatus is the outcome of a single-incident operation.
type ActionStatus string

// Action statuses.
const (
	ActionSucceeded       ActionStatus = "succeeded"
	ActionNotFound        ActionStatus = "not_found"
	ActionConflict        ActionStatus = "conflict"
	ActionAlreadyTicketed ActionStatus = "already_ticketed"
	ActionRepairFailed    ActionStatus = "repair_failed"
	ActionError           ActionStatus = "error"
)

// Conflict reasons shown to operators.
const (
	ReasonAlreadyResolved = "incident already resolved"
	ReasonTicketExists    = "ticket already exists"
	ReasonIncidentClosed  = "incident resolved"
	ReasonNotFound        = "not found"
)

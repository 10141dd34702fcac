package domain

import "time"

// TicketRequest is the incident context handed to the support desk.
type TicketRequest struct {
	CorrelationID       string     `json:"correlation_id"`
	Title               string     `json:"title"`
	Body                string     `json:"body"`
	Severity            Severity   `json:"severity"`
	SourceType          SourceType `json:"source_type"`
	SourceID            string     `json:"source_id,omitempty"`
	RepairAttempts      int        `json:"repair_attempts"`
	LastRepairAttemptAt *time.Time `json:"last_repair_attempt_at,omitempty"`
	DetectedAt          time.Time  `json:"detected_at"`
}

package domain

import "time"

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// TrailingWindow returns the window of length d ending at end.
func TrailingWindow(end time.Time, d time.Duration) Window {
	return Window{From: end.Add(-d), To: end}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.To.Sub(w.From)
}

// ReliabilityReport holds reliability statistics for one window.
// Rates are always finite; fields without data carry an explicit flag.
type ReliabilityReport struct {
	Window Window `json:"window"`

	IntegrityAvailable   bool    `json:"integrity_available"`
	EligibleCount        int64   `json:"eligible_count"`
	InvalidCount         int64   `json:"invalid_count"`
	IntegrityRatePercent float64 `json:"integrity_rate_percent"`

	MTTRMinutesAvg        *float64 `json:"mttr_minutes_avg"`
	ResolvedCountInWindow int      `json:"resolved_count_in_window"`
	AutoRecoveredCount    int      `json:"auto_recovered_count"`
	RecoveryRatePercent   float64  `json:"recovery_rate_percent"`
	RecoveryRateNoData    bool     `json:"recovery_rate_no_data"`

	DetectedCountInWindow  int     `json:"detected_count_in_window"`
	EscalatedCountInWindow int     `json:"escalated_count_in_window"`
	EscalationRatePercent  float64 `json:"escalation_rate_percent"`
	EscalationRateNoData   bool    `json:"escalation_rate_no_data"`

	UnresolvedCount  int `json:"unresolved_count"`
	ChronicOpenCount int `json:"chronic_open_count"`

	GeneratedAt time.Time `json:"generated_at"`
}

// IntegrityCounts is the asset integrity snapshot reported by the asset platform.
type IntegrityCounts struct {
	Eligible int64 `json:"eligible"`
	Invalid  int64 `json:"invalid"`
}

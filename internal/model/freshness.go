package model

import "time"

// SourceFreshness is one source's staleness snapshot.
type SourceFreshness struct {
	Source      string     `json:"source"`
	Cadence     string     `json:"cadence"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	Due         bool       `json:"due"`
	// OverdueBy is how far past the cadence window the source is,
	// formatted like "72h15m", empty when not due.
	OverdueBy string `json:"overdue_by,omitempty"`
}

// FreshnessReport is written as _freshness.json and rendered by the status
// command.
type FreshnessReport struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Sources     []SourceFreshness `json:"sources"`
}

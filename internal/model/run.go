package model

import "time"

// RunStatus represents the current state of a source run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run records one execution of a source. The store keeps these so the engine
// can gate on cadence and the status command can show history.
type Run struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Status      RunStatus      `json:"status"`
	Files       int            `json:"files"`
	Rows        int            `json:"rows"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

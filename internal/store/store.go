// Package store persists run history and the HTTP response cache. SQLite is
// the default for local builds; Postgres serves shared CI runs.
package store

import (
	"context"
	"time"

	"github.com/caribdata/opendata-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Source string          `json:"source,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the aggregation pipeline.
type Store interface {
	// Runs
	StartRun(ctx context.Context, source string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, files, rows int, metadata map[string]any) error
	FailRun(ctx context.Context, runID string, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// LastSuccess returns the completion time of the most recent complete
	// run for the source, or nil if it has never succeeded.
	LastSuccess(ctx context.Context, source string) (*time.Time, error)

	// RecordFiles stores the manifest entries produced by a run. Re-recording
	// the same path for a run overwrites the earlier entry.
	RecordFiles(ctx context.Context, runID string, entries []model.ManifestEntry) error

	// ListFiles returns the recorded entries for a run, ordered by path.
	ListFiles(ctx context.Context, runID string) ([]model.ManifestEntry, error)

	// HTTP response cache
	GetCachedResponse(ctx context.Context, url string) (*model.CachedResponse, error)
	SetCachedResponse(ctx context.Context, resp model.CachedResponse, ttl time.Duration) error
	DeleteExpiredResponses(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

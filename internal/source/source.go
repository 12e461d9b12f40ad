// Package source defines the pipeline's data sources and the engine that
// runs them. Each source knows how to turn its slice of the catalog into
// files under the out dir plus a manifest; the engine decides which sources
// are due, records runs in the store, and keeps one source's failure from
// taking down the rest.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/fetcher"
	"github.com/caribdata/opendata-cli/internal/inspect"
	"github.com/caribdata/opendata-cli/internal/model"
	"github.com/caribdata/opendata-cli/internal/resilience"
	"github.com/caribdata/opendata-cli/pkg/faostat"
	"github.com/caribdata/opendata-cli/pkg/worldbank"
)

// Kind groups sources by the release stream they feed.
type Kind string

const (
	KindOpenData Kind = "open-data"
	KindMessy    Kind = "messy"
)

// Cadence describes how often a source's upstream refreshes.
type Cadence string

const (
	Daily   Cadence = "daily"
	Weekly  Cadence = "weekly"
	Monthly Cadence = "monthly"
)

// Result holds the outcome of one source fetch. Entries feed the store's
// file log; Failures already appear in the source's own manifest and are
// counted here for the run record.
type Result struct {
	Files    int
	Rows     int
	Failures int
	Entries  []model.ManifestEntry
	Metadata map[string]any
}

// Deps carries the shared machinery a source fetches with. Sources read the
// catalog for their configuration and write under its out dir.
type Deps struct {
	Catalog   *catalog.Catalog
	Workers   int
	WorldBank worldbank.Client
	FAOSTAT   faostat.Client
	HTTP      fetcher.Fetcher
	FTP       fetcher.Fetcher
	Inspector *inspect.Inspector
}

// Source is one fetchable slice of the catalog.
type Source interface {
	// Name returns the unique identifier for this source (e.g. "worldbank").
	Name() string

	// Kind returns which release stream the source feeds.
	Kind() Kind

	// Cadence returns how often the upstream refreshes.
	Cadence() Cadence

	// ShouldRun decides if this source needs fetching given the current time
	// and the time of the last successful run (nil if never run).
	ShouldRun(now time.Time, lastSuccess *time.Time) bool

	// Fetch downloads the source's data and writes the output tree and
	// manifest. Per-item failures land in the manifest, not the error.
	Fetch(ctx context.Context, deps *Deps) (*Result, error)
}

// FetchError records a single download that failed after retries.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// errorType classifies a failure for the manifest: transient failures are
// worth re-running without a catalog change.
func errorType(err error) string {
	if resilience.IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// failure builds the manifest failure record for one failed download.
func failure(url string, err error) model.FetchFailure {
	return model.FetchFailure{
		URL:       url,
		Error:     err.Error(),
		ErrorType: errorType(err),
		FailedAt:  time.Now().UTC(),
	}
}

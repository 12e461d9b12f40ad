package model

import "time"

// ManifestEntry describes one artifact written during a run. Entries are
// regenerated from scratch every run; stale entries are never merged in.
type ManifestEntry struct {
	Path        string `json:"path"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
	Rows        int    `json:"rows,omitempty"`
	ContentType string `json:"content_type,omitempty"`

	// Open-data bookkeeping.
	Indicator string `json:"indicator,omitempty"`
	Country   string `json:"country,omitempty"`

	// Messy-item bookkeeping. URL is the original catalog URL; ResolvedURL
	// is what was actually downloaded after link discovery.
	Slug        string `json:"slug,omitempty"`
	Name        string `json:"name,omitempty"`
	Source      string `json:"source,omitempty"`
	License     string `json:"license,omitempty"`
	URL         string `json:"original_url,omitempty"`
	ResolvedURL string `json:"resolved_download_url,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`

	// ExpectedIssues carries the catalog's advertised data problems so
	// downstream exercises know what to look for.
	ExpectedIssues []string `json:"expected_issues,omitempty"`
}

// FetchFailure records a download that failed after retries. Failures are
// manifest content, not reasons to abort the run.
type FetchFailure struct {
	Slug      string    `json:"slug,omitempty"`
	Name      string    `json:"name,omitempty"`
	Indicator string    `json:"indicator,omitempty"`
	Country   string    `json:"country,omitempty"`
	URL       string    `json:"url"`
	Error     string    `json:"error"`
	// ErrorType is "transient" or "permanent"; transient failures are worth
	// re-running without a catalog change.
	ErrorType string    `json:"error_type"`
	FailedAt  time.Time `json:"failed_at"`
}

// Manifest is the per-source inventory written as _manifest.json.
type Manifest struct {
	Source      string          `json:"source"`
	GeneratedAt time.Time       `json:"generated_at"`
	Items       []ManifestEntry `json:"items"`
	Failures    []FetchFailure  `json:"failures,omitempty"`
}

package model

import "time"

// ReleaseKind selects which half of the pipeline a release packages.
type ReleaseKind string

const (
	ReleaseKindOpenData ReleaseKind = "open-data"
	ReleaseKindMessy    ReleaseKind = "messy"
)

// Provenance is written alongside each release so consumers can verify what
// produced the archive and from which catalog.
type Provenance struct {
	Tag           string      `json:"tag"`
	Kind          ReleaseKind `json:"kind"`
	GeneratedAt   time.Time   `json:"generated_at"`
	CatalogSHA256 string      `json:"catalog_sha256"`
	FileCount     int         `json:"file_count"`
	TotalBytes    int64       `json:"total_bytes"`
	ToolVersion   string      `json:"tool_version"`
}

// LatestPointer is the latest.json document pointing at the newest release.
type LatestPointer struct {
	Tag         string      `json:"tag"`
	Kind        ReleaseKind `json:"kind"`
	GeneratedAt time.Time   `json:"generated_at"`
}

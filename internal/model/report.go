package model

import (
	"fmt"
	"time"
)

// FileType classifies a raw artifact for the heuristic report.
type FileType string

const (
	FileTypeXLSX   FileType = "xlsx"
	FileTypeCSV    FileType = "csv"
	FileTypeBinary FileType = "binary"
)

// MergedRange is a rectangular merged-cell region. Bounds are 0-based and
// inclusive; Ref renders the same region in A1 notation.
type MergedRange struct {
	Ref      string `json:"ref"`
	StartRow int    `json:"start_row"`
	StartCol int    `json:"start_col"`
	EndRow   int    `json:"end_row"`
	EndCol   int    `json:"end_col"`
}

// CellRef renders a 0-based row/column pair as an A1-style reference.
func CellRef(row, col int) string {
	name := ""
	c := col
	for {
		name = string(rune('A'+c%26)) + name
		c = c/26 - 1
		if c < 0 {
			break
		}
	}
	return fmt.Sprintf("%s%d", name, row+1)
}

// A1Ref renders the range in A1 notation, e.g. "A1:B2".
func (r MergedRange) A1Ref() string {
	return CellRef(r.StartRow, r.StartCol) + ":" + CellRef(r.EndRow, r.EndCol)
}

// SheetReport holds the heuristic findings for one worksheet.
type SheetReport struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
	// HeaderRow is the detected header row index, 0-based. Nil means the
	// scorer could not settle on a candidate.
	HeaderRow    *int          `json:"header_row"`
	Confidence   float64       `json:"confidence"`
	MergedRanges []MergedRange `json:"merged_ranges,omitempty"`
	Notes        []string      `json:"notes,omitempty"`
}

// CSVReport holds the heuristic findings for a delimited text file.
type CSVReport struct {
	Delimiter  string  `json:"delimiter"`
	Encoding   string  `json:"encoding"`
	Rows       int     `json:"rows"`
	Cols       int     `json:"cols"`
	RaggedRows int     `json:"ragged_rows"`
	HeaderRow  *int    `json:"header_row"`
	Confidence float64 `json:"confidence"`
}

// FileReport is the per-file record in the heuristic report. A file that
// could not be read carries Error and no findings. Slug, Name and
// ExpectedIssues are filled in by the messy pipeline, which knows which
// catalog item produced the file.
type FileReport struct {
	Path           string        `json:"path"`
	Slug           string        `json:"slug,omitempty"`
	Name           string        `json:"name,omitempty"`
	Type           FileType      `json:"type"`
	Sheets         []SheetReport `json:"sheets,omitempty"`
	CSV            *CSVReport    `json:"csv,omitempty"`
	ExpectedIssues []string      `json:"expected_issues,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// InspectReport is the full heuristic report written as _report.json.
// Files appear in path order regardless of inspection order.
type InspectReport struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Files       []FileReport `json:"files"`
}

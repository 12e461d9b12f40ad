package model

import "time"

// IndicatorCompleteness measures how much of an indicator/country series is
// populated over the catalog's declared year range. CompletenessPct is
// non_missing / expected * 100 rounded to two decimal places, so it always
// lies within [0, 100].
type IndicatorCompleteness struct {
	Source          string  `json:"source" csv:"source"`
	Indicator       string  `json:"indicator" csv:"indicator"`
	Country         string  `json:"country" csv:"country"`
	ExpectedCells   int     `json:"expected_cells" csv:"expected_cells"`
	NonMissing      int     `json:"non_missing" csv:"non_missing"`
	CompletenessPct float64 `json:"completeness_pct" csv:"completeness_pct"`
}

// FileStats summarizes one produced CSV for the quality report.
type FileStats struct {
	Path           string   `json:"path" csv:"path"`
	Rows           int      `json:"rows" csv:"rows"`
	Columns        []string `json:"columns" csv:"-"`
	ColumnCount    int      `json:"column_count" csv:"column_count"`
	DuplicateRows  int      `json:"duplicate_rows" csv:"duplicate_rows"`
	MissingPercent float64  `json:"missing_percent" csv:"missing_percent"`
	Error          string   `json:"error,omitempty" csv:"error"`
}

// QualityReport is written as _quality_report.json after a build.
type QualityReport struct {
	GeneratedAt  time.Time               `json:"generated_at"`
	Completeness []IndicatorCompleteness `json:"completeness"`
	Files        []FileStats             `json:"files"`
}

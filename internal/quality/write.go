package quality

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/caribdata/opendata-cli/internal/model"
)

const (
	ReportJSON   = "_quality_report.json"
	ReportCSV    = "_quality_report.csv"
	FileStatsCSV = "_file_stats.csv"
)

// Write renders the report under the data root: the full document as JSON,
// the completeness table as CSV, and the per-file frame as a second CSV.
// Outputs are rewritten whole each run; stale entries never survive.
func (r *Reporter) Write(report *model.QualityReport) error {
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return eris.Wrap(err, "quality: marshal report")
	}
	if err := os.WriteFile(filepath.Join(r.root, ReportJSON), append(raw, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "quality: write %s", ReportJSON)
	}

	if err := writeCSV(filepath.Join(r.root, ReportCSV), report.Completeness); err != nil {
		return err
	}
	return writeCSV(filepath.Join(r.root, FileStatsCSV), report.Files)
}

func writeCSV[T any](path string, rows []T) error {
	raw, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrapf(err, "quality: marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return eris.Wrapf(err, "quality: write %s", filepath.Base(path))
	}
	return nil
}

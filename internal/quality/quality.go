// Package quality builds the post-build data quality report: per-file
// statistics over every produced CSV plus indicator completeness against the
// catalog's declared year range.
package quality

import (
	"context"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/fetcher"
	"github.com/caribdata/opendata-cli/internal/model"
)

// DefaultWorkers bounds concurrent per-file analyses.
const DefaultWorkers = 4

// Reporter computes quality reports over a produced data tree.
type Reporter struct {
	cat     *catalog.Catalog
	root    string
	workers int
}

func New(cat *catalog.Catalog, root string, workers int) *Reporter {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Reporter{cat: cat, root: root, workers: workers}
}

// Report assembles the full quality report. Per-file and per-pair failures
// surface as error entries or zero completeness; only walking the tree or
// context cancellation fail the report itself.
func (r *Reporter) Report(ctx context.Context) (*model.QualityReport, error) {
	files, err := r.FileStats(ctx)
	if err != nil {
		return nil, err
	}
	completeness, err := r.Completeness(ctx)
	if err != nil {
		return nil, err
	}
	return &model.QualityReport{
		GeneratedAt:  time.Now().UTC(),
		Completeness: completeness,
		Files:        files,
	}, nil
}

// reportOutputs are skipped during the scan so the report never analyzes a
// previous run of itself.
var reportOutputs = map[string]bool{
	"_quality_report.csv": true,
	"_file_stats.csv":     true,
}

// FileStats analyzes every CSV under the root, recursively, in path order.
// Unreadable files become error entries.
func (r *Reporter) FileStats(ctx context.Context) ([]model.FileStats, error) {
	var paths []string
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".csv") {
			return nil
		}
		if reportOutputs[d.Name()] {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "quality: scan %s", r.root)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	var mu sync.Mutex
	stats := make([]model.FileStats, 0, len(paths))
	for _, path := range paths {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			st := r.analyzeCSV(gCtx, path)
			mu.Lock()
			stats = append(stats, st)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "quality: file stats")
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Path < stats[j].Path })
	return stats, nil
}

// analyzeCSV computes row count, header columns, duplicate data rows and the
// missing-cell percentage for one file. Row counts exclude the header.
func (r *Reporter) analyzeCSV(ctx context.Context, path string) model.FileStats {
	rel := r.relPath(path)

	f, err := os.Open(path)
	if err != nil {
		return model.FileStats{Path: rel, Error: err.Error()}
	}
	defer f.Close()

	rows, err := fetcher.ReadCSVRows(ctx, f, fetcher.CSVOptions{LazyQuotes: true})
	if err != nil {
		return model.FileStats{Path: rel, Error: err.Error()}
	}
	if len(rows) == 0 {
		return model.FileStats{Path: rel, Error: "empty file"}
	}

	header := rows[0]
	data := rows[1:]
	cols := len(header)

	seen := make(map[string]int, len(data))
	duplicates := 0
	missing := 0
	for _, row := range data {
		key := strings.Join(row, "\x1f")
		seen[key]++
		if seen[key] > 1 {
			duplicates++
		}
		for i := 0; i < cols; i++ {
			if i >= len(row) || strings.TrimSpace(row[i]) == "" {
				missing++
			}
		}
	}

	missingPct := 0.0
	if len(data) > 0 && cols > 0 {
		missingPct = round2(float64(missing) / float64(len(data)*cols) * 100)
	}
	return model.FileStats{
		Path:           rel,
		Rows:           len(data),
		Columns:        header,
		ColumnCount:    cols,
		DuplicateRows:  duplicates,
		MissingPercent: missingPct,
	}
}

// Completeness computes the populated share of each catalog indicator and
// country over the declared year range. A pair whose tidy CSV is missing or
// unreadable scores zero; the matching file-stats error entry says why.
func (r *Reporter) Completeness(ctx context.Context) ([]model.IndicatorCompleteness, error) {
	if !r.cat.WorldBank.IsEnabled() {
		return nil, nil
	}

	codes := make([]string, 0, len(r.cat.WorldBank.Indicators))
	for code := range r.cat.WorldBank.Indicators {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	expected := r.cat.Project.ExpectedYears()
	var out []model.IndicatorCompleteness
	for _, code := range codes {
		for _, iso2 := range r.cat.Project.Countries {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "quality: completeness")
			}
			path := filepath.Join(r.root, catalog.WorldBankFolder, iso2, code+".csv")
			nonMissing := r.countPopulatedYears(ctx, path)
			out = append(out, model.IndicatorCompleteness{
				Source:          "worldbank",
				Indicator:       code,
				Country:         iso2,
				ExpectedCells:   expected,
				NonMissing:      nonMissing,
				CompletenessPct: round2(float64(nonMissing) / float64(expected) * 100),
			})
		}
	}
	return out, nil
}

// countPopulatedYears counts distinct in-range years carrying a non-empty
// value. Distinctness keeps the ratio inside [0, 100] even if a file ever
// repeated a year.
func (r *Reporter) countPopulatedYears(ctx context.Context, path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	rows, err := fetcher.ReadCSVRows(ctx, f, fetcher.CSVOptions{LazyQuotes: true})
	if err != nil || len(rows) == 0 {
		return 0
	}

	yearCol, valueCol := columnIndexes(rows[0])
	if yearCol < 0 || valueCol < 0 {
		return 0
	}

	years := make(map[int]bool)
	for _, row := range rows[1:] {
		if yearCol >= len(row) || valueCol >= len(row) {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSpace(row[yearCol]))
		if err != nil || !r.cat.Project.InRange(year) {
			continue
		}
		if strings.TrimSpace(row[valueCol]) != "" {
			years[year] = true
		}
	}
	return len(years)
}

func columnIndexes(header []string) (yearCol, valueCol int) {
	yearCol, valueCol = -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "year":
			yearCol = i
		case "value":
			valueCol = i
		}
	}
	return yearCol, valueCol
}

func (r *Reporter) relPath(path string) string {
	if rel, err := filepath.Rel(r.root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

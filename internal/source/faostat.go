package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/caribdata/opendata-cli/internal/bundle"
	"github.com/caribdata/opendata-cli/internal/model"
	"github.com/caribdata/opendata-cli/pkg/faostat"
)

// faostatSource is the display name recorded in the manifest.
const faostatSource = "FAOSTAT — Food Balance Sheets"

const faostatCard = `# FAOSTAT Food Balance Sheets (Caribbean)

Per-country food balance sheets with common elements.

## Columns (common)
- area_code, area, item_code, item, element, year, value, unit

## Notes
- Source: FAOSTAT API (FBS).
`

// FAOSTAT pulls Food Balance Sheet rows per catalog country and writes one
// CSV per country, filtered to the catalog's elements.
type FAOSTAT struct{}

func (s *FAOSTAT) Name() string     { return "faostat" }
func (s *FAOSTAT) Kind() Kind       { return KindOpenData }
func (s *FAOSTAT) Cadence() Cadence { return Monthly }

func (s *FAOSTAT) ShouldRun(now time.Time, lastSuccess *time.Time) bool {
	return s.Cadence().Due(now, lastSuccess)
}

// fbsRow is one Food Balance Sheet observation in the per-country CSV,
// sorted by item, element, year.
type fbsRow struct {
	AreaCode string   `csv:"area_code"`
	Area     string   `csv:"area"`
	ItemCode string   `csv:"item_code"`
	Item     string   `csv:"item"`
	Element  string   `csv:"element"`
	Year     int      `csv:"year"`
	Value    *float64 `csv:"value"`
	Unit     string   `csv:"unit"`
}

func (s *FAOSTAT) Fetch(ctx context.Context, deps *Deps) (*Result, error) {
	log := zap.L().With(zap.String("source", s.Name()))
	cat := deps.Catalog
	out := filepath.Join(cat.Project.OutDir, cat.FAOSTAT.OutFolder)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, eris.Wrapf(err, "faostat: create %s", out)
	}

	elements := make(map[string]bool, len(cat.FAOSTAT.Elements))
	for _, el := range cat.FAOSTAT.Elements {
		elements[el] = true
	}

	workers := deps.Workers
	if workers <= 0 {
		workers = 4
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	var entries []model.ManifestEntry
	var failures []model.FetchFailure
	totalRows := 0

	for _, iso3 := range cat.FAOSTAT.CountriesISO3 {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			entry, rows, err := s.fetchCountry(gCtx, deps, out, iso3, elements)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				log.Warn("country fetch failed", zap.String("country", iso3), zap.Error(err))
				fail := failure(fbsURL(cat.FAOSTAT.APIBase, iso3), err)
				fail.Country = iso3
				failures = append(failures, fail)
			case entry != nil:
				entries = append(entries, *entry)
				totalRows += rows
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "faostat: fetch countries")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Country < failures[j].Country })

	manifest := &model.Manifest{
		Source:      faostatSource,
		GeneratedAt: time.Now().UTC(),
		Items:       entries,
		Failures:    failures,
	}
	if err := bundle.WriteManifest(out, manifest); err != nil {
		return nil, err
	}
	if _, err := bundle.WriteCardOnce(out, faostatCard); err != nil {
		return nil, err
	}

	return &Result{
		Files:    len(entries),
		Rows:     totalRows,
		Failures: len(failures),
		Entries:  entries,
		Metadata: map[string]any{
			"countries": len(cat.FAOSTAT.CountriesISO3),
			"elements":  len(cat.FAOSTAT.Elements),
		},
	}, nil
}

// fetchCountry downloads one country's Food Balance Sheet and writes its
// CSV. A country with no rows after element filtering produces no file and
// a nil entry.
func (s *FAOSTAT) fetchCountry(ctx context.Context, deps *Deps, out, iso3 string, elements map[string]bool) (*model.ManifestEntry, int, error) {
	rows, err := deps.FAOSTAT.FoodBalance(ctx, iso3)
	if err != nil {
		return nil, 0, err
	}

	kept := make([]fbsRow, 0, len(rows))
	for _, row := range rows {
		if len(elements) > 0 && !elements[row.Element] {
			continue
		}
		kept = append(kept, toFBSRow(row))
	}
	if len(kept) == 0 {
		return nil, 0, nil
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Item != kept[j].Item {
			return kept[i].Item < kept[j].Item
		}
		if kept[i].Element != kept[j].Element {
			return kept[i].Element < kept[j].Element
		}
		return kept[i].Year < kept[j].Year
	})

	raw, err := csvutil.Marshal(kept)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "faostat: marshal %s", iso3)
	}
	name := iso3 + "_fbs.csv"
	dest := filepath.Join(out, name)
	if err := os.WriteFile(dest, raw, 0o644); err != nil {
		return nil, 0, eris.Wrapf(err, "faostat: write %s", dest)
	}

	entry, err := bundle.FileEntry(ctx, dest, name)
	if err != nil {
		return nil, 0, err
	}
	entry.Country = iso3
	return &entry, len(kept), nil
}

func toFBSRow(r faostat.Row) fbsRow {
	return fbsRow{
		AreaCode: r.AreaCode,
		Area:     r.Area,
		ItemCode: r.ItemCode,
		Item:     r.Item,
		Element:  r.Element,
		Year:     r.Year,
		Value:    r.Value,
		Unit:     r.Unit,
	}
}

// fbsURL reconstructs the API URL for failure records.
func fbsURL(apiBase, iso3 string) string {
	return fmt.Sprintf("%s?area_code=%s&per_page=50000", strings.TrimRight(apiBase, "/"), iso3)
}

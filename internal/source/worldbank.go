package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/caribdata/opendata-cli/internal/bundle"
	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/model"
)

// DictionaryName is the indicator dictionary written next to the World Bank
// manifest.
const DictionaryName = "_dictionary.csv"

// worldBankSource is the display name recorded in the manifest.
const worldBankSource = "World Bank Open Data"

const worldBankCard = `# World Bank Indicators (Caribbean)

This folder contains per-country CSVs for indicators defined in catalog.yml.

## Columns
- country
- iso2c
- year
- indicator (code)
- value
- unit

## Notes
- Source: World Bank Open Data API
- See ` + "`_dictionary.csv`" + ` for indicator details.
`

// WorldBank pulls catalog indicators from the World Bank Open Data API and
// writes one tidy CSV per country/indicator pair.
type WorldBank struct{}

func (s *WorldBank) Name() string     { return "worldbank" }
func (s *WorldBank) Kind() Kind       { return KindOpenData }
func (s *WorldBank) Cadence() Cadence { return Weekly }

func (s *WorldBank) ShouldRun(now time.Time, lastSuccess *time.Time) bool {
	return s.Cadence().Due(now, lastSuccess)
}

// tidyRow is one observation in the tidy per-pair CSV, ascending by year.
// Value stays a pointer so missing years serialize as empty cells.
type tidyRow struct {
	Country   string   `csv:"country"`
	ISO2C     string   `csv:"iso2c"`
	Year      int      `csv:"year"`
	Indicator string   `csv:"indicator"`
	Value     *float64 `csv:"value"`
	Unit      string   `csv:"unit"`
}

func (s *WorldBank) Fetch(ctx context.Context, deps *Deps) (*Result, error) {
	log := zap.L().With(zap.String("source", s.Name()))
	cat := deps.Catalog
	out := filepath.Join(cat.Project.OutDir, catalog.WorldBankFolder)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, eris.Wrapf(err, "worldbank: create %s", out)
	}

	codes := make([]string, 0, len(cat.WorldBank.Indicators))
	for code := range cat.WorldBank.Indicators {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	dictionary := s.buildDictionary(ctx, deps, codes)

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

	for _, code := range codes {
		unit := cat.WorldBank.Indicators[code].Unit
		for _, iso2 := range cat.Project.Countries {
			g.Go(func() error {
				if err := gCtx.Err(); err != nil {
					return err
				}
				entry, rows, err := s.fetchPair(gCtx, deps, out, iso2, code, unit)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					log.Warn("indicator fetch failed",
						zap.String("country", iso2),
						zap.String("indicator", code),
						zap.Error(err),
					)
					fail := failure(seriesURL(cat, iso2, code), err)
					fail.Indicator = code
					fail.Country = iso2
					failures = append(failures, fail)
				case entry != nil:
					entries = append(entries, *entry)
					totalRows += rows
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "worldbank: fetch pairs")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].Country != failures[j].Country {
			return failures[i].Country < failures[j].Country
		}
		return failures[i].Indicator < failures[j].Indicator
	})

	if err := s.writeDictionary(out, dictionary); err != nil {
		return nil, err
	}
	manifest := &model.Manifest{
		Source:      worldBankSource,
		GeneratedAt: time.Now().UTC(),
		Items:       entries,
		Failures:    failures,
	}
	if err := bundle.WriteManifest(out, manifest); err != nil {
		return nil, err
	}
	if _, err := bundle.WriteCardOnce(out, worldBankCard); err != nil {
		return nil, err
	}

	return &Result{
		Files:    len(entries),
		Rows:     totalRows,
		Failures: len(failures),
		Entries:  entries,
		Metadata: map[string]any{
			"countries":  len(cat.Project.Countries),
			"indicators": len(codes),
		},
	}, nil
}

// fetchPair downloads one country/indicator series and writes its tidy CSV.
// A series the API has no data for produces no file and a nil entry.
func (s *WorldBank) fetchPair(ctx context.Context, deps *Deps, out, iso2, code, unit string) (*model.ManifestEntry, int, error) {
	series, err := deps.WorldBank.Series(ctx, iso2, code)
	if err != nil {
		return nil, 0, err
	}

	tidy := make([]tidyRow, 0, len(series))
	for _, obs := range series {
		year, err := strconv.Atoi(strings.TrimSpace(obs.Date))
		if err != nil {
			// Sub-annual periods like "2023Q1" are out of scope for the
			// tidy layout.
			continue
		}
		tidy = append(tidy, tidyRow{
			Country:   obs.Country.Value,
			ISO2C:     tidyISO2(obs.Country.ID, iso2),
			Year:      year,
			Indicator: code,
			Value:     obs.Value,
			Unit:      unit,
		})
	}
	if len(tidy) == 0 {
		return nil, 0, nil
	}
	sort.SliceStable(tidy, func(i, j int) bool { return tidy[i].Year < tidy[j].Year })

	raw, err := csvutil.Marshal(tidy)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "worldbank: marshal %s/%s", iso2, code)
	}
	dest := filepath.Join(out, iso2, code+".csv")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, 0, eris.Wrapf(err, "worldbank: create %s", filepath.Dir(dest))
	}
	if err := os.WriteFile(dest, raw, 0o644); err != nil {
		return nil, 0, eris.Wrapf(err, "worldbank: write %s", dest)
	}

	entry, err := bundle.FileEntry(ctx, dest, filepath.Join(iso2, code+".csv"))
	if err != nil {
		return nil, 0, err
	}
	entry.Indicator = code
	entry.Country = iso2
	return &entry, len(tidy), nil
}

// buildDictionary assembles one dictionary row per indicator. The catalog's
// name wins; the API's metadata fills the wb_* columns when reachable, and a
// meta fetch failure only costs those columns.
func (s *WorldBank) buildDictionary(ctx context.Context, deps *Deps, codes []string) []model.DictionaryEntry {
	log := zap.L().With(zap.String("source", s.Name()))
	cat := deps.Catalog

	rows := make([]model.DictionaryEntry, 0, len(codes))
	for _, code := range codes {
		ind := cat.WorldBank.Indicators[code]
		row := model.DictionaryEntry{
			IndicatorCode: code,
			Name:          ind.Name,
			Unit:          ind.Unit,
			Group:         ind.Group,
		}
		meta, err := deps.WorldBank.IndicatorMeta(ctx, code)
		if err != nil {
			log.Warn("indicator metadata unavailable", zap.String("indicator", code), zap.Error(err))
		} else {
			row.WBName = meta.Name
			row.WBSourceNote = strings.TrimSpace(strings.ReplaceAll(meta.SourceNote, "\n", " "))
			if row.Name == "" {
				row.Name = meta.Name
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func (s *WorldBank) writeDictionary(out string, rows []model.DictionaryEntry) error {
	raw, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrapf(err, "worldbank: marshal %s", DictionaryName)
	}
	if err := os.WriteFile(filepath.Join(out, DictionaryName), raw, 0o644); err != nil {
		return eris.Wrapf(err, "worldbank: write %s", DictionaryName)
	}
	return nil
}

// tidyISO2 prefers the API's own country id when it is a plain ISO2 code;
// aggregate regions report oddities, in which case the requested code wins.
func tidyISO2(apiID, requested string) string {
	if len(apiID) == 2 {
		return strings.ToUpper(apiID)
	}
	return requested
}

// seriesURL reconstructs the API URL for failure records.
func seriesURL(cat *catalog.Catalog, iso2, code string) string {
	return fmt.Sprintf("%s/country/%s/indicator/%s?format=json&per_page=%d",
		strings.TrimRight(cat.WorldBank.APIBase, "/"), iso2, code, cat.WorldBank.PerPage)
}

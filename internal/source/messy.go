package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caribdata/opendata-cli/internal/bundle"
	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/fetcher"
	"github.com/caribdata/opendata-cli/internal/model"
)

// MessyFolder is the fixed subdirectory under the out dir for the messy
// mirror.
const MessyFolder = "messy"

// messySource is the display name recorded in the manifest.
const messySource = "Caribbean statistical offices — messy mirror"

const messyCard = `# Caribbean 'Messy' Datasets (Test Bundle)

Raw Excel/CSV files pulled from public sources to exercise ingest and cleaning.

See ` + "`_manifest.json`" + ` for file list and ` + "`_report.json`" + ` for structural hints (sheets, merged cells, etc.).
`

// Messy mirrors the catalog's intentionally messy datasets: downloads each
// item as-is, inspects the files, and bundles everything with metadata.
type Messy struct{}

func (s *Messy) Name() string     { return "messy" }
func (s *Messy) Kind() Kind       { return KindMessy }
func (s *Messy) Cadence() Cadence { return Weekly }

func (s *Messy) ShouldRun(now time.Time, lastSuccess *time.Time) bool {
	return s.Cadence().Due(now, lastSuccess)
}

func (s *Messy) Fetch(ctx context.Context, deps *Deps) (*Result, error) {
	log := zap.L().With(zap.String("source", s.Name()))
	cat := deps.Catalog
	out := filepath.Join(cat.Project.OutDir, MessyFolder)
	rawDir := filepath.Join(out, bundle.RawDirName)
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "messy: create %s", rawDir)
	}

	var entries []model.ManifestEntry
	var failures []model.FetchFailure
	var mirrored []catalog.MessyItem
	var inspectPaths []string

	// Items download sequentially; statistical-office servers are small and
	// the per-host limiter matters more than wall-clock here.
	for _, item := range cat.Messy.Items {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		itemEntries, itemPaths, err := s.fetchItem(ctx, deps, out, rawDir, item)
		if err != nil {
			log.Warn("item fetch failed", zap.String("slug", item.Slug), zap.Error(err))
			fail := failure(item.URL, err)
			fail.Slug = item.Slug
			fail.Name = item.Name
			failures = append(failures, fail)
		}
		if len(itemEntries) > 0 {
			entries = append(entries, itemEntries...)
			inspectPaths = append(inspectPaths, itemPaths...)
			mirrored = append(mirrored, item)
			log.Info("item mirrored",
				zap.String("slug", item.Slug),
				zap.Int("files", len(itemEntries)),
			)
		}
	}

	report, err := deps.Inspector.Batch(ctx, inspectPaths)
	if err != nil {
		return nil, eris.Wrap(err, "messy: inspect")
	}
	s.decorateReport(report, out, cat.Messy.Items)

	totalRows := 0
	for _, entry := range entries {
		totalRows += entry.Rows
	}

	manifest := &model.Manifest{
		Source:      messySource,
		GeneratedAt: time.Now().UTC(),
		Items:       entries,
		Failures:    failures,
	}
	if err := bundle.WriteManifest(out, manifest); err != nil {
		return nil, err
	}
	if err := bundle.WriteErrors(out, failures); err != nil {
		return nil, err
	}
	if err := bundle.WriteReport(out, report); err != nil {
		return nil, err
	}
	if _, err := bundle.WriteCardOnce(out, messyCard); err != nil {
		return nil, err
	}
	if err := bundle.WriteBundle(out, buildReadme(mirrored), manifest, report); err != nil {
		return nil, err
	}

	return &Result{
		Files:    len(entries),
		Rows:     totalRows,
		Failures: len(failures),
		Entries:  entries,
		Metadata: map[string]any{
			"items":  len(cat.Messy.Items),
			"failed": len(failures),
		},
	}, nil
}

// fetchItem resolves and downloads one catalog item into raw/<slug>/. A zip
// artifact is extracted next to itself; archive and extracted files all
// become manifest entries. The returned paths feed the inspector.
func (s *Messy) fetchItem(ctx context.Context, deps *Deps, out, rawDir string, item catalog.MessyItem) ([]model.ManifestEntry, []string, error) {
	resolved := item.URL
	if !fetcher.IsFileURL(item.URL) {
		link, err := fetcher.DiscoverWorkbookLink(ctx, deps.HTTP, item.URL)
		if err != nil {
			return nil, nil, err
		}
		resolved = link
	}

	f, err := s.fetcherFor(deps, resolved)
	if err != nil {
		return nil, nil, err
	}
	res, err := f.Fetch(ctx, resolved)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()

	finalURL := resolved
	if res.FinalURL != "" {
		finalURL = res.FinalURL
	}
	dest := filepath.Join(rawDir, item.Slug, filenameFromURL(finalURL, item.Slug))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, nil, eris.Wrapf(err, "messy: create %s", filepath.Dir(dest))
	}
	file, err := os.Create(dest)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "messy: create %s", dest)
	}
	if _, err := io.Copy(file, res.Body); err != nil {
		file.Close()
		return nil, nil, eris.Wrapf(err, "messy: write %s", dest)
	}
	if err := file.Close(); err != nil {
		return nil, nil, eris.Wrapf(err, "messy: close %s", dest)
	}

	entry, err := s.itemEntry(ctx, out, dest, item, finalURL)
	if err != nil {
		return nil, nil, err
	}
	entry.ContentType = res.ContentType
	entry.ExpectedIssues = item.ExpectedIssues

	entries := []model.ManifestEntry{entry}
	paths := []string{dest}

	if strings.EqualFold(filepath.Ext(dest), ".zip") {
		extracted, err := fetcher.ExtractZIP(dest, filepath.Dir(dest))
		if err != nil {
			// The archive itself downloaded fine; keep it and report the
			// extraction as the item's failure.
			return entries, paths, eris.Wrapf(err, "messy: extract %s", filepath.Base(dest))
		}
		for _, p := range extracted {
			e, err := s.itemEntry(ctx, out, p, item, finalURL)
			if err != nil {
				return entries, paths, err
			}
			entries = append(entries, e)
			paths = append(paths, p)
		}
	}

	return entries, paths, nil
}

// itemEntry builds the manifest entry for one saved file, with the item's
// bookkeeping attached.
func (s *Messy) itemEntry(ctx context.Context, out, dest string, item catalog.MessyItem, resolved string) (model.ManifestEntry, error) {
	rel, err := filepath.Rel(out, dest)
	if err != nil {
		return model.ManifestEntry{}, eris.Wrapf(err, "messy: relativize %s", dest)
	}
	entry, err := bundle.FileEntry(ctx, dest, rel)
	if err != nil {
		return model.ManifestEntry{}, err
	}
	entry.Slug = item.Slug
	entry.Name = item.Name
	entry.Source = item.Source
	entry.License = item.License
	entry.URL = item.URL
	entry.ResolvedURL = resolved
	return entry, nil
}

// fetcherFor picks the transport by URL scheme.
func (s *Messy) fetcherFor(deps *Deps, rawURL string) (fetcher.Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "messy: parse %s", rawURL)
	}
	if strings.EqualFold(u.Scheme, "ftp") {
		if deps.FTP == nil {
			return nil, eris.Errorf("messy: no ftp transport configured for %s", rawURL)
		}
		return deps.FTP, nil
	}
	return deps.HTTP, nil
}

// decorateReport rewrites inspector paths relative to the messy folder and
// attaches the owning item's slug, name and expected issues.
func (s *Messy) decorateReport(report *model.InspectReport, out string, items []catalog.MessyItem) {
	bySlug := make(map[string]catalog.MessyItem, len(items))
	for _, item := range items {
		bySlug[item.Slug] = item
	}

	for i := range report.Files {
		fr := &report.Files[i]
		if rel, err := filepath.Rel(out, fr.Path); err == nil {
			fr.Path = filepath.ToSlash(rel)
		}
		// raw/<slug>/...
		parts := strings.SplitN(fr.Path, "/", 3)
		if len(parts) < 3 || parts[0] != bundle.RawDirName {
			continue
		}
		item, ok := bySlug[parts[1]]
		if !ok {
			continue
		}
		fr.Slug = item.Slug
		fr.Name = item.Name
		fr.ExpectedIssues = item.ExpectedIssues
	}
	sort.Slice(report.Files, func(i, j int) bool { return report.Files[i].Path < report.Files[j].Path })
}

// filenameFromURL infers a local filename from the download URL's path,
// falling back to <slug>.bin when the path has none.
func filenameFromURL(rawURL, slug string) string {
	fallback := slug + ".bin"
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return fallback
	}
	// Keep only the final element; a crafted URL must not escape the slug dir.
	return filepath.Base(base)
}

// buildReadme renders the bundle README listing the mirrored items.
func buildReadme(items []catalog.MessyItem) string {
	var b strings.Builder
	b.WriteString("# Caribbean 'Messy' Data Bundle\n\n")
	b.WriteString("This ZIP contains intentionally messy public datasets to test ingest/clean pipelines.\n\n")
	b.WriteString("## Included\n")
	for _, it := range items {
		name := it.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(&b, "- **%s** — source: %s — slug: `%s`\n", name, it.Source, it.Slug)
	}
	b.WriteString("\nEach file is provided as-downloaded (“raw”). See `_manifest.json` and `_report.json` for details.\n")
	return b.String()
}

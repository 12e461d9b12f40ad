package release

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/caribdata/opendata-cli/internal/model"
	"github.com/caribdata/opendata-cli/internal/source"
)

// DownloadsOptions configure the downloads page renderer. The releases dir
// is scanned the way it appears on the published site, under <base>/data/.
type DownloadsOptions struct {
	ReleasesDir string
	// BaseURL is the site root files are served from.
	BaseURL string
	// RepoURL is the repository root release pages live under.
	RepoURL string
	// FAOSTATFolder is the FBS subfolder inside an open-data release.
	// Defaults to faostat_fbs.
	FAOSTATFolder string
}

// Tags older than the latest are still published but not listed; the page
// shows only the newest od- and md- release.
var odTagPattern = regexp.MustCompile(`^(od-|v)`)

// RenderDownloads builds the downloads.md markdown from the latest staged
// releases: release links, quick assets, World Bank CSVs annotated from the
// dictionary, FAOSTAT files, and the messy raw listing.
func RenderDownloads(opts DownloadsOptions) (string, error) {
	if opts.FAOSTATFolder == "" {
		opts.FAOSTATFolder = "faostat_fbs"
	}
	odTag := latestODTag(opts.ReleasesDir)
	mdTag := latestMDTag(opts.ReleasesDir)

	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	add("# Downloads\n")

	add("## Latest Releases\n")
	odDir := filepath.Join(opts.ReleasesDir, odTag)
	if odTag != "" && dirExists(odDir) {
		add("- **Open Data** — `%s` · [Files](%s/data/%s/) · [Release](%s)",
			odTag, opts.BaseURL, odTag, releaseURL(opts.RepoURL, odTag))
	} else {
		add("- **Open Data** — *(not published yet)*")
	}
	mdDir := filepath.Join(opts.ReleasesDir, source.MessyFolder, mdTag)
	if mdTag != "" && dirExists(mdDir) {
		add("- **Messy Data** — `%s` · [Files](%s/data/messy/%s/) · [Release](%s)",
			mdTag, opts.BaseURL, mdTag, releaseURL(opts.RepoURL, mdTag))
	} else {
		add("- **Messy Data** — *(not published yet)*")
	}
	add("")

	if odTag != "" && dirExists(odDir) {
		add("## Open Data — Latest: `%s`\n", odTag)

		quick := []string{
			"_freshness.json",
			"_quality_report.csv",
			"_quality_report.json",
			"world_bank/_dictionary.csv",
			"world_bank/_manifest.json",
			opts.FAOSTATFolder + "/_manifest.json",
		}
		for _, rel := range quick {
			if fileExists(filepath.Join(odDir, filepath.FromSlash(rel))) {
				add("- [%s](%s)", rel, pagesURL(opts.BaseURL, path.Join(odTag, rel)))
			}
		}
		add("")

		wbRoot := filepath.Join(odDir, "world_bank")
		dict := dictionaryNames(filepath.Join(wbRoot, "_dictionary.csv"))
		if dirExists(wbRoot) {
			add("### World Bank CSVs")
			for _, country := range subdirs(wbRoot) {
				add("- **%s**", country)
				for _, name := range csvNames(filepath.Join(wbRoot, country)) {
					link := pagesURL(opts.BaseURL, path.Join(odTag, "world_bank", country, name))
					if desc := dict[strings.TrimSuffix(name, ".csv")]; desc != "" {
						add("  - [%s](%s) — %s", name, link, desc)
					} else {
						add("  - [%s](%s)", name, link)
					}
				}
			}
			add("")
		}

		fbsRoot := filepath.Join(odDir, opts.FAOSTATFolder)
		if dirExists(fbsRoot) {
			add("### FAOSTAT FBS CSVs")
			for _, name := range csvNames(fbsRoot) {
				if !strings.HasSuffix(name, "_fbs.csv") {
					continue
				}
				iso3 := strings.TrimSuffix(name, "_fbs.csv")
				link := pagesURL(opts.BaseURL, path.Join(odTag, opts.FAOSTATFolder, name))
				add("- [%s](%s) — FAOSTAT Food Balance Sheets (%s)", name, link, iso3)
			}
			add("")
		}
	} else {
		add("## Open Data — (no published tag found yet)\n")
	}

	add("## Messy Data")
	if mdTag != "" && dirExists(mdDir) {
		add("_Latest messy tag:_ `%s` · [Files](%s/data/messy/%s/) · [Release](%s)\n",
			mdTag, opts.BaseURL, mdTag, releaseURL(opts.RepoURL, mdTag))
		for _, name := range []string{"_manifest.json", "_report.json", "_dataset_card.md"} {
			if fileExists(filepath.Join(mdDir, name)) {
				add("- [%s](%s)", name, pagesURL(opts.BaseURL, path.Join(source.MessyFolder, mdTag, name)))
			}
		}
		add("")
		rawRoot := filepath.Join(mdDir, "raw")
		if dirExists(rawRoot) {
			add("### Raw files")
			for _, slug := range subdirs(rawRoot) {
				add("- **%s**", slug)
				for _, rel := range dataFiles(filepath.Join(rawRoot, slug)) {
					link := pagesURL(opts.BaseURL, path.Join(source.MessyFolder, mdTag, "raw", slug, rel))
					add("  - [%s](%s)", path.Base(rel), link)
				}
			}
			add("")
		}
	} else {
		add("_No messy data published yet._\n")
	}

	return strings.Join(lines, "\n") + "\n", nil
}

// WriteDownloads renders the page and writes it to path, creating parent
// directories.
func WriteDownloads(path string, opts DownloadsOptions) error {
	page, err := RenderDownloads(opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "release: create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		return eris.Wrapf(err, "release: write %s", filepath.Base(path))
	}
	return nil
}

// latestODTag prefers the latest.json pointer and falls back to the newest
// od- (or legacy v) directory.
func latestODTag(releasesDir string) string {
	if raw, err := os.ReadFile(filepath.Join(releasesDir, LatestName)); err == nil {
		var pointer model.LatestPointer
		if json.Unmarshal(raw, &pointer) == nil {
			if tag := strings.TrimSpace(pointer.Tag); tag != "" {
				return tag
			}
		}
	}
	entries, err := os.ReadDir(releasesDir)
	if err != nil {
		return ""
	}
	var tags []string
	for _, e := range entries {
		if e.IsDir() && odTagPattern.MatchString(e.Name()) {
			tags = append(tags, e.Name())
		}
	}
	if len(tags) == 0 {
		return ""
	}
	sort.Strings(tags)
	return tags[len(tags)-1]
}

func latestMDTag(releasesDir string) string {
	entries, err := os.ReadDir(filepath.Join(releasesDir, source.MessyFolder))
	if err != nil {
		return ""
	}
	var tags []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "md-") {
			tags = append(tags, e.Name())
		}
	}
	if len(tags) == 0 {
		return ""
	}
	sort.Strings(tags)
	return tags[len(tags)-1]
}

// dictionaryNames maps indicator codes to display names; a missing or
// unreadable dictionary just means unannotated links.
func dictionaryNames(path string) map[string]string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var entries []model.DictionaryEntry
	if err := csvutil.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	names := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IndicatorCode == "" {
			continue
		}
		names[e.IndicatorCode] = e.Name
	}
	return names
}

func pagesURL(baseURL, rel string) string {
	u := url.URL{Path: "data/" + rel}
	return baseURL + "/" + u.EscapedPath()
}

func releaseURL(repoURL, tag string) string {
	return repoURL + "/releases/tag/" + tag
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// subdirs lists the names of dir's immediate subdirectories, sorted.
func subdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

// csvNames lists the .csv file names directly inside dir, sorted.
func csvNames(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			names = append(names, e.Name())
		}
	}
	return names
}

// dataFiles lists workbook and CSV files under dir recursively, as sorted
// slash-relative paths.
func dataFiles(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".xlsx", ".xls", ".csv":
			rel, relErr := filepath.Rel(dir, p)
			if relErr != nil {
				return nil
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(files)
	return files
}

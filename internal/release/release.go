// Package release stages built data trees into tagged releases with
// checksums and provenance, and renders the public downloads page.
package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/caribdata/opendata-cli/internal/bundle"
	"github.com/caribdata/opendata-cli/internal/model"
	"github.com/caribdata/opendata-cli/internal/source"
)

// Artifact names within a staged release.
const (
	DirName        = "releases"
	SumsName       = "SHA256SUMS"
	ProvenanceName = "provenance.json"
	LatestName     = "latest.json"

	archivePrefix = "caribdata-"
	tagDateFormat = "2006.01.02"
)

// Tag returns the publication tag for a release kind on the given date:
// od-YYYY.MM.DD for open data, md-YYYY.MM.DD for messy.
func Tag(kind model.ReleaseKind, at time.Time) string {
	prefix := "od-"
	if kind == model.ReleaseKindMessy {
		prefix = "md-"
	}
	return prefix + at.UTC().Format(tagDateFormat)
}

// Options configure a Packager.
type Options struct {
	// OutDir is the built data tree to package.
	OutDir string
	// CatalogPath, when set, is hashed into the provenance record.
	CatalogPath string
	// Version is recorded as the provenance tool_version.
	Version string
}

// Packager stages release trees under <out_dir>/releases.
type Packager struct {
	opts Options
}

// New creates a Packager.
func New(opts Options) *Packager {
	return &Packager{opts: opts}
}

// Release describes one staged release.
type Release struct {
	Tag     string
	Kind    model.ReleaseKind
	Dir     string
	Archive string
	Files   int
	Bytes   int64
}

// Package stages the tree for the given kind under releases/<tag> (messy
// releases nest under releases/messy/<tag>), writes SHA256SUMS and
// provenance.json, builds the caribdata-<tag>.zip archive, and for open-data
// releases updates the latest.json pointer. Restaging the same tag replaces
// the previous staging entirely.
func (p *Packager) Package(ctx context.Context, kind model.ReleaseKind, at time.Time) (*Release, error) {
	tag := Tag(kind, at)
	srcRoot, stageDir := p.layout(kind, tag)

	files, err := collectFiles(srcRoot, kind)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, eris.Errorf("release: nothing to package under %s", srcRoot)
	}

	if err := os.RemoveAll(stageDir); err != nil {
		return nil, eris.Wrapf(err, "release: clear %s", stageDir)
	}
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "release: create %s", stageDir)
	}

	var totalBytes int64
	var sums strings.Builder
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dest := filepath.Join(stageDir, filepath.FromSlash(rel))
		size, err := copyFile(filepath.Join(srcRoot, filepath.FromSlash(rel)), dest)
		if err != nil {
			return nil, err
		}
		totalBytes += size

		sum, err := bundle.HashFile(dest)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&sums, "%s  %s\n", sum, rel)
	}
	if err := os.WriteFile(filepath.Join(stageDir, SumsName), []byte(sums.String()), 0o644); err != nil {
		return nil, eris.Wrapf(err, "release: write %s", SumsName)
	}

	prov := model.Provenance{
		Tag:         tag,
		Kind:        kind,
		GeneratedAt: at.UTC(),
		FileCount:   len(files),
		TotalBytes:  totalBytes,
		ToolVersion: p.opts.Version,
	}
	if p.opts.CatalogPath != "" {
		catalogSum, err := bundle.HashFile(p.opts.CatalogPath)
		if err != nil {
			return nil, err
		}
		prov.CatalogSHA256 = catalogSum
	}
	if err := writeJSON(filepath.Join(stageDir, ProvenanceName), prov); err != nil {
		return nil, err
	}

	archive := filepath.Join(stageDir, archivePrefix+tag+".zip")
	entries := []bundle.ZipEntry{
		{Name: ProvenanceName, Path: filepath.Join(stageDir, ProvenanceName)},
		{Name: SumsName, Path: filepath.Join(stageDir, SumsName)},
	}
	for _, rel := range files {
		entries = append(entries, bundle.ZipEntry{Name: rel, Path: filepath.Join(stageDir, filepath.FromSlash(rel))})
	}
	if err := bundle.WriteZip(archive, entries); err != nil {
		return nil, err
	}

	if kind == model.ReleaseKindOpenData {
		pointer := model.LatestPointer{Tag: tag, Kind: kind, GeneratedAt: at.UTC()}
		if err := writeJSON(filepath.Join(p.opts.OutDir, DirName, LatestName), pointer); err != nil {
			return nil, err
		}
	}

	return &Release{
		Tag:     tag,
		Kind:    kind,
		Dir:     stageDir,
		Archive: archive,
		Files:   len(files),
		Bytes:   totalBytes,
	}, nil
}

// layout returns the tree to package and where to stage it.
func (p *Packager) layout(kind model.ReleaseKind, tag string) (srcRoot, stageDir string) {
	releases := filepath.Join(p.opts.OutDir, DirName)
	if kind == model.ReleaseKindMessy {
		return filepath.Join(p.opts.OutDir, source.MessyFolder), filepath.Join(releases, source.MessyFolder, tag)
	}
	return p.opts.OutDir, filepath.Join(releases, tag)
}

// collectFiles walks the source tree and returns sorted slash-relative file
// paths. Open-data packaging leaves out the messy tree and prior releases.
func collectFiles(srcRoot string, kind model.ReleaseKind) ([]string, error) {
	var files []string
	err := filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if kind == model.ReleaseKindOpenData && (rel == source.MessyFolder || rel == DirName) {
				return fs.SkipDir
			}
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "release: walk %s", srcRoot)
	}
	sort.Strings(files)
	return files, nil
}

func copyFile(src, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, eris.Wrapf(err, "release: create %s", filepath.Dir(dest))
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, eris.Wrapf(err, "release: open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrapf(err, "release: create %s", dest)
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return 0, eris.Wrapf(err, "release: copy %s", dest)
	}
	if err := out.Close(); err != nil {
		return 0, eris.Wrapf(err, "release: close %s", dest)
	}
	return n, nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "release: marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "release: write %s", filepath.Base(path))
	}
	return nil
}

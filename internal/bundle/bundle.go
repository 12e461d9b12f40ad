// Package bundle turns produced files into release-grade artifacts: manifest
// entries with sizes, hashes and row counts, write-once dataset cards, and
// byte-stable zip archives.
package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/caribdata/opendata-cli/internal/fetcher"
	"github.com/caribdata/opendata-cli/internal/model"
)

// Artifact names shared by every source's output folder.
const (
	ManifestName = "_manifest.json"
	ErrorsName   = "_errors.json"
	ReportName   = "_report.json"
	CardName     = "_dataset_card.md"
	BundleName   = "_bundle.zip"
	RawDirName   = "raw"
)

// HashFile streams the file through SHA-256 and returns the lowercase hex
// digest. Identical bytes always hash identically, which release checksums
// rely on.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "bundle: open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "bundle: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CountCSVRows counts data rows, excluding the header.
func CountCSVRows(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "bundle: open %s", path)
	}
	defer f.Close()

	rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
		HasHeader:  true,
		LazyQuotes: true,
	})
	n := 0
	for range rowCh {
		n++
	}
	if err := <-errCh; err != nil {
		return 0, eris.Wrapf(err, "bundle: count rows in %s", path)
	}
	return n, nil
}

// FileEntry builds the baseline manifest entry for a file: the given
// manifest-relative path, size, hash, and a row count when the file is a
// CSV. Callers layer their own bookkeeping fields on top.
func FileEntry(ctx context.Context, path, manifestPath string) (model.ManifestEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.ManifestEntry{}, eris.Wrapf(err, "bundle: stat %s", path)
	}
	sum, err := HashFile(path)
	if err != nil {
		return model.ManifestEntry{}, err
	}

	entry := model.ManifestEntry{
		Path:      filepath.ToSlash(manifestPath),
		SizeBytes: info.Size(),
		SHA256:    sum,
		UpdatedAt: time.Now().UTC(),
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		rows, err := CountCSVRows(ctx, path)
		if err != nil {
			return model.ManifestEntry{}, err
		}
		entry.Rows = rows
	}
	return entry, nil
}

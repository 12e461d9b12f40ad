package bundle

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/caribdata/opendata-cli/internal/model"
)

// ZipEntry is one archive member. Body wins when set; otherwise the entry
// streams from Path.
type ZipEntry struct {
	Name string
	Path string
	Body []byte
}

// zipEpoch is the fixed timestamp stamped on every entry. ZIP cannot
// represent times before 1980; pinning all entries there makes archives of
// identical inputs byte-identical across runs.
var zipEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// WriteZip writes entries in the given order with fixed timestamps and
// permissions.
func WriteZip(path string, entries []ZipEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "bundle: create %s", path)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, entry := range entries {
		if err := addZipEntry(zw, entry); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return eris.Wrapf(err, "bundle: finalize %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "bundle: close %s", path)
	}
	return nil
}

func addZipEntry(zw *zip.Writer, entry ZipEntry) error {
	hdr := &zip.FileHeader{
		Name:     entry.Name,
		Method:   zip.Deflate,
		Modified: zipEpoch,
	}
	hdr.SetMode(0o644)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return eris.Wrapf(err, "bundle: add %s", entry.Name)
	}

	if entry.Body != nil {
		if _, err := w.Write(entry.Body); err != nil {
			return eris.Wrapf(err, "bundle: write %s", entry.Name)
		}
		return nil
	}

	src, err := os.Open(entry.Path)
	if err != nil {
		return eris.Wrapf(err, "bundle: open %s", entry.Path)
	}
	defer src.Close()
	if _, err := io.Copy(w, src); err != nil {
		return eris.Wrapf(err, "bundle: write %s", entry.Name)
	}
	return nil
}

// RawEntries lists every file under dir's raw/ tree as zip entries named
// relative to dir, in path order. A missing raw tree yields no entries.
func RawEntries(dir string) ([]ZipEntry, error) {
	rawRoot := filepath.Join(dir, RawDirName)
	var entries []ZipEntry
	err := filepath.WalkDir(rawRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entries = append(entries, ZipEntry{Name: filepath.ToSlash(rel), Path: path})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "bundle: walk %s", rawRoot)
	}
	return entries, nil
}

// WriteBundle writes dir/_bundle.zip: the README listing, the manifest and
// report exactly as they appear on disk, then the raw files. Metadata is
// re-marshaled with the same encoder the folder writers use, so archive and
// folder never disagree.
func WriteBundle(dir string, readme string, m *model.Manifest, report *model.InspectReport) error {
	manifestJSON, err := marshalJSON(ManifestName, m)
	if err != nil {
		return err
	}
	reportJSON, err := marshalJSON(ReportName, report)
	if err != nil {
		return err
	}

	entries := []ZipEntry{
		{Name: "README.md", Body: []byte(readme)},
		{Name: ManifestName, Body: manifestJSON},
		{Name: ReportName, Body: reportJSON},
	}
	raw, err := RawEntries(dir)
	if err != nil {
		return err
	}
	entries = append(entries, raw...)

	return WriteZip(filepath.Join(dir, BundleName), entries)
}

package bundle

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/caribdata/opendata-cli/internal/model"
)

// WriteManifest replaces the folder's _manifest.json. Manifests are always
// rewritten whole; prior runs leave nothing behind.
func WriteManifest(dir string, m *model.Manifest) error {
	return writeJSON(filepath.Join(dir, ManifestName), m)
}

// WriteErrors writes _errors.json when there are failures and removes any
// stale one when there are none.
func WriteErrors(dir string, failures []model.FetchFailure) error {
	path := filepath.Join(dir, ErrorsName)
	if len(failures) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return eris.Wrapf(err, "bundle: remove stale %s", ErrorsName)
		}
		return nil
	}
	return writeJSON(path, failures)
}

// WriteReport replaces the folder's _report.json.
func WriteReport(dir string, report *model.InspectReport) error {
	return writeJSON(filepath.Join(dir, ReportName), report)
}

// WriteCardOnce writes the dataset card only if none exists yet, so curator
// edits survive refetches. Reports whether it wrote.
func WriteCardOnce(dir, content string) (bool, error) {
	path := filepath.Join(dir, CardName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, eris.Wrapf(err, "bundle: stat %s", CardName)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, eris.Wrapf(err, "bundle: write %s", CardName)
	}
	return true, nil
}

func marshalJSON(name string, v any) ([]byte, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, eris.Wrapf(err, "bundle: marshal %s", name)
	}
	return append(raw, '\n'), nil
}

func writeJSON(path string, v any) error {
	raw, err := marshalJSON(filepath.Base(path), v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return eris.Wrapf(err, "bundle: write %s", filepath.Base(path))
	}
	return nil
}

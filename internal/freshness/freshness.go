// Package freshness compares each source's last successful run against its
// cadence and reports which sources are due for a fetch.
package freshness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/caribdata/opendata-cli/internal/model"
	"github.com/caribdata/opendata-cli/internal/source"
	"github.com/caribdata/opendata-cli/internal/store"
)

// FileName is the snapshot written into the out dir during builds.
const FileName = "_freshness.json"

// Collector builds freshness snapshots from the run store.
type Collector struct {
	store store.Store
	reg   *source.Registry
}

// NewCollector creates a collector over the given store and registry.
func NewCollector(st store.Store, reg *source.Registry) *Collector {
	return &Collector{store: st, reg: reg}
}

// Collect snapshots every registered source: last success, cadence, and
// whether the source is due at now.
func (c *Collector) Collect(ctx context.Context, now time.Time) (*model.FreshnessReport, error) {
	report := &model.FreshnessReport{GeneratedAt: now.UTC()}
	for _, s := range c.reg.All() {
		last, err := c.store.LastSuccess(ctx, s.Name())
		if err != nil {
			return nil, eris.Wrapf(err, "freshness: last success for %s", s.Name())
		}
		sf := model.SourceFreshness{
			Source:      s.Name(),
			Cadence:     string(s.Cadence()),
			LastSuccess: last,
			Due:         s.ShouldRun(now, last),
		}
		if sf.Due {
			sf.OverdueBy = formatOverdue(now.Sub(s.Cadence().Window(now)))
		}
		report.Sources = append(report.Sources, sf)
	}
	return report, nil
}

// Write renders the report into dir as _freshness.json.
func Write(dir string, report *model.FreshnessReport) error {
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return eris.Wrap(err, "freshness: marshal report")
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "freshness: write %s", FileName)
	}
	return nil
}

// formatOverdue renders a duration as hours and minutes, like "72h15m".
func formatOverdue(d time.Duration) string {
	d = d.Truncate(time.Minute)
	if d < time.Minute {
		return "0m"
	}
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh%dm", h, m)
	}
}

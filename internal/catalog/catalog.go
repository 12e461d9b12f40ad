// Package catalog loads and validates the catalog.yml document that drives a
// pipeline run. The catalog is immutable once loaded; a malformed catalog is
// fatal before any network fetch happens.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Project holds run-wide settings shared by every source.
type Project struct {
	Name          string   `yaml:"name"`
	Countries     []string `yaml:"countries"`
	OutDir        string   `yaml:"out_dir"`
	CacheDir      string   `yaml:"cache_dir"`
	CacheTTLHours int      `yaml:"cache_ttl_hours"`
	StartYear     int      `yaml:"start_year"`
	EndYear       int      `yaml:"end_year"`
}

// ExpectedYears is the number of years in the declared range, inclusive.
func (p Project) ExpectedYears() int {
	return p.EndYear - p.StartYear + 1
}

// InRange reports whether year falls inside the declared range.
func (p Project) InRange(year int) bool {
	return year >= p.StartYear && year <= p.EndYear
}

// Indicator describes one World Bank indicator to pull.
type Indicator struct {
	Name  string `yaml:"name"`
	Unit  string `yaml:"unit"`
	Group string `yaml:"group"`
}

// WorldBankFolder is the fixed subdirectory under the out dir that tidy
// indicator CSVs land in. FAOSTAT's folder is configurable; this one is not.
const WorldBankFolder = "world_bank"

// WorldBank configures the World Bank Open Data source.
type WorldBank struct {
	Enabled    *bool                `yaml:"enabled"`
	APIBase    string               `yaml:"api_base"`
	PerPage    int                  `yaml:"per_page"`
	Indicators map[string]Indicator `yaml:"indicators"`
}

// IsEnabled reports whether the source should run. Absent means enabled; a
// catalog that omits the section entirely must set enabled: false.
func (w WorldBank) IsEnabled() bool { return w.Enabled == nil || *w.Enabled }

// FAOSTAT configures the FAOSTAT Food Balance Sheets source.
type FAOSTAT struct {
	Enabled       *bool    `yaml:"enabled"`
	APIBase       string   `yaml:"api_base"`
	CountriesISO3 []string `yaml:"countries_iso3"`
	Elements      []string `yaml:"elements"`
	OutFolder     string   `yaml:"out_folder"`
}

// IsEnabled reports whether the source should run.
func (f FAOSTAT) IsEnabled() bool { return f.Enabled == nil || *f.Enabled }

// MessyItem is one intentionally messy dataset to mirror for cleaning
// exercises. URL may point directly at a file or at a page to scan for the
// first workbook link.
type MessyItem struct {
	Slug           string   `yaml:"slug"`
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Source         string   `yaml:"source"`
	License        string   `yaml:"license"`
	ExpectedIssues []string `yaml:"expected_issues"`
}

// Messy configures the messy-bundle source.
type Messy struct {
	Enabled *bool       `yaml:"enabled"`
	Items   []MessyItem `yaml:"items"`
}

// IsEnabled reports whether the source should run.
func (m Messy) IsEnabled() bool { return m.Enabled == nil || *m.Enabled }

// Catalog is the full parsed catalog.yml document.
type Catalog struct {
	Project   Project   `yaml:"project"`
	WorldBank WorldBank `yaml:"world_bank"`
	FAOSTAT   FAOSTAT   `yaml:"faostat_fbs"`
	Messy     Messy     `yaml:"messy"`

	// Checksum is the SHA-256 of the raw document, recorded for release
	// provenance.
	Checksum string `yaml:"-"`
}

var (
	iso2Pattern = regexp.MustCompile(`^[A-Z]{2}$`)
	iso3Pattern = regexp.MustCompile(`^[A-Z]{3}$`)
	slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

// Load reads, defaults, and validates a catalog document. Any validation
// problem returns a *ValidationError carrying every issue found.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return Parse(path, raw)
}

// Parse validates a raw catalog document. Exposed separately so tests and
// embedded catalogs skip the filesystem.
func Parse(path string, raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, &ValidationError{Path: path, Issues: []Issue{{Field: "(document)", Reason: err.Error()}}}
	}
	c.applyDefaults()
	if issues := c.validate(); len(issues) > 0 {
		return nil, &ValidationError{Path: path, Issues: issues}
	}
	sum := sha256.Sum256(raw)
	c.Checksum = hex.EncodeToString(sum[:])
	return &c, nil
}

func (c *Catalog) applyDefaults() {
	if c.Project.OutDir == "" {
		c.Project.OutDir = "data"
	}
	if c.Project.CacheDir == "" {
		c.Project.CacheDir = ".cache"
	}
	if c.Project.CacheTTLHours == 0 {
		c.Project.CacheTTLHours = 24
	}
	if c.WorldBank.PerPage == 0 {
		c.WorldBank.PerPage = 20000
	}
	if c.FAOSTAT.OutFolder == "" {
		c.FAOSTAT.OutFolder = "faostat_fbs"
	}
	for i := range c.Messy.Items {
		it := &c.Messy.Items[i]
		if it.License == "" {
			it.License = "unknown"
		}
		if it.Slug == "" && it.Name != "" {
			it.Slug = Slugify(it.Name)
		}
		if it.Name == "" {
			it.Name = it.Slug
		}
	}
}

func (c *Catalog) validate() []Issue {
	var issues []Issue
	add := func(field, format string, args ...any) {
		issues = append(issues, Issue{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.Project.Name == "" {
		add("project.name", "required")
	}
	if len(c.Project.Countries) == 0 {
		add("project.countries", "at least one ISO2 country code required")
	}
	for _, cc := range c.Project.Countries {
		if !iso2Pattern.MatchString(cc) {
			add("project.countries", "%q is not an ISO2 code", cc)
		}
	}
	if c.Project.CacheTTLHours < 0 {
		add("project.cache_ttl_hours", "must not be negative")
	}
	switch {
	case c.Project.StartYear == 0 || c.Project.EndYear == 0:
		add("project.start_year", "start_year and end_year are required")
	case c.Project.StartYear < 1900 || c.Project.EndYear > 2100:
		add("project.start_year", "year range %d..%d outside 1900..2100", c.Project.StartYear, c.Project.EndYear)
	case c.Project.StartYear > c.Project.EndYear:
		add("project.start_year", "start_year %d after end_year %d", c.Project.StartYear, c.Project.EndYear)
	}

	if c.WorldBank.IsEnabled() {
		if reason := checkAPIBase(c.WorldBank.APIBase); reason != "" {
			add("world_bank.api_base", "%s", reason)
		}
		if c.WorldBank.PerPage <= 0 {
			add("world_bank.per_page", "must be positive")
		}
		if len(c.WorldBank.Indicators) == 0 {
			add("world_bank.indicators", "at least one indicator required")
		}
		for code := range c.WorldBank.Indicators {
			if strings.TrimSpace(code) == "" {
				add("world_bank.indicators", "empty indicator code")
			}
		}
	}

	if c.FAOSTAT.IsEnabled() {
		if reason := checkAPIBase(c.FAOSTAT.APIBase); reason != "" {
			add("faostat_fbs.api_base", "%s", reason)
		}
		if len(c.FAOSTAT.CountriesISO3) == 0 {
			add("faostat_fbs.countries_iso3", "at least one ISO3 country code required")
		}
		for _, cc := range c.FAOSTAT.CountriesISO3 {
			if !iso3Pattern.MatchString(cc) {
				add("faostat_fbs.countries_iso3", "%q is not an ISO3 code", cc)
			}
		}
	}

	if c.Messy.IsEnabled() && len(c.Messy.Items) > 0 {
		seen := make(map[string]bool, len(c.Messy.Items))
		for i, it := range c.Messy.Items {
			field := fmt.Sprintf("messy.items[%d]", i)
			if it.Slug == "" {
				add(field+".slug", "required (or provide a name to derive it)")
			} else if !slugPattern.MatchString(it.Slug) {
				add(field+".slug", "%q must be lowercase alphanumeric with dashes", it.Slug)
			} else if seen[it.Slug] {
				add(field+".slug", "duplicate slug %q", it.Slug)
			}
			seen[it.Slug] = true
			if it.URL == "" {
				add(field+".url", "required")
			} else if u, err := url.Parse(it.URL); err != nil {
				add(field+".url", "unparseable: %v", err)
			} else if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ftp" {
				add(field+".url", "scheme %q not supported", u.Scheme)
			}
		}
	}

	return issues
}

func checkAPIBase(base string) string {
	if base == "" {
		return "required"
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Sprintf("unparseable: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("scheme %q not supported", u.Scheme)
	}
	if u.Host == "" {
		return "missing host"
	}
	return ""
}

package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/caribdata/opendata-cli/internal/catalog"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the catalog document",
	Long:  "Loads and validates catalog.yml. Every issue found is reported; a valid catalog prints a summary of what a run would fetch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("validate"); err != nil {
			return err
		}

		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}

		formatCatalogSummary(os.Stdout, cfg.Catalog.Path, cat)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// formatCatalogSummary writes what a run against this catalog would fetch.
func formatCatalogSummary(out io.Writer, path string, cat *catalog.Catalog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Catalog:\t%s\n", path)
	_, _ = fmt.Fprintf(w, "Project:\t%s\n", cat.Project.Name)
	_, _ = fmt.Fprintf(w, "Countries:\t%s\n", strings.Join(cat.Project.Countries, ", "))
	_, _ = fmt.Fprintf(w, "Years:\t%d..%d\n", cat.Project.StartYear, cat.Project.EndYear)
	_, _ = fmt.Fprintf(w, "Out dir:\t%s\n", cat.Project.OutDir)

	if cat.WorldBank.IsEnabled() {
		codes := make([]string, 0, len(cat.WorldBank.Indicators))
		for code := range cat.WorldBank.Indicators {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		_, _ = fmt.Fprintf(w, "World Bank:\t%d indicators (%s)\n", len(codes), strings.Join(codes, ", "))
	} else {
		_, _ = fmt.Fprintln(w, "World Bank:\tdisabled")
	}

	if cat.FAOSTAT.IsEnabled() {
		_, _ = fmt.Fprintf(w, "FAOSTAT:\t%d countries, %d elements\n",
			len(cat.FAOSTAT.CountriesISO3), len(cat.FAOSTAT.Elements))
	} else {
		_, _ = fmt.Fprintln(w, "FAOSTAT:\tdisabled")
	}

	if cat.Messy.IsEnabled() {
		_, _ = fmt.Fprintf(w, "Messy:\t%d items\n", len(cat.Messy.Items))
	} else {
		_, _ = fmt.Fprintln(w, "Messy:\tdisabled")
	}

	_ = w.Flush()
}

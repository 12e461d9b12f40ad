package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/freshness"
	"github.com/caribdata/opendata-cli/internal/model"
	"github.com/caribdata/opendata-cli/internal/source"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show source freshness",
	Long:  "Displays each source's cadence, last successful run, and whether it is due for a fetch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}

		report, err := freshness.NewCollector(st, source.NewRegistry(cat)).Collect(ctx, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "status")
		}

		formatFreshness(os.Stdout, report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// formatFreshness writes a tabular freshness snapshot to w.
func formatFreshness(out io.Writer, report *model.FreshnessReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tCADENCE\tLAST SUCCESS\tDUE\tOVERDUE")
	_, _ = fmt.Fprintln(w, "------\t-------\t------------\t---\t-------")

	for _, s := range report.Sources {
		last := "never"
		if s.LastSuccess != nil {
			last = s.LastSuccess.Format("2006-01-02 15:04")
		}

		due := "no"
		if s.Due {
			due = "yes"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.Source,
			s.Cadence,
			last,
			due,
			s.OverdueBy,
		)
	}
	_ = w.Flush()
}

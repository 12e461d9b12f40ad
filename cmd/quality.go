package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/model"
	"github.com/caribdata/opendata-cli/internal/quality"
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Rebuild the quality report for the built tree",
	Long:  "Computes per-indicator completeness and per-CSV stats over the out dir, rewrites _quality_report.json and the CSV tables, and prints the completeness table.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("quality"); err != nil {
			return err
		}

		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}

		report, err := buildQualityReport(ctx, cat)
		if err != nil {
			return err
		}

		formatCompleteness(os.Stdout, report.Completeness)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(qualityCmd)
}

// buildQualityReport computes the quality report for the catalog's out dir
// and rewrites the report files.
func buildQualityReport(ctx context.Context, cat *catalog.Catalog) (*model.QualityReport, error) {
	r := quality.New(cat, cat.Project.OutDir, cfg.Build.Concurrency)
	report, err := r.Report(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "quality report")
	}
	if err := r.Write(report); err != nil {
		return nil, err
	}

	zap.L().Info("quality report written",
		zap.Int("series", len(report.Completeness)),
		zap.Int("files", len(report.Files)),
	)
	return report, nil
}

// formatCompleteness writes the per-series completeness table to w.
func formatCompleteness(out io.Writer, rows []model.IndicatorCompleteness) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tINDICATOR\tCOUNTRY\tNON_MISSING\tEXPECTED\tPCT")
	_, _ = fmt.Fprintln(w, "------\t---------\t-------\t-----------\t--------\t---")

	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.2f\n",
			r.Source,
			r.Indicator,
			r.Country,
			r.NonMissing,
			r.ExpectedCells,
			r.CompletenessPct,
		)
	}
	_ = w.Flush()
}

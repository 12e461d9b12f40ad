package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/caribdata/opendata-cli/internal/freshness"
	"github.com/caribdata/opendata-cli/internal/source"
)

var (
	buildForce   bool
	buildSources []string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Fetch the open-data sources and rebuild reports",
	Long:  "Fetches the due World Bank and FAOSTAT sources into the out dir, then rewrites the quality and freshness reports. Releases are not packaged.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "build")
		if err != nil {
			return err
		}
		defer env.Close()

		kind := source.KindOpenData
		if _, err := env.Engine.Run(ctx, source.RunOpts{Kind: &kind, Sources: buildSources, Force: buildForce}); err != nil {
			return eris.Wrap(err, "build sources")
		}

		if _, err := buildQualityReport(ctx, env.Catalog); err != nil {
			return err
		}
		return writeFreshnessReport(ctx, env)
	},
}

func init() {
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "fetch every source even when not due")
	buildCmd.Flags().StringSliceVar(&buildSources, "source", nil, "restrict the build to named sources (worldbank, faostat)")
	rootCmd.AddCommand(buildCmd)
}

// writeFreshnessReport snapshots per-source staleness into the out dir.
func writeFreshnessReport(ctx context.Context, env *pipelineEnv) error {
	report, err := freshness.NewCollector(env.Store, env.Registry).Collect(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	return freshness.Write(env.Catalog.Project.OutDir, report)
}

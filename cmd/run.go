package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caribdata/opendata-cli/internal/source"
)

var (
	runForce       bool
	runSources     []string
	runSkipRelease bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full aggregation pipeline",
	Long:  "Fetches every due source, rebuilds the quality and freshness reports, packages releases for both streams, and refreshes the downloads page.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Engine.Run(ctx, source.RunOpts{Force: runForce, Sources: runSources})
		if err != nil {
			return eris.Wrap(err, "run sources")
		}

		if _, err := buildQualityReport(ctx, env.Catalog); err != nil {
			return err
		}
		if err := writeFreshnessReport(ctx, env); err != nil {
			return err
		}

		if runSkipRelease {
			zap.L().Info("release packaging skipped",
				zap.Int("fetched", sum.Fetched),
				zap.Int("failed", sum.Failed),
			)
			return nil
		}

		at := time.Now().UTC()
		for _, kind := range releaseKinds(env.Catalog) {
			if _, err := packageRelease(ctx, env.Catalog, kind, at); err != nil {
				return err
			}
		}

		path, err := writeDownloadsPage(env.Catalog)
		if err != nil {
			return err
		}
		zap.L().Info("downloads page refreshed", zap.String("path", path))

		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "fetch every source even when not due")
	runCmd.Flags().StringSliceVar(&runSources, "source", nil, "restrict the run to named sources (worldbank, faostat, messy)")
	runCmd.Flags().BoolVar(&runSkipRelease, "skip-release", false, "stop after reports; do not package releases")
	rootCmd.AddCommand(runCmd)
}

package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/caribdata/opendata-cli/internal/source"
)

var messyForce bool

var messyCmd = &cobra.Command{
	Use:   "messy",
	Short: "Mirror the messy datasets and bundle them",
	Long:  "Downloads the catalog's intentionally messy files, runs the structural inspector over them, and rebuilds the manifest, report, and bundle zip under messy/.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "messy")
		if err != nil {
			return err
		}
		defer env.Close()

		kind := source.KindMessy
		if _, err := env.Engine.Run(ctx, source.RunOpts{Kind: &kind, Force: messyForce}); err != nil {
			return eris.Wrap(err, "messy sources")
		}

		return writeFreshnessReport(ctx, env)
	},
}

func init() {
	messyCmd.Flags().BoolVar(&messyForce, "force", false, "fetch even when not due")
	rootCmd.AddCommand(messyCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caribdata/opendata-cli/internal/config"
)

var cfg *config.Config

// version is stamped via -ldflags on release builds and recorded in each
// release's provenance.json.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "caribdata",
	Short: "Caribbean open-data aggregation pipeline",
	Long:  "Fetches World Bank and FAOSTAT series for Caribbean countries, mirrors messy statistical-office files, and packages versioned data releases with manifests and quality reports.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

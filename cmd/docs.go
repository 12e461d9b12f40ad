package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/release"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Regenerate the downloads page from staged releases",
	Long:  "Renders docs/downloads.md with links to the latest open-data and messy releases, quick assets, and per-country file listings.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("docs"); err != nil {
			return err
		}

		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}

		path, err := writeDownloadsPage(cat)
		if err != nil {
			return err
		}

		fmt.Fprintln(os.Stdout, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(docsCmd)
}

// writeDownloadsPage renders the downloads page under the docs dir and
// returns its path.
func writeDownloadsPage(cat *catalog.Catalog) (string, error) {
	path := filepath.Join(cfg.Release.DocsDir, "downloads.md")
	err := release.WriteDownloads(path, release.DownloadsOptions{
		ReleasesDir:   filepath.Join(cat.Project.OutDir, release.DirName),
		BaseURL:       cfg.Release.BaseURL,
		RepoURL:       cfg.Release.RepoURL,
		FAOSTATFolder: cat.FAOSTAT.OutFolder,
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

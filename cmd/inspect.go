package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/caribdata/opendata-cli/internal/bundle"
	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/source"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [path ...]",
	Short: "Analyze raw files for structural messiness",
	Long:  "Guesses header rows, reports merged-cell regions, and sniffs CSV dialects. With no arguments the mirrored messy tree is scanned. The report is printed as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("inspect"); err != nil {
			return err
		}

		paths := args
		if len(paths) == 0 {
			cat, err := catalog.Load(cfg.Catalog.Path)
			if err != nil {
				return err
			}
			paths, err = collectRawFiles(filepath.Join(cat.Project.OutDir, source.MessyFolder, bundle.RawDirName))
			if err != nil {
				return err
			}
		}
		if len(paths) == 0 {
			fmt.Fprintln(os.Stderr, "No files to inspect.")
			return nil
		}

		report, err := initInspector().Batch(ctx, paths)
		if err != nil {
			return eris.Wrap(err, "inspect")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

// collectRawFiles lists every regular file under root, sorted. A missing
// root is an empty listing, not an error.
func collectRawFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "scan %s", root)
	}
	sort.Strings(paths)
	return paths, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/model"
	"github.com/caribdata/opendata-cli/internal/release"
)

var releaseKindFlag string

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Package the built tree into a versioned release",
	Long:  "Stages the built data under releases/<tag> with SHA256SUMS, provenance, and a zip archive. Open-data releases also move the latest.json pointer.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("release"); err != nil {
			return err
		}

		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}

		kinds, err := parseReleaseKinds(releaseKindFlag, cat)
		if err != nil {
			return err
		}

		at := time.Now().UTC()
		for _, kind := range kinds {
			rel, err := packageRelease(ctx, cat, kind, at)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s\t%d files\t%d bytes\t%s\n", rel.Tag, rel.Files, rel.Bytes, rel.Archive)
		}
		return nil
	},
}

func init() {
	releaseCmd.Flags().StringVar(&releaseKindFlag, "kind", "all", "which stream to package (open-data, messy, all)")
	rootCmd.AddCommand(releaseCmd)
}

// packageRelease stages one release stream under the out dir's releases/.
func packageRelease(ctx context.Context, cat *catalog.Catalog, kind model.ReleaseKind, at time.Time) (*release.Release, error) {
	pkgr := release.New(release.Options{
		OutDir:      cat.Project.OutDir,
		CatalogPath: cfg.Catalog.Path,
		Version:     version,
	})

	rel, err := pkgr.Package(ctx, kind, at)
	if err != nil {
		return nil, eris.Wrapf(err, "package %s release", kind)
	}

	zap.L().Info("release packaged",
		zap.String("tag", rel.Tag),
		zap.Int("files", rel.Files),
		zap.Int64("bytes", rel.Bytes),
		zap.String("archive", rel.Archive),
	)
	return rel, nil
}

// releaseKinds returns the streams the catalog actually feeds.
func releaseKinds(cat *catalog.Catalog) []model.ReleaseKind {
	var kinds []model.ReleaseKind
	if cat.WorldBank.IsEnabled() || cat.FAOSTAT.IsEnabled() {
		kinds = append(kinds, model.ReleaseKindOpenData)
	}
	if cat.Messy.IsEnabled() && len(cat.Messy.Items) > 0 {
		kinds = append(kinds, model.ReleaseKindMessy)
	}
	return kinds
}

// parseReleaseKinds resolves the --kind flag against the catalog.
func parseReleaseKinds(flag string, cat *catalog.Catalog) ([]model.ReleaseKind, error) {
	switch flag {
	case "all":
		return releaseKinds(cat), nil
	case string(model.ReleaseKindOpenData):
		return []model.ReleaseKind{model.ReleaseKindOpenData}, nil
	case string(model.ReleaseKindMessy):
		return []model.ReleaseKind{model.ReleaseKindMessy}, nil
	default:
		return nil, eris.Errorf("unknown release kind %q (expected open-data, messy, or all)", flag)
	}
}

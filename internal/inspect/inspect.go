// Package inspect generates heuristic structure reports for the raw files
// the messy pipeline downloads: sheet shapes, probable header rows, merged
// regions, delimiters, encodings. The reports tell data-cleaning students
// what they are up against before they open anything.
package inspect

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/caribdata/opendata-cli/internal/model"
)

const (
	// DefaultMaxScanRows caps how deep the header guess looks into a sheet.
	DefaultMaxScanRows = 10
	// DefaultSampleLines bounds how much of a delimited file the sniffing
	// pass looks at.
	DefaultSampleLines = 100
	// DefaultFallbackEncoding is tried when file bytes are not valid UTF-8.
	// Government spreadsheets exported on Windows almost always decode here.
	DefaultFallbackEncoding = "windows-1252"
	// DefaultWorkers bounds concurrent file inspections in a batch.
	DefaultWorkers = 4
)

// Options configures an Inspector. Zero values take the package defaults.
type Options struct {
	MaxScanRows      int
	SampleLines      int
	FallbackEncoding string
	Workers          int
}

// Inspector analyzes raw data files and reports their structure.
type Inspector struct {
	opts Options
}

func New(opts Options) *Inspector {
	if opts.MaxScanRows <= 0 {
		opts.MaxScanRows = DefaultMaxScanRows
	}
	if opts.SampleLines <= 0 {
		opts.SampleLines = DefaultSampleLines
	}
	if opts.FallbackEncoding == "" {
		opts.FallbackEncoding = DefaultFallbackEncoding
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Inspector{opts: opts}
}

// File inspects a single file, dispatching on its extension. Spreadsheets
// get per-sheet findings, delimited text gets a CSV analysis, and anything
// else is recorded as binary. Parse failures come back as
// *UnreadableFileError.
func (ins *Inspector) File(ctx context.Context, path string) (model.FileReport, error) {
	switch fileTypeFor(path) {
	case model.FileTypeXLSX:
		return ins.workbook(path)
	case model.FileTypeCSV:
		return ins.delimited(ctx, path)
	default:
		return model.FileReport{Path: path, Type: model.FileTypeBinary}, nil
	}
}

// Batch inspects files concurrently and aggregates the findings into one
// report. An unreadable file becomes an error entry and never aborts its
// siblings; only context cancellation fails the whole batch. Output order is
// by path, independent of completion order.
func (ins *Inspector) Batch(ctx context.Context, paths []string) (*model.InspectReport, error) {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(ins.opts.Workers)

	var mu sync.Mutex
	reports := make([]model.FileReport, 0, len(paths))

	for _, path := range paths {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			report, err := ins.File(gCtx, path)
			if err != nil {
				var unreadable *UnreadableFileError
				if !errors.As(err, &unreadable) {
					return err
				}
				zap.L().Warn("inspect: unreadable file",
					zap.String("path", path),
					zap.Error(err),
				)
				report = model.FileReport{
					Path:  path,
					Type:  fileTypeFor(path),
					Error: unreadable.Err.Error(),
				}
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "inspect: batch")
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].Path < reports[j].Path })
	return &model.InspectReport{
		GeneratedAt: time.Now().UTC(),
		Files:       reports,
	}, nil
}

func fileTypeFor(path string) model.FileType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls":
		return model.FileTypeXLSX
	case ".csv", ".txt":
		return model.FileTypeCSV
	default:
		return model.FileTypeBinary
	}
}

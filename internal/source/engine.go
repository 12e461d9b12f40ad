package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caribdata/opendata-cli/internal/store"
)

// Engine orchestrates source runs against the store's run log.
type Engine struct {
	store store.Store
	reg   *Registry
	deps  *Deps
}

// RunOpts configures which sources to fetch and how.
type RunOpts struct {
	Kind    *Kind    // restrict to one release stream
	Sources []string // restrict to specific source names
	Force   bool     // ignore ShouldRun() scheduling
}

// Summary counts the outcomes of one engine run.
type Summary struct {
	Fetched int
	Skipped int
	Failed  int
}

// NewEngine creates a new run engine.
func NewEngine(st store.Store, reg *Registry, deps *Deps) *Engine {
	return &Engine{store: st, reg: reg, deps: deps}
}

// Run iterates over the selected sources, checks if each is due, and
// fetches it. Every run is recorded in the store; a failed source is marked
// failed and the remaining sources still run.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*Summary, error) {
	log := zap.L().With(zap.String("component", "source.engine"))
	now := time.Now().UTC()

	if n, err := e.store.DeleteExpiredResponses(ctx); err != nil {
		log.Warn("prune response cache", zap.Error(err))
	} else if n > 0 {
		log.Debug("pruned expired cached responses", zap.Int("count", n))
	}

	sources, err := e.reg.Select(opts.Kind, opts.Sources)
	if err != nil {
		return nil, err
	}

	if len(sources) == 0 {
		log.Info("no sources selected")
		return &Summary{}, nil
	}

	log.Info("selected sources", zap.Int("count", len(sources)))

	var sum Summary
	for _, src := range sources {
		select {
		case <-ctx.Done():
			return &sum, ctx.Err()
		default:
		}

		srcLog := log.With(zap.String("source", src.Name()), zap.String("kind", string(src.Kind())))

		if !opts.Force {
			lastSuccess, err := e.store.LastSuccess(ctx, src.Name())
			if err != nil {
				return &sum, eris.Wrapf(err, "engine: check last success for %s", src.Name())
			}

			if !src.ShouldRun(now, lastSuccess) {
				srcLog.Debug("skipping (not due)")
				sum.Skipped++
				continue
			}
		}

		srcLog.Info("starting fetch")
		run, err := e.store.StartRun(ctx, src.Name())
		if err != nil {
			return &sum, eris.Wrapf(err, "engine: start run for %s", src.Name())
		}

		start := time.Now()
		result, err := src.Fetch(ctx, e.deps)
		elapsed := time.Since(start)

		if err != nil {
			srcLog.Error("fetch failed", zap.Error(err), zap.Duration("elapsed", elapsed))
			if logErr := e.store.FailRun(ctx, run.ID, err); logErr != nil {
				srcLog.Error("failed to record run failure", zap.Error(logErr))
			}
			sum.Failed++
			continue
		}

		if len(result.Entries) > 0 {
			if err := e.store.RecordFiles(ctx, run.ID, result.Entries); err != nil {
				srcLog.Error("failed to record run files", zap.Error(err))
			}
		}
		if err := e.store.CompleteRun(ctx, run.ID, result.Files, result.Rows, result.Metadata); err != nil {
			srcLog.Error("failed to record run completion", zap.Error(err))
		}

		srcLog.Info("fetch complete",
			zap.Int("files", result.Files),
			zap.Int("rows", result.Rows),
			zap.Int("failures", result.Failures),
			zap.Duration("elapsed", elapsed),
		)
		sum.Fetched++
	}

	log.Info("engine run complete",
		zap.Int("fetched", sum.Fetched),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
	return &sum, nil
}

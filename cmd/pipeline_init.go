package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/fetcher"
	"github.com/caribdata/opendata-cli/internal/inspect"
	"github.com/caribdata/opendata-cli/internal/resilience"
	"github.com/caribdata/opendata-cli/internal/source"
	"github.com/caribdata/opendata-cli/internal/store"
	"github.com/caribdata/opendata-cli/pkg/faostat"
	"github.com/caribdata/opendata-cli/pkg/worldbank"
)

// pipelineEnv holds the store, catalog, and wired source engine the
// run/build/messy commands execute against.
type pipelineEnv struct {
	Store    store.Store
	Catalog  *catalog.Catalog
	Registry *source.Registry
	Engine   *source.Engine
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, loads the catalog, builds the fetchers and
// API clients, and wires the source engine. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      time.Duration(cfg.HTTP.TimeoutSecs) * time.Second,
		Retry:        resilience.FromRetryConfig(cfg.HTTP.Retries, cfg.HTTP.BackoffMs, cfg.HTTP.MaxBackoffMs, 0, cfg.HTTP.JitterFraction),
		RatePerHost:  rate.Limit(cfg.HTTP.RatePerHost),
		BurstPerHost: cfg.HTTP.BurstPerHost,
		Breakers:     resilience.NewHostBreakers(resilience.FromCircuitConfig(cfg.HTTP.BreakerFailureThreshold, cfg.HTTP.BreakerResetSecs)),
	})
	ftpFetcher := fetcher.NewFTPFetcher(fetcher.FTPOptions{
		Timeout: time.Duration(cfg.FTP.TimeoutSecs) * time.Second,
	})

	// API responses ride the store-backed cache, so a re-run inside the
	// catalog's TTL never hits the upstream again.
	apiClient := fetcher.NewCachingClient(st,
		time.Duration(cat.Project.CacheTTLHours)*time.Hour,
		time.Duration(cfg.HTTP.TimeoutSecs)*time.Second)

	wbOpts := []worldbank.Option{
		worldbank.WithHTTPClient(apiClient),
		worldbank.WithPerPage(cat.WorldBank.PerPage),
		worldbank.WithUserAgent(cfg.HTTP.UserAgent),
	}
	if cat.WorldBank.APIBase != "" {
		wbOpts = append(wbOpts, worldbank.WithBaseURL(cat.WorldBank.APIBase))
	}

	faoOpts := []faostat.Option{
		faostat.WithHTTPClient(apiClient),
		faostat.WithUserAgent(cfg.HTTP.UserAgent),
	}
	if cat.FAOSTAT.APIBase != "" {
		faoOpts = append(faoOpts, faostat.WithBaseURL(cat.FAOSTAT.APIBase))
	}

	deps := &source.Deps{
		Catalog:   cat,
		Workers:   cfg.Build.Concurrency,
		WorldBank: worldbank.NewClient(wbOpts...),
		FAOSTAT:   faostat.NewClient(faoOpts...),
		HTTP:      httpFetcher,
		FTP:       ftpFetcher,
		Inspector: initInspector(),
	}

	reg := source.NewRegistry(cat)

	zap.L().Info("pipeline ready",
		zap.String("catalog", cfg.Catalog.Path),
		zap.Strings("sources", reg.Names()),
		zap.Int("countries", len(cat.Project.Countries)),
	)

	return &pipelineEnv{
		Store:    st,
		Catalog:  cat,
		Registry: reg,
		Engine:   source.NewEngine(st, reg, deps),
	}, nil
}

// initInspector builds the heuristic inspector from config.
func initInspector() *inspect.Inspector {
	return inspect.New(inspect.Options{
		MaxScanRows: cfg.Inspect.MaxScanRows,
		SampleLines: cfg.Inspect.SampleRows,
		Workers:     cfg.Inspect.Concurrency,
	})
}

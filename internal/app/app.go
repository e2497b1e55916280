// Package app wires configuration into the concrete store, warehouse and run
// ledger used by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/pos-ingest/internal/config"
	infrabq "github.com/dvloznov/pos-ingest/internal/infra/bigquery"
	"github.com/dvloznov/pos-ingest/internal/infra/postgres"
	"github.com/dvloznov/pos-ingest/internal/jobs"
	"github.com/dvloznov/pos-ingest/internal/load"
	"github.com/dvloznov/pos-ingest/internal/logger"
	"github.com/dvloznov/pos-ingest/internal/objectstore"
	"github.com/dvloznov/pos-ingest/internal/pipeline"
	"github.com/dvloznov/pos-ingest/internal/staging"
	"github.com/dvloznov/pos-ingest/internal/window"
)

// Needs selects which backends Open connects to.
type Needs struct {
	Store     bool
	Warehouse bool
}

// App holds the open backends for one process.
type App struct {
	Config    *config.Config
	Store     objectstore.Store
	Warehouse *postgres.Warehouse
	Recorder  pipeline.RunRecorder

	closers []func() error
}

// Open validates the parts of cfg that needs requires and connects to them.
// The run ledger is opened whenever it is configured.
func Open(ctx context.Context, cfg *config.Config, needs Needs) (*App, error) {
	log := logger.FromContext(ctx)
	a := &App{Config: cfg, Recorder: pipeline.NopRecorder{}}

	if needs.Store {
		if err := cfg.ValidateStore(); err != nil {
			return nil, err
		}
		store, err := objectstore.New(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("app.Open: %w", err)
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)
	}

	if needs.Warehouse {
		if err := cfg.ValidateWarehouse(); err != nil {
			a.Close()
			return nil, err
		}
		wh, err := postgres.Open(ctx, cfg.Warehouse)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.Open: %w", err)
		}
		a.Warehouse = wh
		a.closers = append(a.closers, func() error { wh.Close(); return nil })
	}

	if cfg.Ledger.Enabled() {
		repo, err := infrabq.NewBigQueryRunRepository(ctx, cfg.Ledger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.Open: %w", err)
		}
		a.Recorder = repo
		a.closers = append(a.closers, repo.Close)
	} else {
		log.Debug().Msg("Run ledger not configured")
	}

	return a, nil
}

// Close releases every backend opened by Open.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Rule is the configured drop-file naming rule.
func (a *App) Rule() staging.Rule {
	return staging.Rule{Prefix: a.Config.FilePrefix, Suffix: a.Config.FileSuffix}
}

// Deps assembles pipeline dependencies from the open backends.
func (a *App) Deps(allowStale bool) pipeline.Deps {
	d := pipeline.Deps{
		Resolver:    window.Default(),
		Store:       a.Store,
		Recorder:    a.Recorder,
		Rule:        a.Rule(),
		StagingRoot: a.Config.StagingDir,
		AllowStale:  allowStale,
	}
	if a.Warehouse != nil {
		d.Loader = load.NewEngine(a.Warehouse)
	}
	return d
}

// Runner returns a runner over the open backends.
func (a *App) Runner(allowStale bool) *pipeline.Runner {
	return pipeline.NewRunner(a.Deps(allowStale))
}

// Executor adapts Runner for the job queue.
func (a *App) Executor(allowStale bool) jobs.Executor {
	return a.Runner(allowStale)
}

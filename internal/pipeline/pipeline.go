// Package pipeline composes window resolution, retrieval, cleaning and loading
// into ordered runs over a shared RunState.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	bq "github.com/dvloznov/pos-ingest/internal/bigquery"
	"github.com/dvloznov/pos-ingest/internal/logger"
	"github.com/dvloznov/pos-ingest/internal/objectstore"
	"github.com/dvloznov/pos-ingest/internal/staging"
	"github.com/dvloznov/pos-ingest/internal/window"
)

// Pipeline executes a sequence of steps in order, stopping at the first failure.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *RunState) error {
	log := logger.FromContext(ctx)
	for i, step := range p.steps {
		started := time.Now()
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
		log.Debug().Str("step", step.Name()).Dur("took", time.Since(started)).Msg("Step complete")
	}
	return nil
}

// Deps are the collaborators a run needs.
type Deps struct {
	Resolver    *window.Resolver
	Store       objectstore.Store
	Loader      Loader
	Recorder    RunRecorder
	Rule        staging.Rule
	StagingRoot string
	AllowStale  bool
}

// NewExtractPipeline resolves the window and stages its drop files.
func NewExtractPipeline(d Deps) *Pipeline {
	return NewPipeline(
		&ResolveWindowStep{Resolver: d.Resolver},
		&CheckStagingStep{Root: d.StagingRoot, AllowStale: d.AllowStale},
		&DiscoverRecentStep{Store: d.Store},
		&DownloadStep{Store: d.Store, Rule: d.Rule},
	)
}

// NewLoadPipeline cleans already staged files and loads them.
func NewLoadPipeline(d Deps) *Pipeline {
	return NewPipeline(
		&CleanStep{},
		&PersistMergedStep{},
		&LoadStep{Loader: d.Loader},
	)
}

// RunRecorder records run outcomes. See bq.RunRepository.
type RunRecorder = bq.RunRepository

// NopRecorder discards everything. Used when no ledger is configured.
type NopRecorder struct{}

func (NopRecorder) StartRun(context.Context, *bq.PipelineRunRow) error          { return nil }
func (NopRecorder) MarkRunSucceeded(context.Context, string, bq.RunStats) error { return nil }
func (NopRecorder) MarkRunFailed(context.Context, string, bq.RunStats, error)   {}
func (NopRecorder) ListRecentRuns(context.Context, int) ([]*bq.PipelineRunRow, error) {
	return nil, nil
}

// HasLoaded always reports false: without a ledger a committed load whose purge
// failed cannot be told apart from a failed load.
func (NopRecorder) HasLoaded(context.Context, string) (bool, error) { return false, nil }

// Runner is the entry point for complete runs.
type Runner struct {
	deps     Deps
	newRunID func() string
}

// NewRunner creates a runner. A nil Recorder is replaced with NopRecorder.
func NewRunner(d Deps) *Runner {
	if d.Recorder == nil {
		d.Recorder = NopRecorder{}
	}
	return &Runner{deps: d, newRunID: uuid.NewString}
}

// Run executes one full run for the window containing now: resolve, check
// staging, discover, download, clean, persist, load and purge. A time with no
// valid window fails before anything is recorded or staged.
func (r *Runner) Run(ctx context.Context, now time.Time) (*RunState, error) {
	state := &RunState{RunID: r.newRunID(), Now: now}
	ctx = logger.WithContext(ctx, logger.WithRun(logger.FromContext(ctx), state.RunID))

	resolve := &ResolveWindowStep{Resolver: r.deps.Resolver}
	if err := resolve.Execute(ctx, state); err != nil {
		return state, fmt.Errorf("Runner.Run: %w", err)
	}

	steps := NewPipeline(
		&CheckStagingStep{Root: r.deps.StagingRoot, AllowStale: r.deps.AllowStale},
		&DiscoverRecentStep{Store: r.deps.Store},
		&DownloadStep{Store: r.deps.Store, Rule: r.deps.Rule},
		&CleanStep{},
		&PersistMergedStep{},
		&LoadStep{Loader: r.deps.Loader},
	)
	return state, r.record(ctx, state, steps)
}

// Retry reloads the files left in a failed run's staging directory.
// The retry is recorded as its own run pointing back at runID. Runs the ledger
// shows as loaded are refused with ErrAlreadyLoaded; that check needs a ledger.
func (r *Runner) Retry(ctx context.Context, runID string) (*RunState, error) {
	state := &RunState{RunID: r.newRunID(), RetryOf: runID, Now: time.Now()}
	ctx = logger.WithContext(ctx, logger.WithRun(logger.FromContext(ctx), state.RunID))

	area, err := staging.Open(r.deps.StagingRoot, runID)
	if err != nil {
		return state, fmt.Errorf("Runner.Retry: %w", err)
	}
	loaded, err := r.deps.Recorder.HasLoaded(ctx, runID)
	if err != nil {
		return state, fmt.Errorf("Runner.Retry: checking ledger: %w", err)
	}
	if loaded {
		return state, fmt.Errorf("Runner.Retry: %s: %w", runID, ErrAlreadyLoaded)
	}
	files, err := area.Files(r.deps.Rule)
	if err != nil {
		return state, fmt.Errorf("Runner.Retry: %w", err)
	}
	state.Area = area
	state.Files = files
	state.Stats.FilesStaged = len(files)

	log := logger.FromContext(ctx)
	log.Info().Str("retry_of", runID).Int("files", len(files)).Msg("Retrying load from staging")
	return state, r.record(ctx, state, NewLoadPipeline(r.deps))
}

func (r *Runner) record(ctx context.Context, state *RunState, p *Pipeline) error {
	log := logger.FromContext(ctx)

	row := &bq.PipelineRunRow{
		RunID:        state.RunID,
		WindowPrefix: state.Window.Prefix,
		StartedTS:    time.Now(),
	}
	if state.RetryOf != "" {
		row.RetryOf.StringVal = state.RetryOf
		row.RetryOf.Valid = true
	}
	if err := r.deps.Recorder.StartRun(ctx, row); err != nil {
		return fmt.Errorf("Runner: starting run record: %w", err)
	}

	if err := p.Execute(ctx, state); err != nil {
		r.deps.Recorder.MarkRunFailed(ctx, state.RunID, state.Stats, err)
		if state.Area != nil {
			// Drop the run dir only if nothing was staged into it.
			if _, perr := state.Area.Purge(nil); perr != nil {
				log.Warn().Err(perr).Str("dir", state.Area.Dir()).Msg("Failed to remove empty staging directory")
			}
		}
		log.Error().Err(err).Msg("Run failed")
		return err
	}

	if err := r.deps.Recorder.MarkRunSucceeded(ctx, state.RunID, state.Stats); err != nil {
		log.Error().Err(err).Msg("Failed to record run success")
	}
	log.Info().
		Int("loaded", state.Stats.RowsLoaded).
		Int("warnings", len(state.Warnings)).
		Msg("Run complete")
	return nil
}

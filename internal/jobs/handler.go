package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/pos-ingest/internal/pipeline"
)

// Executor runs the pipeline. *pipeline.Runner implements it.
type Executor interface {
	Run(ctx context.Context, now time.Time) (*pipeline.RunState, error)
	Retry(ctx context.Context, runID string) (*pipeline.RunState, error)
}

// NewRunHandler returns a JobHandler that executes run and retry jobs with the
// executor built for the job's stale-staging policy. The run's id, window and
// loaded row count are copied back onto the job.
func NewRunHandler(executor func(allowStale bool) Executor) JobHandler {
	return func(ctx context.Context, job Job) error {
		run, ok := job.(*RunJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		ex := executor(run.AllowStale)

		var (
			state *pipeline.RunState
			err   error
		)
		switch run.GetType() {
		case JobTypeRun:
			at := run.At
			if at.IsZero() {
				at = time.Now()
			}
			state, err = ex.Run(ctx, at)
		case JobTypeRetry:
			if run.RetryOf == "" {
				return errors.New("retry job without retry_of")
			}
			state, err = ex.Retry(ctx, run.RetryOf)
		default:
			return fmt.Errorf("unknown job type %q", run.Type)
		}

		if state != nil {
			run.RunID = state.RunID
			run.WindowPrefix = state.Window.Prefix
			run.RowsLoaded = state.Stats.RowsLoaded
		}
		return err
	}
}

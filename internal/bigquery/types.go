// Package bigquery holds the run-ledger row types and repository contract shared
// by the BigQuery implementation and its callers.
package bigquery

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
)

// Run statuses written to pipeline_runs.status.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// RunRepository records pipeline runs and their data-quality counters.
type RunRepository interface {
	// StartRun inserts run with status=RUNNING.
	StartRun(ctx context.Context, run *PipelineRunRow) error

	// MarkRunSucceeded sets status=SUCCESS, finished_ts and the final counters.
	MarkRunSucceeded(ctx context.Context, runID string, stats RunStats) error

	// MarkRunFailed sets status=FAILED, finished_ts and error_message. Errors are logged.
	MarkRunFailed(ctx context.Context, runID string, stats RunStats, runErr error)

	// ListRecentRuns returns up to limit runs, newest first.
	ListRecentRuns(ctx context.Context, limit int) ([]*PipelineRunRow, error)

	// HasLoaded reports whether runID, or any retry of it, finished with
	// status=SUCCESS, i.e. its staged files were committed to the warehouse.
	HasLoaded(ctx context.Context, runID string) (bool, error)
}

// RunStats are the counters a run accumulates as it moves through its stages.
type RunStats struct {
	FilesListed     int
	FilesStaged     int
	FilesFailed     int
	RowsRead        int
	RowsCoercedNull int
	RowsRejected    int
	RowsDuplicate   int
	RowsLoaded      int
}

// PipelineRunRow mirrors one row of pipeline_runs.
type PipelineRunRow struct {
	RunID        string              `bigquery:"run_id"`        // REQUIRED
	RetryOf      bigquery.NullString `bigquery:"retry_of"`      // NULLABLE
	WindowPrefix string              `bigquery:"window_prefix"` // NULLABLE

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string `bigquery:"status"`        // REQUIRED
	ErrorMessage string `bigquery:"error_message"` // NULLABLE

	FilesListed     int64 `bigquery:"files_listed"`
	FilesStaged     int64 `bigquery:"files_staged"`
	FilesFailed     int64 `bigquery:"files_failed"`
	RowsRead        int64 `bigquery:"rows_read"`
	RowsCoercedNull int64 `bigquery:"rows_coerced_null"`
	RowsRejected    int64 `bigquery:"rows_rejected"`
	RowsDuplicate   int64 `bigquery:"rows_duplicate"`
	RowsLoaded      int64 `bigquery:"rows_loaded"`
}

// Stats returns the row's counters.
func (r *PipelineRunRow) Stats() RunStats {
	return RunStats{
		FilesListed:     int(r.FilesListed),
		FilesStaged:     int(r.FilesStaged),
		FilesFailed:     int(r.FilesFailed),
		RowsRead:        int(r.RowsRead),
		RowsCoercedNull: int(r.RowsCoercedNull),
		RowsRejected:    int(r.RowsRejected),
		RowsDuplicate:   int(r.RowsDuplicate),
		RowsLoaded:      int(r.RowsLoaded),
	}
}

// Package bigquery records pipeline runs in a BigQuery table.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/pos-ingest/internal/bigquery"
	"github.com/dvloznov/pos-ingest/internal/config"
)

// Re-exported so callers only need this package.
type (
	RunRepository  = bq.RunRepository
	PipelineRunRow = bq.PipelineRunRow
	RunStats       = bq.RunStats
)

// BigQueryRunRepository is the BigQuery implementation of RunRepository.
// It holds a shared client for the lifetime of a run.
type BigQueryRunRepository struct {
	client *bigquery.Client
	table  string
}

// NewBigQueryRunRepository creates a repository writing to cfg.Dataset.pipeline_runs
// in cfg.Project.
func NewBigQueryRunRepository(ctx context.Context, cfg config.LedgerConfig) (*BigQueryRunRepository, error) {
	client, err := bigquery.NewClient(ctx, cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRunRepository: creating client: %w", err)
	}
	return &BigQueryRunRepository{
		client: client,
		table:  tableRef(cfg.Project, cfg.Dataset),
	}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryRunRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// StartRun delegates to StartRunWithClient with the shared client.
func (r *BigQueryRunRepository) StartRun(ctx context.Context, run *PipelineRunRow) error {
	return StartRunWithClient(ctx, r.client, r.table, run)
}

// MarkRunSucceeded delegates to MarkRunSucceededWithClient with the shared client.
func (r *BigQueryRunRepository) MarkRunSucceeded(ctx context.Context, runID string, stats RunStats) error {
	return MarkRunSucceededWithClient(ctx, r.client, r.table, runID, stats)
}

// MarkRunFailed delegates to MarkRunFailedWithClient with the shared client.
func (r *BigQueryRunRepository) MarkRunFailed(ctx context.Context, runID string, stats RunStats, runErr error) {
	MarkRunFailedWithClient(ctx, r.client, r.table, runID, stats, runErr)
}

// ListRecentRuns delegates to ListRecentRunsWithClient with the shared client.
func (r *BigQueryRunRepository) ListRecentRuns(ctx context.Context, limit int) ([]*PipelineRunRow, error) {
	return ListRecentRunsWithClient(ctx, r.client, r.table, limit)
}

// HasLoaded delegates to HasLoadedWithClient with the shared client.
func (r *BigQueryRunRepository) HasLoaded(ctx context.Context, runID string) (bool, error) {
	return HasLoadedWithClient(ctx, r.client, r.table, runID)
}

var _ RunRepository = (*BigQueryRunRepository)(nil)

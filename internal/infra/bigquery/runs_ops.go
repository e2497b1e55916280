package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/pos-ingest/internal/bigquery"
	"github.com/dvloznov/pos-ingest/internal/logger"
	"google.golang.org/api/iterator"
)

const (
	runsTable     = "pipeline_runs"
	maxErrMessage = 2000
)

func tableRef(project, dataset string) string {
	return "`" + project + "." + dataset + "." + runsTable + "`"
}

// StartRunWithClient inserts run into pipeline_runs with status=RUNNING.
func StartRunWithClient(ctx context.Context, client *bigquery.Client, table string, run *PipelineRunRow) error {
	if run.StartedTS.IsZero() {
		run.StartedTS = time.Now()
	}
	run.Status = bq.RunStatusRunning

	q := client.Query(fmt.Sprintf(`
		INSERT %s (
			run_id,
			retry_of,
			window_prefix,
			started_ts,
			status,
			error_message,
			%s
		)
		VALUES (
			@run_id,
			@retry_of,
			@window_prefix,
			@started_ts,
			@status,
			"",
			%s
		)
	`, table, strings.Join(statsColumns, ",\n\t\t\t"), "@"+strings.Join(statsColumns, ",\n\t\t\t@")))

	q.Parameters = append([]bigquery.QueryParameter{
		{Name: "run_id", Value: run.RunID},
		{Name: "retry_of", Value: run.RetryOf},
		{Name: "window_prefix", Value: run.WindowPrefix},
		{Name: "started_ts", Value: run.StartedTS},
		{Name: "status", Value: run.Status},
	}, statsParameters(run.Stats())...)

	if err := runQuery(ctx, q); err != nil {
		return fmt.Errorf("StartRun: %w", err)
	}
	return nil
}

// MarkRunSucceededWithClient sets status=SUCCESS, finished_ts and the counters,
// and clears error_message.
func MarkRunSucceededWithClient(ctx context.Context, client *bigquery.Client, table, runID string, stats RunStats) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = "",
		    %s
		WHERE run_id = @run_id
	`, table, statsAssignments))

	q.Parameters = append([]bigquery.QueryParameter{
		{Name: "status", Value: bq.RunStatusSuccess},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "run_id", Value: runID},
	}, statsParameters(stats)...)

	if err := runQuery(ctx, q); err != nil {
		return fmt.Errorf("MarkRunSucceeded: %w", err)
	}
	return nil
}

// MarkRunFailedWithClient sets status=FAILED, finished_ts, the counters reached
// so far and error_message. Failures are logged rather than returned so the
// original run error is what the caller sees.
func MarkRunFailedWithClient(ctx context.Context, client *bigquery.Client, table, runID string, stats RunStats, runErr error) {
	log := logger.FromContext(ctx)

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message,
		    %s
		WHERE run_id = @run_id
	`, table, statsAssignments))

	q.Parameters = append([]bigquery.QueryParameter{
		{Name: "status", Value: bq.RunStatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: errorMessage(runErr)},
		{Name: "run_id", Value: runID},
	}, statsParameters(stats)...)

	if err := runQuery(ctx, q); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkRunFailed: recording failure")
	}
}

// ListRecentRunsWithClient returns up to limit runs ordered by started_ts descending.
func ListRecentRunsWithClient(ctx context.Context, client *bigquery.Client, table string, limit int) ([]*PipelineRunRow, error) {
	if limit <= 0 {
		limit = 20
	}

	q := client.Query(fmt.Sprintf(`
		SELECT
			run_id,
			retry_of,
			window_prefix,
			started_ts,
			finished_ts,
			status,
			error_message,
			files_listed,
			files_staged,
			files_failed,
			rows_read,
			rows_coerced_null,
			rows_rejected,
			rows_duplicate,
			rows_loaded
		FROM %s
		ORDER BY started_ts DESC
		LIMIT @limit
	`, table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecentRuns: reading query: %w", err)
	}

	var runs []*PipelineRunRow
	for {
		var row PipelineRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecentRuns: iterating: %w", err)
		}
		runs = append(runs, &row)
	}
	return runs, nil
}

// HasLoadedWithClient counts successful runs that loaded runID's staging
// directory: the run itself or a retry pointing back at it.
func HasLoadedWithClient(ctx context.Context, client *bigquery.Client, table, runID string) (bool, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT COUNT(*) AS loaded
		FROM %s
		WHERE status = @status
		  AND (run_id = @run_id OR retry_of = @run_id)
	`, table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: bq.RunStatusSuccess},
		{Name: "run_id", Value: runID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("HasLoaded: reading query: %w", err)
	}

	var row struct {
		Loaded int64 `bigquery:"loaded"`
	}
	if err := it.Next(&row); err != nil {
		return false, fmt.Errorf("HasLoaded: reading count: %w", err)
	}
	return row.Loaded > 0, nil
}

var statsColumns = []string{
	"files_listed",
	"files_staged",
	"files_failed",
	"rows_read",
	"rows_coerced_null",
	"rows_rejected",
	"rows_duplicate",
	"rows_loaded",
}

var statsAssignments = func() string {
	parts := make([]string, len(statsColumns))
	for i, c := range statsColumns {
		parts[i] = c + " = @" + c
	}
	return strings.Join(parts, ",\n\t\t    ")
}()

func statsParameters(s RunStats) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "files_listed", Value: s.FilesListed},
		{Name: "files_staged", Value: s.FilesStaged},
		{Name: "files_failed", Value: s.FilesFailed},
		{Name: "rows_read", Value: s.RowsRead},
		{Name: "rows_coerced_null", Value: s.RowsCoercedNull},
		{Name: "rows_rejected", Value: s.RowsRejected},
		{Name: "rows_duplicate", Value: s.RowsDuplicate},
		{Name: "rows_loaded", Value: s.RowsLoaded},
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= maxErrMessage {
		return msg
	}
	// Cut on a rune boundary so the column stays valid UTF-8.
	n := maxErrMessage
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}

func runQuery(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

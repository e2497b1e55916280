// Package load resolves natural keys to warehouse surrogate ids and commits
// fact rows as one all-or-nothing batch.
package load

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dvloznov/pos-ingest/internal/domain"
	"github.com/dvloznov/pos-ingest/internal/logger"
	"github.com/dvloznov/pos-ingest/internal/staging"
)

// ErrInvalidReference is returned when a record's natural key has no row in a
// dimension table. The whole batch is rolled back.
var ErrInvalidReference = errors.New("invalid reference")

// Result describes a committed batch.
type Result struct {
	Inserted int
	Purged   []string
}

// Engine loads validated records into the warehouse.
type Engine struct {
	warehouse     Warehouse
	source        Reference
	paymentMethod Reference
}

// NewEngine creates an engine resolving against the standard dimensions.
func NewEngine(warehouse Warehouse) *Engine {
	return &Engine{
		warehouse:     warehouse,
		source:        SourceDimension,
		paymentMethod: PaymentMethodDimension,
	}
}

// keyCache memoises lookups for the lifetime of one transaction.
type keyCache map[string]int64

func cacheKey(ref Reference, value any) string {
	return ref.Table + "\x00" + fmt.Sprint(value)
}

// Load inserts every record in order inside a single transaction and commits once.
// Any lookup miss or write error rolls back everything written in the batch.
func (e *Engine) Load(ctx context.Context, records []domain.TransactionRecord) (Result, error) {
	log := logger.FromContext(ctx)

	if len(records) == 0 {
		log.Info().Msg("No records to load")
		return Result{}, nil
	}

	tx, err := e.warehouse.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("Load: begin: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Error().Err(rbErr).Msg("Rollback failed")
		}
	}()

	cache := keyCache{}
	for i, rec := range records {
		sourceKey, err := e.resolve(ctx, tx, cache, e.source, rec.SourceID)
		if err != nil {
			return Result{}, fmt.Errorf("Load: record %d: %w", i+1, err)
		}
		paymentKey, err := e.resolve(ctx, tx, cache, e.paymentMethod, rec.PaymentType)
		if err != nil {
			return Result{}, fmt.Errorf("Load: record %d: %w", i+1, err)
		}

		row := domain.FactRow{
			At:              rec.Timestamp,
			PaymentMethodID: paymentKey,
			Total:           rec.Amount,
			SourceKey:       sourceKey,
		}
		if err := tx.InsertFact(ctx, row); err != nil {
			return Result{}, fmt.Errorf("Load: record %d: insert: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("Load: commit: %w", err)
	}
	committed = true

	log.Info().Int("rows", len(records)).Int("distinct_keys", len(cache)).Msg("Committed transactions")
	return Result{Inserted: len(records)}, nil
}

func (e *Engine) resolve(ctx context.Context, tx Tx, cache keyCache, ref Reference, value any) (int64, error) {
	ck := cacheKey(ref, value)
	if id, ok := cache[ck]; ok {
		return id, nil
	}

	id, found, err := tx.LookupKey(ctx, ref, value)
	if err != nil {
		return 0, fmt.Errorf("lookup %s.%s: %w", ref.Table, ref.LookupColumn, err)
	}
	if !found {
		return 0, fmt.Errorf("%w: no %s row with %s = %s", ErrInvalidReference, ref.Table, ref.LookupColumn, quote(value))
	}
	cache[ck] = id
	return id, nil
}

func quote(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprint(v)
}

// LoadAndPurge loads records and, only once the batch is committed, deletes the
// staged input files and any listed artifacts from area. A failed load leaves
// staging untouched. A purge failure after commit is logged, not returned: the
// leftovers are caught by the next run's staging check.
func (e *Engine) LoadAndPurge(ctx context.Context, records []domain.TransactionRecord, area *staging.Area, files []staging.StagedFile, artifacts ...string) (Result, error) {
	log := logger.FromContext(ctx)

	result, err := e.Load(ctx, records)
	if err != nil {
		log.Error().Err(err).Str("staging", area.Dir()).Msg("Load failed; staged files kept for retry")
		return result, err
	}

	removed, err := area.Purge(files, artifacts...)
	if err != nil {
		log.Error().Err(err).Str("staging", area.Dir()).Msg("Failed to purge staged files after commit")
	}
	result.Purged = removed

	log.Info().Int("purged", len(removed)).Msg("Staged files deleted")
	return result, nil
}

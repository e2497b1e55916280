// Package postgres implements the load.Warehouse contract over pgx for
// Redshift and PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/pos-ingest/internal/config"
	"github.com/dvloznov/pos-ingest/internal/domain"
	"github.com/dvloznov/pos-ingest/internal/load"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Fact table layout.
const (
	FactTable = "fact_transaction"

	colAt            = "at"
	colPaymentMethod = "payment_method_id"
	colTotal         = "total"
	colSource        = "truck_id"
)

// dbtx is the subset of pgx.Tx the adapter uses.
type dbtx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Warehouse is a pooled connection to the reporting warehouse.
type Warehouse struct {
	pool *pgxpool.Pool
}

// Open connects to the warehouse and pins every pooled connection's
// search_path to cfg.Schema.
func Open(ctx context.Context, cfg config.WarehouseConfig) (*Warehouse, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: parsing dsn: %w", err)
	}
	poolCfg.MaxConns = 2
	// Redshift does not support the extended protocol's statement caching.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	schema := cfg.Schema
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if schema == "" {
			return nil
		}
		_, err := conn.Exec(ctx, searchPathSQL(schema))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.Open: ping %s: %w", cfg.Host, err)
	}
	return &Warehouse{pool: pool}, nil
}

// Close releases all pooled connections.
func (w *Warehouse) Close() {
	w.pool.Close()
}

// Begin starts a transaction.
func (w *Warehouse) Begin(ctx context.Context) (load.Tx, error) {
	tx, err := w.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("Warehouse.Begin: %w", err)
	}
	return NewTx(tx), nil
}

// Tx adapts a pgx.Tx to load.Tx.
type Tx struct {
	tx dbtx
}

// NewTx wraps an open pgx transaction.
func NewTx(tx dbtx) *Tx {
	return &Tx{tx: tx}
}

// LookupKey selects the surrogate id for value from ref's dimension table.
func (t *Tx) LookupKey(ctx context.Context, ref load.Reference, value any) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, lookupSQL(ref), value).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("Tx.LookupKey: %s: %w", ref.Table, err)
	}
	return id, true, nil
}

// InsertFact inserts one row into the fact table.
func (t *Tx) InsertFact(ctx context.Context, row domain.FactRow) error {
	_, err := t.tx.Exec(ctx, insertFactSQL(), row.At, row.PaymentMethodID, row.Total, row.SourceKey)
	if err != nil {
		return fmt.Errorf("Tx.InsertFact: %w", err)
	}
	return nil
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback aborts the transaction. It is safe to call after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func searchPathSQL(schema string) string {
	return "SET search_path TO " + pgx.Identifier{schema}.Sanitize()
}

func lookupSQL(ref load.Reference) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1",
		pgx.Identifier{ref.KeyColumn}.Sanitize(),
		pgx.Identifier{ref.Table}.Sanitize(),
		pgx.Identifier{ref.LookupColumn}.Sanitize(),
	)
}

func insertFactSQL() string {
	return fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s) VALUES ($1, $2, $3, $4)",
		pgx.Identifier{FactTable}.Sanitize(),
		pgx.Identifier{colAt}.Sanitize(),
		pgx.Identifier{colPaymentMethod}.Sanitize(),
		pgx.Identifier{colTotal}.Sanitize(),
		pgx.Identifier{colSource}.Sanitize(),
	)
}

var (
	_ load.Warehouse = (*Warehouse)(nil)
	_ load.Tx        = (*Tx)(nil)
)

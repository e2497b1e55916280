package load

import (
	"context"

	"github.com/dvloznov/pos-ingest/internal/domain"
)

// Reference names a dimension table lookup: rows whose LookupColumn equals a
// natural key yield the surrogate id in KeyColumn.
type Reference struct {
	Table        string
	KeyColumn    string
	LookupColumn string
}

// Dimension lookups used to resolve a TransactionRecord's natural keys.
var (
	SourceDimension = Reference{
		Table:        "dim_truck",
		KeyColumn:    "truck_id",
		LookupColumn: "truck_id",
	}
	PaymentMethodDimension = Reference{
		Table:        "dim_payment_method",
		KeyColumn:    "payment_method_id",
		LookupColumn: "payment_method_type",
	}
)

// Warehouse opens transactions against the reporting warehouse.
type Warehouse interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one warehouse transaction. Nothing written through it is visible until
// Commit; Rollback after Commit is a no-op.
type Tx interface {
	// LookupKey returns the surrogate id for value, or found=false when no row matches.
	LookupKey(ctx context.Context, ref Reference, value any) (id int64, found bool, err error)

	// InsertFact inserts one fact row.
	InsertFact(ctx context.Context, row domain.FactRow) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is one validated point-of-sale transaction ready for load.
// Fields holds passthrough columns from the drop file that the warehouse does
// not model, keyed by CSV header.
type TransactionRecord struct {
	SourceID     int64           // from the drop filename
	Timestamp    time.Time       // parsed from "timestamp", UTC
	RawTimestamp string          // "timestamp" exactly as dropped
	Amount       decimal.Decimal // from "total", within (0, 50]
	PaymentType  string          // from "type"
	Fields       map[string]string
}

// FactRow is the warehouse row inserted for one TransactionRecord once both
// natural keys have been resolved to surrogate ids.
type FactRow struct {
	At              time.Time
	PaymentMethodID int64
	Total           decimal.Decimal
	SourceKey       int64
}

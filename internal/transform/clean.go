// Package transform merges staged drop files and cleans them into a validated
// transaction set. Every step is a pure transform over the in-memory table and
// the order is fixed: coercion before filtering, filtering before dedup.
package transform

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/pos-ingest/internal/domain"
	"github.com/dvloznov/pos-ingest/internal/staging"
)

// ErrInvalidTimestamp is returned when a surviving row's timestamp cannot be parsed.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

var (
	// MaxAmount is the inclusive upper bound for a valid total.
	MaxAmount = decimal.NewFromInt(50)

	// rejectSentinels are raw totals the tills emit instead of a value.
	rejectSentinels = map[string]bool{
		"":      true,
		"BLANK": true,
		"ERR":   true,
		"VOID":  true,
		"0":     true,
	}
)

// Report counts what each cleaning step did.
type Report struct {
	Read        int
	CoercedNull int
	Rejected    int
	Duplicates  int
	Kept        int
}

// Dataset is the output of the cleaning pipeline.
type Dataset struct {
	Records []domain.TransactionRecord
	Report  Report
}

// Clean merges files and runs the cleaning steps over the result.
func Clean(files []staging.StagedFile) (*Dataset, error) {
	table, err := Merge(files)
	if err != nil {
		return nil, err
	}
	return CleanTable(table)
}

// CleanTable runs coercion, validity filtering, deduplication and type
// normalisation over an already merged table.
func CleanTable(table *Table) (*Dataset, error) {
	report := Report{Read: len(table.Rows)}

	rows := CoerceAmounts(table.Rows)
	for _, r := range rows {
		if !r.Amount.Valid {
			report.CoercedNull++
		}
	}

	valid := FilterValid(rows)
	report.Rejected = len(rows) - len(valid)

	unique := Deduplicate(table.Columns, valid)
	report.Duplicates = len(valid) - len(unique)

	records, err := Normalize(unique)
	if err != nil {
		return nil, fmt.Errorf("CleanTable: %w", err)
	}
	report.Kept = len(records)

	return &Dataset{Records: records, Report: report}, nil
}

// CoerceAmounts parses each row's total; unparseable values become null.
func CoerceAmounts(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		r.Amount = decimal.NullDecimal{}
		if d, err := decimal.NewFromString(strings.TrimSpace(r.Values[ColumnAmount])); err == nil {
			r.Amount = decimal.NullDecimal{Decimal: d, Valid: true}
		}
		out[i] = r
	}
	return out
}

// IsValidAmount reports whether a coerced total may be loaded:
// non-null, not a reject sentinel, and within (0, MaxAmount].
func IsValidAmount(raw string, amount decimal.NullDecimal) bool {
	if !amount.Valid {
		return false
	}
	if rejectSentinels[strings.ToUpper(strings.TrimSpace(raw))] {
		return false
	}
	return amount.Decimal.IsPositive() && amount.Decimal.LessThanOrEqual(MaxAmount)
}

// FilterValid drops rows whose total is not a valid amount.
func FilterValid(rows []Row) []Row {
	var out []Row
	for _, r := range rows {
		if IsValidAmount(r.Values[ColumnAmount], r.Amount) {
			out = append(out, r)
		}
	}
	return out
}

// Deduplicate drops rows identical to an earlier one across every column,
// the source id and the coerced total. First occurrence wins.
func Deduplicate(columns []string, rows []Row) []Row {
	seen := make(map[string]bool, len(rows))
	var out []Row
	for _, r := range rows {
		key := rowKey(columns, r)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func rowKey(columns []string, r Row) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(r.SourceID, 10))
	for _, c := range columns {
		b.WriteByte(0x1f)
		if c == ColumnAmount && r.Amount.Valid {
			b.WriteString(r.Amount.Decimal.String())
			continue
		}
		// An absent column keys like an empty cell; both persist as "".
		b.WriteString(r.Values[c])
	}
	return b.String()
}

// Normalize converts rows to typed records: payment type as string, timestamp
// parsed to a UTC instant.
func Normalize(rows []Row) ([]domain.TransactionRecord, error) {
	records := make([]domain.TransactionRecord, 0, len(rows))
	for _, r := range rows {
		raw := r.Values[ColumnTimestamp]
		ts, err := ParseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("Normalize: source %d: %w", r.SourceID, err)
		}

		records = append(records, domain.TransactionRecord{
			SourceID:     r.SourceID,
			Timestamp:    ts,
			RawTimestamp: raw,
			Amount:       r.Amount.Decimal,
			PaymentType:  r.Values[ColumnPaymentType],
			Fields:       passthrough(r.Values),
		})
	}
	return records, nil
}

func passthrough(values map[string]string) map[string]string {
	var fields map[string]string
	for k, v := range values {
		switch k {
		case ColumnTimestamp, ColumnPaymentType, ColumnAmount, ColumnSourceID:
			continue
		}
		if fields == nil {
			fields = make(map[string]string)
		}
		fields[k] = v
	}
	return fields
}

// passthroughColumns returns the sorted passthrough keys across records.
func passthroughColumns(records []domain.TransactionRecord) []string {
	set := make(map[string]bool)
	for _, r := range records {
		for k := range r.Fields {
			set[k] = true
		}
	}
	cols := make([]string, 0, len(set))
	for k := range set {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

package transform

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/pos-ingest/internal/staging"
)

// Column names in drop files.
const (
	ColumnTimestamp   = "timestamp"
	ColumnPaymentType = "type"
	ColumnAmount      = "total"

	// ColumnSourceID only appears in the persisted merged dataset.
	ColumnSourceID = "source_id"
)

// ErrMissingColumn is returned when a drop file lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// Row is one in-memory record between merge and normalisation.
type Row struct {
	SourceID int64
	Values   map[string]string
	Amount   decimal.NullDecimal
}

// Table is the merged, source-tagged dataset. Columns is the union of all file
// headers in first-seen order.
type Table struct {
	Columns []string
	Rows    []Row
}

func (t *Table) addColumns(header []string) {
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		seen[c] = true
	}
	for _, c := range header {
		if !seen[c] {
			t.Columns = append(t.Columns, c)
			seen[c] = true
		}
	}
}

// Merge reads every staged file in order, tags each row with the source id in its
// filename, and concatenates them.
func Merge(files []staging.StagedFile) (*Table, error) {
	table := &Table{}
	for _, f := range files {
		sourceID, err := staging.SourceID(f.Name)
		if err != nil {
			return nil, fmt.Errorf("Merge: %w", err)
		}
		if err := table.appendFile(f.Path, sourceID); err != nil {
			return nil, fmt.Errorf("Merge: %s: %w", f.Name, err)
		}
	}
	return table, nil
}

func (t *Table) appendFile(path string, sourceID int64) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	return t.appendCSV(fh, func(map[string]string) (int64, error) { return sourceID, nil })
}

// ReadMerged reads a dataset previously written by WriteCSV; the source id comes
// from its source_id column instead of a filename.
func ReadMerged(r io.Reader) (*Table, error) {
	table := &Table{}
	err := table.appendCSV(r, func(values map[string]string) (int64, error) {
		id, err := strconv.ParseInt(values[ColumnSourceID], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad %s %q: %w", ColumnSourceID, values[ColumnSourceID], err)
		}
		return id, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ReadMerged: %w", err)
	}

	cols := table.Columns[:0]
	for _, c := range table.Columns {
		if c != ColumnSourceID {
			cols = append(cols, c)
		}
	}
	table.Columns = cols
	for i := range table.Rows {
		delete(table.Rows[i].Values, ColumnSourceID)
	}
	return table, nil
}

func (t *Table) appendCSV(r io.Reader, sourceOf func(map[string]string) (int64, error)) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	for _, required := range []string{ColumnTimestamp, ColumnPaymentType, ColumnAmount} {
		if !contains(header, required) {
			return fmt.Errorf("%w %q", ErrMissingColumn, required)
		}
	}
	t.addColumns(header)

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		values := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				values[col] = record[i]
			}
		}
		sourceID, err := sourceOf(values)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		t.Rows = append(t.Rows, Row{SourceID: sourceID, Values: values})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package transform

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/dvloznov/pos-ingest/internal/domain"
)

// WriteCSV persists cleaned records as the merged dataset artifact. ReadMerged
// reads it back; cleaning the result again drops nothing.
func WriteCSV(w io.Writer, records []domain.TransactionRecord) error {
	extra := passthroughColumns(records)
	header := append([]string{ColumnTimestamp, ColumnPaymentType, ColumnAmount, ColumnSourceID}, extra...)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("WriteCSV: header: %w", err)
	}

	for _, r := range records {
		row := []string{
			r.RawTimestamp,
			r.PaymentType,
			r.Amount.String(),
			strconv.FormatInt(r.SourceID, 10),
		}
		for _, c := range extra {
			row = append(row, r.Fields[c])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("WriteCSV: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("WriteCSV: flush: %w", err)
	}
	return nil
}

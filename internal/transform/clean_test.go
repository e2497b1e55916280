package transform

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/pos-ingest/internal/staging"
)

func stageFile(t *testing.T, dir, name, content string) staging.StagedFile {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return staging.StagedFile{Path: path, Name: name}
}

func TestClean_TwoSourceScenario(t *testing.T) {
	dir := t.TempDir()
	files := []staging.StagedFile{
		stageFile(t, dir, "orders_t12_2024.csv",
			"timestamp,type,total\n2024-07-05 15:10:00,card,12.50\n2024-07-05 15:11:00,cash,0\n"),
		stageFile(t, dir, "orders_t7_2024.csv",
			"timestamp,type,total\n2024-07-05 15:20:00,cash,8.00\n2024-07-05 15:21:00,card,0\n"),
	}

	ds, err := Clean(files)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}

	if len(ds.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(ds.Records))
	}
	if ds.Records[0].SourceID != 12 || ds.Records[1].SourceID != 7 {
		t.Errorf("source ids = %d, %d; want 12, 7 in file order", ds.Records[0].SourceID, ds.Records[1].SourceID)
	}
	if !ds.Records[0].Amount.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("amount = %s", ds.Records[0].Amount)
	}
	if want := time.Date(2024, 7, 5, 15, 10, 0, 0, time.UTC); !ds.Records[0].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ds.Records[0].Timestamp, want)
	}
	if ds.Records[1].PaymentType != "cash" {
		t.Errorf("payment type = %q", ds.Records[1].PaymentType)
	}

	want := Report{Read: 4, Rejected: 2, Kept: 2}
	if ds.Report != want {
		t.Errorf("report = %+v, want %+v", ds.Report, want)
	}
}

func TestIsValidAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"50", true},
		{"50.00", true},
		{"50.01", false},
		{"0", false},
		{"0.00", false},
		{"0.01", true},
		{"-3.00", false},
		{"12.5", true},
		{"ERR", false},
		{"VOID", false},
		{"", false},
		{"abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			rows := CoerceAmounts([]Row{{Values: map[string]string{ColumnAmount: tt.raw}}})
			if got := IsValidAmount(tt.raw, rows[0].Amount); got != tt.want {
				t.Errorf("IsValidAmount(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCoerceAmounts_CountsNulls(t *testing.T) {
	table := &Table{
		Columns: []string{ColumnTimestamp, ColumnPaymentType, ColumnAmount},
		Rows: []Row{
			{SourceID: 1, Values: map[string]string{ColumnTimestamp: "2024-07-05 12:00:00", ColumnPaymentType: "card", ColumnAmount: "ERR"}},
			{SourceID: 1, Values: map[string]string{ColumnTimestamp: "2024-07-05 12:00:00", ColumnPaymentType: "card", ColumnAmount: "£4"}},
			{SourceID: 1, Values: map[string]string{ColumnTimestamp: "2024-07-05 12:00:00", ColumnPaymentType: "card", ColumnAmount: "4"}},
		},
	}

	ds, err := CleanTable(table)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Report.CoercedNull != 2 {
		t.Errorf("CoercedNull = %d, want 2", ds.Report.CoercedNull)
	}
	if ds.Report.Kept != 1 {
		t.Errorf("Kept = %d, want 1", ds.Report.Kept)
	}
}

func TestDeduplicate(t *testing.T) {
	cols := []string{ColumnTimestamp, ColumnPaymentType, ColumnAmount}
	row := func(source int64, total string) Row {
		return Row{SourceID: source, Values: map[string]string{
			ColumnTimestamp: "2024-07-05 12:00:00", ColumnPaymentType: "card", ColumnAmount: total,
		}}
	}

	rows := CoerceAmounts([]Row{row(1, "5.00"), row(1, "5.00"), row(2, "5.00"), row(1, "5.0")})
	got := Deduplicate(cols, rows)

	// "5.0" coerces to the same number as "5.00", so it is a duplicate too.
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if got[0].SourceID != 1 || got[1].SourceID != 2 {
		t.Errorf("rows differing only in source id must stay distinct: %+v", got)
	}
}

func TestClean_FilterBeforeDedup(t *testing.T) {
	dir := t.TempDir()
	// The ERR row and the valid row differ in total only; the valid one must survive.
	files := []staging.StagedFile{
		stageFile(t, dir, "orders_t1_2024.csv",
			"timestamp,type,total\n2024-07-05 12:00:00,card,ERR\n2024-07-05 12:00:00,card,7.25\n2024-07-05 12:00:00,card,7.25\n"),
	}

	ds, err := Clean(files)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Records) != 1 || !ds.Records[0].Amount.Equal(decimal.RequireFromString("7.25")) {
		t.Fatalf("unexpected records %+v", ds.Records)
	}
	if ds.Report.Duplicates != 1 || ds.Report.Rejected != 1 {
		t.Errorf("report = %+v", ds.Report)
	}
}

func TestClean_Idempotent(t *testing.T) {
	dir := t.TempDir()
	files := []staging.StagedFile{
		stageFile(t, dir, "orders_t3_2024.csv",
			"timestamp,type,total,till\n2024-07-05T12:00:00Z,card,7.25,A\n2024-07-05 12:05:00,cash,50,B\n2024-07-05 12:06:00,cash,51,B\n"),
	}

	first, err := Clean(files)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, first.Records); err != nil {
		t.Fatal(err)
	}
	table, err := ReadMerged(&buf)
	if err != nil {
		t.Fatalf("ReadMerged: %v", err)
	}
	second, err := CleanTable(table)
	if err != nil {
		t.Fatal(err)
	}

	if second.Report.Rejected != 0 || second.Report.Duplicates != 0 || second.Report.CoercedNull != 0 {
		t.Errorf("second pass dropped rows: %+v", second.Report)
	}
	if len(second.Records) != len(first.Records) {
		t.Fatalf("len = %d, want %d", len(second.Records), len(first.Records))
	}
	for i := range first.Records {
		a, b := first.Records[i], second.Records[i]
		if a.SourceID != b.SourceID || !a.Timestamp.Equal(b.Timestamp) || !a.Amount.Equal(b.Amount) ||
			a.PaymentType != b.PaymentType || a.RawTimestamp != b.RawTimestamp || a.Fields["till"] != b.Fields["till"] {
			t.Errorf("record %d changed: %+v -> %+v", i, a, b)
		}
	}
}

func TestClean_AbsentColumnMatchesEmptyCell(t *testing.T) {
	dir := t.TempDir()
	files := []staging.StagedFile{
		stageFile(t, dir, "orders_t3_a.csv", "timestamp,type,total\n2024-07-05 12:00:00,card,7.25\n"),
		stageFile(t, dir, "orders_t3_b.csv", "timestamp,type,total,till\n2024-07-05 12:00:00,card,7.25,\n"),
	}

	first, err := Clean(files)
	if err != nil {
		t.Fatal(err)
	}
	if first.Report.Kept != 1 || first.Report.Duplicates != 1 {
		t.Fatalf("first pass report = %+v, want kept 1 duplicates 1", first.Report)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, first.Records); err != nil {
		t.Fatal(err)
	}
	table, err := ReadMerged(&buf)
	if err != nil {
		t.Fatal(err)
	}
	second, err := CleanTable(table)
	if err != nil {
		t.Fatal(err)
	}
	if second.Report.Kept != first.Report.Kept || second.Report.Duplicates != 0 {
		t.Errorf("second pass report = %+v, want kept %d and no duplicates", second.Report, first.Report.Kept)
	}
}

func TestClean_InvalidTimestamp(t *testing.T) {
	dir := t.TempDir()
	files := []staging.StagedFile{
		stageFile(t, dir, "orders_t1_2024.csv", "timestamp,type,total\nyesterday,card,3\n"),
	}

	if _, err := Clean(files); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestMerge_Errors(t *testing.T) {
	dir := t.TempDir()

	missing := []staging.StagedFile{stageFile(t, dir, "orders_t1_2024.csv", "timestamp,type\n2024-07-05,card\n")}
	if _, err := Merge(missing); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("expected ErrMissingColumn, got %v", err)
	}

	badName := []staging.StagedFile{stageFile(t, dir, "orders.csv", "timestamp,type,total\n")}
	if _, err := Merge(badName); err == nil {
		t.Error("expected error for filename without source id")
	}
}

func TestMerge_UnionOfHeaders(t *testing.T) {
	dir := t.TempDir()
	files := []staging.StagedFile{
		stageFile(t, dir, "orders_t1_2024.csv", "timestamp,type,total\n2024-07-05 12:00:00,card,3\n"),
		stageFile(t, dir, "orders_t2_2024.csv", "timestamp,type,total,till\n2024-07-05 12:00:00,card,3,A\n"),
	}

	table, err := Merge(files)
	if err != nil {
		t.Fatal(err)
	}
	if len(table.Columns) != 4 || table.Columns[3] != "till" {
		t.Errorf("columns = %v", table.Columns)
	}
	if len(table.Rows) != 2 || table.Rows[1].SourceID != 2 {
		t.Errorf("rows = %+v", table.Rows)
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 7, 5, 15, 4, 5, 0, time.UTC)
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2024-07-05 15:04:05", want},
		{"2024-07-05T15:04:05", want},
		{"2024-07-05T16:04:05+01:00", want},
		{" 2024-07-05 15:04:05 ", want},
		{"2024-07-05 15:04:05.250", want.Add(250 * time.Millisecond)},
		{"07/05/2024 15:04:05", want},
		{"2024-07-05", time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTimestamp(tt.raw)
			if err != nil {
				t.Fatalf("ParseTimestamp(%q): %v", tt.raw, err)
			}
			if !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

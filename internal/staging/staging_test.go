package staging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var rule = Rule{Prefix: "orders_", Suffix: ".csv"}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRule(t *testing.T) {
	tests := []struct {
		key       string
		wantKey   bool
		wantLocal bool
	}{
		{"trucks/2024-07/5/15/orders_t3_2024.csv", true, false},
		{"orders_t3_2024.csv", true, true},
		{"trucks/2024-07/5/15/orders_t3_2024.json", false, false},
		{"trucks/2024-07/5/15/summary.csv", false, false},
		{"archive_orders_t3.csv", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := rule.MatchesKey(tt.key); got != tt.wantKey {
				t.Errorf("MatchesKey = %v, want %v", got, tt.wantKey)
			}
			if got := rule.MatchesFile(tt.key); got != tt.wantLocal {
				t.Errorf("MatchesFile = %v, want %v", got, tt.wantLocal)
			}
		})
	}
}

func TestSourceID(t *testing.T) {
	tests := []struct {
		name    string
		want    int64
		wantErr bool
	}{
		{"orders_t12_2024.csv", 12, false},
		{"orders_t7_2024.csv", 7, false},
		{"/staging/run/orders_T3_20240730.csv", 3, false},
		{"orders_t5.csv", 5, false},
		{"orders.csv", 0, true},
		{"orders_t_2024.csv", 0, true},
		{"orders_tx1_2024.csv", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SourceID(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SourceID(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SourceID(%q) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestArea_FilesAndPurge(t *testing.T) {
	root := t.TempDir()
	area, err := New(root, "run-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	writeFile(t, area.PathFor("orders_t7_2024.csv"), "a")
	writeFile(t, area.PathFor("orders_t12_2024.csv"), "b")
	writeFile(t, area.PathFor("notes.txt"), "c")
	writeFile(t, area.PathFor(MergedArtifact), "d")

	files, err := area.Files(rule)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 || files[0].Name != "orders_t12_2024.csv" || files[1].Name != "orders_t7_2024.csv" {
		t.Fatalf("unexpected files: %+v", files)
	}

	removed, err := area.Purge(files, MergedArtifact)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("removed %d files, want 3", len(removed))
	}

	// notes.txt was not part of the run, so the directory stays.
	if _, err := os.Stat(area.Dir()); err != nil {
		t.Errorf("run dir should remain while it holds unrelated files: %v", err)
	}

	if err := os.Remove(area.PathFor("notes.txt")); err != nil {
		t.Fatal(err)
	}
	if _, err := area.Purge(nil); err != nil {
		t.Fatalf("second Purge: %v", err)
	}
	if _, err := os.Stat(area.Dir()); !os.IsNotExist(err) {
		t.Errorf("empty run dir should be removed, stat err = %v", err)
	}
}

func TestCheckClean(t *testing.T) {
	root := t.TempDir()

	if err := CheckClean(filepath.Join(root, "missing")); err != nil {
		t.Errorf("missing root should be clean: %v", err)
	}

	if _, err := New(root, "empty-run"); err != nil {
		t.Fatal(err)
	}
	if err := CheckClean(root); err != nil {
		t.Errorf("empty run dirs are not leftovers: %v", err)
	}

	writeFile(t, filepath.Join(root, "failed-run", "orders_t1_2024.csv"), "x")
	writeFile(t, filepath.Join(root, "current", "orders_t2_2024.csv"), "x")

	err := CheckClean(root, "current")
	if !errors.Is(err, ErrStaleStaging) {
		t.Fatalf("expected ErrStaleStaging, got %v", err)
	}

	runs, err := Leftovers(root, "current")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0] != "failed-run" {
		t.Errorf("Leftovers = %v", runs)
	}

	if err := Discard(root, "failed-run"); err != nil {
		t.Fatal(err)
	}
	if err := CheckClean(root, "current"); err != nil {
		t.Errorf("after discard: %v", err)
	}
}

func TestOpen(t *testing.T) {
	root := t.TempDir()
	if _, err := Open(root, "nope"); err == nil {
		t.Error("expected error opening a missing run")
	}

	if _, err := New(root, "run-2"); err != nil {
		t.Fatal(err)
	}
	area, err := Open(root, "run-2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if area.RunID() != "run-2" {
		t.Errorf("RunID = %q", area.RunID())
	}
}

func TestRunIDMustStayInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "staging")
	outside := filepath.Join(parent, "elsewhere", "orders_T1_keep.csv")
	writeFile(t, outside, "timestamp,type,total\n")
	writeFile(t, filepath.Join(root, "run-1", "orders_T1_a.csv"), "timestamp,type,total\n")

	for _, id := range []string{"", ".", "..", "../elsewhere", "run-1/..", "/tmp", `..\elsewhere`} {
		if _, err := New(root, id); !errors.Is(err, ErrInvalidRunID) {
			t.Errorf("New(%q) = %v, want ErrInvalidRunID", id, err)
		}
		if _, err := Open(root, id); !errors.Is(err, ErrInvalidRunID) {
			t.Errorf("Open(%q) = %v, want ErrInvalidRunID", id, err)
		}
		if err := Discard(root, id); !errors.Is(err, ErrInvalidRunID) {
			t.Errorf("Discard(%q) = %v, want ErrInvalidRunID", id, err)
		}
	}

	if _, err := os.Stat(outside); err != nil {
		t.Errorf("file outside staging was touched: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "run-1")); err != nil {
		t.Errorf("staging root contents were touched: %v", err)
	}
	if err := ValidateRunID("3f1c2a9e-6a43-4d8e-9b1e-0f6b1d2c3a4b"); err != nil {
		t.Errorf("uuid run id rejected: %v", err)
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Provider != ProviderS3 {
		t.Errorf("Provider = %q, want %q", cfg.Store.Provider, ProviderS3)
	}
	if cfg.FilePrefix != "orders_" || cfg.FileSuffix != ".csv" {
		t.Errorf("naming defaults = %q/%q", cfg.FilePrefix, cfg.FileSuffix)
	}
	if cfg.Warehouse.Port != "5439" {
		t.Errorf("DB port default = %q, want 5439", cfg.Warehouse.Port)
	}
	if cfg.Ledger.Enabled() {
		t.Error("ledger should be disabled without BQ_PROJECT")
	}
}

func TestLoad_EnvFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "BUCKET_NAME=from-file\nDB_HOST=warehouse.internal\nDB_SCHEMA=sales\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DB_SCHEMA", "from_env")

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Bucket != "from-file" {
		t.Errorf("Bucket = %q, want from-file", cfg.Store.Bucket)
	}
	if cfg.Warehouse.Host != "warehouse.internal" {
		t.Errorf("Host = %q", cfg.Warehouse.Host)
	}
	if cfg.Warehouse.Schema != "from_env" {
		t.Errorf("environment should win over the file, got schema %q", cfg.Warehouse.Schema)
	}
}

func TestLoad_MissingEnvFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Store:     StoreConfig{Provider: ProviderGCS},
		Warehouse: WarehouseConfig{Port: "5439", Schema: "public"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, key := range []string{"BUCKET_NAME", "DB_HOST", "DB_NAME", "DB_USERNAME"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q should mention %s", err, key)
		}
	}

	cfg.Store.Provider = "ftp"
	if err := cfg.ValidateStore(); err == nil || !strings.Contains(err.Error(), "ftp") {
		t.Errorf("expected unsupported provider error, got %v", err)
	}
}

func TestWarehouseDSN(t *testing.T) {
	w := WarehouseConfig{Host: "db", Port: "5439", Name: "pos", User: "loader", Password: "p@ss"}
	want := "postgres://loader:p%40ss@db:5439/pos"
	if got := w.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

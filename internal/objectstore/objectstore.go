// Package objectstore lists and downloads drop files from a cloud bucket.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/pos-ingest/internal/config"
)

// RemoteObject is one key under a listed prefix.
type RemoteObject struct {
	Key          string
	LastModified time.Time
}

// Store provides the two operations the extract stage needs from a bucket.
// This interface enables mocking and testing of storage functionality.
type Store interface {
	// List returns every object under prefix, following pagination.
	List(ctx context.Context, prefix string) ([]RemoteObject, error)

	// Download writes the object's bytes to localPath, overwriting any existing file.
	Download(ctx context.Context, key, localPath string) error

	// Close releases the underlying client.
	Close() error
}

// Uploader writes local files into the bucket. Both backends implement it;
// it is used to replay drops, never by a pipeline run.
type Uploader interface {
	Upload(ctx context.Context, key, localPath string) error
}

var (
	_ Uploader = (*S3Store)(nil)
	_ Uploader = (*GCSStore)(nil)
)

// New builds the Store selected by cfg.Provider.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Provider {
	case config.ProviderS3:
		return NewS3Store(ctx, cfg)
	case config.ProviderGCS:
		return NewGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("objectstore.New: unsupported provider %q", cfg.Provider)
	}
}

// BaseName returns the last path segment of an object key.
// e.g. "trucks/2024-07/5/15/orders_t3_2024.csv" → "orders_t3_2024.csv"
func BaseName(key string) string {
	return path.Base(key)
}

func contentType(key string) string {
	if strings.HasSuffix(strings.ToLower(key), ".csv") {
		return "text/csv"
	}
	return "application/octet-stream"
}

// writeLocal copies r into localPath. A partially written file is removed so a
// failed download never leaves a truncated file behind in staging.
func writeLocal(localPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", localPath, err)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create file %s: %w", localPath, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(localPath)
		return fmt.Errorf("write %s: %w", localPath, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(localPath)
		return fmt.Errorf("close %s: %w", localPath, err)
	}
	return nil
}

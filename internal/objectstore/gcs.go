package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dvloznov/pos-ingest/internal/config"
)

const uploadTimeout = 2 * time.Minute

// GCSStore reads drops from a Google Cloud Storage bucket.
// It assumes Application Default Credentials unless a credentials file is configured.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates the storage client.
func NewGCSStore(ctx context.Context, cfg config.StoreConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket}, nil
}

// List iterates every object under prefix.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]RemoteObject, error) {
	query := &storage.Query{Prefix: prefix}
	if err := query.SetAttrSelection([]string{"Name", "Updated"}); err != nil {
		return nil, fmt.Errorf("GCSStore.List: attr selection: %w", err)
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, query)

	var objects []RemoteObject
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("GCSStore.List: listing gs://%s/%s: %w", s.bucket, prefix, err)
		}
		objects = append(objects, RemoteObject{
			Key:          attrs.Name,
			LastModified: attrs.Updated,
		})
	}
	return objects, nil
}

// Download streams one object to localPath.
func (s *GCSStore) Download(ctx context.Context, key, localPath string) error {
	rc, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("GCSStore.Download: open gs://%s/%s: %w", s.bucket, key, err)
	}
	defer rc.Close()

	if err := writeLocal(localPath, rc); err != nil {
		return fmt.Errorf("GCSStore.Download: %w", err)
	}
	return nil
}

// Upload writes the local file at localPath to key.
func (s *GCSStore) Upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("GCSStore.Upload: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(key)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCSStore.Upload: copy to gs://%s/%s: %w", s.bucket, key, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("GCSStore.Upload: finalize gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Close closes the storage client.
func (s *GCSStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

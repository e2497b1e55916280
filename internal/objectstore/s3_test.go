package objectstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 serves two pages of listing and in-memory object bodies.
type fakeS3 struct {
	pages   [][]types.Object
	bodies  map[string]string
	getErr  error
	prefix  string
	listHit int

	contentType string
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.prefix = aws.ToString(in.Prefix)
	page := 0
	if in.ContinuationToken != nil {
		page = 1
	}
	f.listHit++

	out := &s3.ListObjectsV2Output{Contents: f.pages[page]}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String("page-2")
	} else {
		out.IsTruncated = aws.Bool(false)
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.bodies[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.bodies == nil {
		f.bodies = map[string]string{}
	}
	f.bodies[aws.ToString(in.Key)] = string(b)
	f.contentType = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_ListFollowsPages(t *testing.T) {
	modified := time.Date(2024, 7, 5, 15, 5, 0, 0, time.UTC)
	fake := &fakeS3{pages: [][]types.Object{
		{{Key: aws.String("trucks/2024-07/5/15/orders_t1_2024.csv"), LastModified: aws.Time(modified)}},
		{{Key: aws.String("trucks/2024-07/5/15/orders_t2_2024.csv"), LastModified: aws.Time(modified)}},
	}}

	store := NewS3StoreWithClient(fake, "pos-drops")
	objects, err := store.List(context.Background(), "trucks/2024-07/5/15")
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if fake.listHit != 2 {
		t.Errorf("expected 2 list calls, got %d", fake.listHit)
	}
	if fake.prefix != "trucks/2024-07/5/15" {
		t.Errorf("prefix = %q", fake.prefix)
	}
	if len(objects) != 2 || objects[1].Key != "trucks/2024-07/5/15/orders_t2_2024.csv" {
		t.Fatalf("unexpected objects: %+v", objects)
	}
	if !objects[0].LastModified.Equal(modified) {
		t.Errorf("LastModified = %v", objects[0].LastModified)
	}
}

func TestS3Store_DownloadOverwrites(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "nested", "orders_t1_2024.csv")
	fake := &fakeS3{bodies: map[string]string{"k": "timestamp,type,total\n"}}
	store := NewS3StoreWithClient(fake, "pos-drops")

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("stale content that is longer"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := store.Download(context.Background(), "k", local); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "timestamp,type,total\n" {
		t.Errorf("file content = %q", got)
	}
}

func TestS3Store_DownloadError(t *testing.T) {
	fake := &fakeS3{getErr: errors.New("access denied")}
	store := NewS3StoreWithClient(fake, "pos-drops")

	local := filepath.Join(t.TempDir(), "f.csv")
	if err := store.Download(context.Background(), "k", local); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Errorf("no file should be created on failure, stat err = %v", err)
	}
}

func TestBaseName(t *testing.T) {
	if got := BaseName("trucks/2024-07/5/15/orders_t3_2024.csv"); got != "orders_t3_2024.csv" {
		t.Errorf("BaseName = %q", got)
	}
}

func TestS3Store_UploadThenDownload(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "orders_t4_2024.csv")
	if err := os.WriteFile(src, []byte("timestamp,type,total\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := &fakeS3{}
	store := NewS3StoreWithClient(fake, "pos-drops")
	key := "trucks/2024-07/5/15/orders_t4_2024.csv"
	if err := store.Upload(context.Background(), key, src); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if fake.contentType != "text/csv" {
		t.Errorf("content type = %q, want text/csv", fake.contentType)
	}

	dst := filepath.Join(dir, "copy", BaseName(key))
	if err := store.Download(context.Background(), key, dst); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "timestamp,type,total\n" {
		t.Errorf("round trip body = %q", got)
	}
}

func TestS3Store_UploadMissingFile(t *testing.T) {
	store := NewS3StoreWithClient(&fakeS3{}, "pos-drops")
	if err := store.Upload(context.Background(), "k.csv", filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Fatal("Upload of a missing file succeeded")
	}
}

package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/memblob" // in-memory driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
	"gocloud.dev/gcerrors"
)

// BucketStore writes payloads through a gocloud.dev bucket.
type BucketStore struct {
	bucket *blob.Bucket
}

// NewBucketStore opens a bucket from a gocloud URL (file://, mem://, s3://, gs://).
// A value without a scheme is a local directory, created if missing.
func NewBucketStore(ctx context.Context, location string) (*BucketStore, error) {
	if !strings.Contains(location, "://") {
		dir, err := filepath.Abs(location)
		if err != nil {
			return nil, fmt.Errorf("resolve data path %s: %w", location, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data path %s: %w", dir, err)
		}
		bucket, err := fileblob.OpenBucket(dir, nil)
		if err != nil {
			return nil, fmt.Errorf("open file bucket %s: %w", dir, err)
		}
		return &BucketStore{bucket: bucket}, nil
	}

	bucket, err := blob.OpenBucket(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", location, err)
	}
	return &BucketStore{bucket: bucket}, nil
}

func (s *BucketStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	// Cancelling the writer's context aborts the upload instead of committing a partial object.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return 0, fmt.Errorf("create writer for %s: %w", key, err)
	}

	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		w.Close()
		return n, fmt.Errorf("write data to %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("close writer for %s: %w", key, err)
	}
	return n, nil
}

func (s *BucketStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("open reader for %s: %w", key, err)
	}
	return r, nil
}

func (s *BucketStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *BucketStore) Close() error {
	return s.bucket.Close()
}

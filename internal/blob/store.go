// Package blob holds beam payload bytes. Variants are picked from the
// configured URL: plain paths and gocloud.dev URLs (file, mem, s3, gs) go
// through a gocloud bucket, minio:// URLs through the MinIO client.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ErrNotFound is returned by Open when no payload exists under the key.
var ErrNotFound = errors.New("payload not found")

// Store abstracts writing and reading payload streams.
type Store interface {
	// Put streams r to key and returns the number of bytes consumed from r.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and tunes a Store.
type Options struct {
	URL         string
	Compression string // "none" | "zstd"
}

// Open builds the Store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	if strings.HasPrefix(opts.URL, "minio://") {
		var cfg MinioConfig
		cfg, err = ParseMinioURL(opts.URL)
		if err != nil {
			return nil, err
		}
		s, err = NewMinioStore(ctx, cfg)
	} else {
		s, err = NewBucketStore(ctx, opts.URL)
	}
	if err != nil {
		return nil, err
	}

	switch opts.Compression {
	case "", "none":
		return s, nil
	case "zstd":
		return NewZstdStore(s), nil
	default:
		s.Close()
		return nil, fmt.Errorf("unsupported blob compression %q", opts.Compression)
	}
}

// BeamKey is the object key for a beam's payload.
func BeamKey(id string) string {
	return "beams/" + url.PathEscape(id)
}

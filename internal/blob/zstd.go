package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdStore compresses payloads on the way into the wrapped Store and
// decompresses them on the way out. Byte counts refer to uncompressed data.
type ZstdStore struct {
	inner Store
}

func NewZstdStore(inner Store) *ZstdStore {
	return &ZstdStore{inner: inner}
}

func (s *ZstdStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	pr, pw := io.Pipe()
	counted := &countingReader{r: r}
	done := make(chan struct{})

	go func() {
		defer close(done)
		enc, err := zstd.NewWriter(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(enc, counted); err != nil {
			enc.Close()
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(enc.Close())
	}()

	_, err := s.inner.Put(ctx, key, pr, contentType)
	// Unblock the encoder goroutine if the inner store stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)
	<-done
	if err != nil {
		return counted.n, fmt.Errorf("zstd put %s: %w", key, err)
	}
	return counted.n, nil
}

func (s *ZstdStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.inner.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("zstd reader for %s: %w", key, err)
	}
	return &zstdReadCloser{dec: dec, src: rc}, nil
}

func (s *ZstdStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *ZstdStore) Close() error {
	return s.inner.Close()
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	src io.Closer
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.src.Close()
}

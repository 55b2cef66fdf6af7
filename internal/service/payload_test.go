package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/bitbeam/internal/blob"
	"github.com/punchamoorthee/bitbeam/internal/domain"
	"github.com/punchamoorthee/bitbeam/internal/logging"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newTestPayloads(t *testing.T, blobs blob.Store) (*PayloadService, *Ledger) {
	t.Helper()
	l := createTestLedger(t)
	if blobs == nil {
		blobs = createTestBlobs(t)
	}
	return NewPayloadService(l, blobs, 1<<20, logging.Discard()), l
}

func submitPayload(t *testing.T, l *Ledger, id, body, checksum string) {
	t.Helper()
	_, err := l.Submit(context.Background(), SubmitParams{
		ID: id, Checksum: checksum, SizeBytes: int64(len(body)), ContentType: "text/plain",
	})
	require.NoError(t, err)
}

func TestPayload_UploadAndDownload(t *testing.T) {
	ctx := context.Background()
	p, l := newTestPayloads(t, nil)
	body := "hello from the other side"
	submitPayload(t, l, "up1", body, sha256Hex(body))

	rec, err := p.Upload(ctx, "up1", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, rec.Status)

	rc, got, err := p.Download(ctx, "up1")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
	assert.Equal(t, "text/plain", got.ContentType)
}

func TestPayload_UploadOnInProgressBeam(t *testing.T) {
	ctx := context.Background()
	p, l := newTestPayloads(t, nil)
	body := "already begun"
	submitPayload(t, l, "up2", body, sha256Hex(body))
	_, err := l.Begin(ctx, "up2")
	require.NoError(t, err)

	rec, err := p.Upload(ctx, "up2", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
}

func TestPayload_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	blobs := createTestBlobs(t)
	p, l := newTestPayloads(t, blobs)
	submitPayload(t, l, "up3", "expected", sha256Hex("expected"))

	rec, err := p.Upload(ctx, "up3", strings.NewReader("tampered"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, domain.ReasonChecksumMismatch, rec.ErrorReason)

	_, err = blobs.Open(ctx, blob.BeamKey("up3"))
	assert.ErrorIs(t, err, blob.ErrNotFound)

	_, _, err = p.Download(ctx, "up3")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPayload_SizeMismatch(t *testing.T) {
	ctx := context.Background()
	p, l := newTestPayloads(t, nil)

	submitPayload(t, l, "short", "0123456789", sha256Hex("0123456789"))
	rec, err := p.Upload(ctx, "short", strings.NewReader("01234"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, domain.ReasonSizeMismatch, rec.ErrorReason)

	submitPayload(t, l, "long", "0123", sha256Hex("0123"))
	rec, err = p.Upload(ctx, "long", strings.NewReader("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, domain.ReasonSizeMismatch, rec.ErrorReason)
}

func TestPayload_Refusals(t *testing.T) {
	ctx := context.Background()
	p, l := newTestPayloads(t, nil)

	_, err := l.Submit(ctx, SubmitParams{ID: "huge", Checksum: "x", SizeBytes: 2 << 20})
	require.NoError(t, err)
	_, err = p.Upload(ctx, "huge", strings.NewReader("x"))
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)

	_, err = p.Upload(ctx, "missing", strings.NewReader("x"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	body := "done"
	submitPayload(t, l, "done", body, sha256Hex(body))
	_, err = p.Upload(ctx, "done", strings.NewReader(body))
	require.NoError(t, err)
	_, err = p.Upload(ctx, "done", strings.NewReader(body))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	submitPayload(t, l, "pending", body, sha256Hex(body))
	_, _, err = p.Download(ctx, "pending")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

type failingStore struct {
	blob.Store
	deleted []string
}

func (f *failingStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	return 0, errors.New("bucket offline")
}

func (f *failingStore) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func TestPayload_BlobFailureLeavesInProgress(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{}
	p, l := newTestPayloads(t, fs)
	submitPayload(t, l, "b1", "data", sha256Hex("data"))

	_, err := p.Upload(ctx, "b1", strings.NewReader("data"))
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, []string{blob.BeamKey("b1")}, fs.deleted)

	rec, err := l.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, rec.Status)
}

// settlingStore writes through to a real store, then runs settle before returning.
type settlingStore struct {
	blob.Store
	settle func()
}

func (s *settlingStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	n, err := s.Store.Put(ctx, key, r, contentType)
	s.settle()
	return n, err
}

func TestPayload_BeamFailedDuringUploadDropsBlob(t *testing.T) {
	ctx := context.Background()
	mem := createTestBlobs(t)
	ss := &settlingStore{Store: mem}
	p, l := newTestPayloads(t, ss)
	submitPayload(t, l, "race", "data", sha256Hex("data"))
	ss.settle = func() {
		_, err := l.Fail(ctx, "race", "aborted by sender")
		require.NoError(t, err)
	}

	_, err := p.Upload(ctx, "race", strings.NewReader("data"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = mem.Open(ctx, blob.BeamKey("race"))
	assert.ErrorIs(t, err, blob.ErrNotFound)

	rec, err := l.Get(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, "aborted by sender", rec.ErrorReason)
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestPayload_BodyReadErrorIsBadRequest(t *testing.T) {
	ctx := context.Background()
	p, l := newTestPayloads(t, nil)
	submitPayload(t, l, "r1", "data", sha256Hex("data"))

	_, err := p.Upload(ctx, "r1", brokenBody{})
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	rec, err := l.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, rec.Status)
}

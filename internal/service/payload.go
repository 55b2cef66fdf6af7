package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"

	"github.com/punchamoorthee/bitbeam/internal/blob"
	"github.com/punchamoorthee/bitbeam/internal/domain"
)

// PayloadService moves beam bytes through the blob store and settles the
// beam from what it actually received.
type PayloadService struct {
	ledger   *Ledger
	blobs    blob.Store
	maxBytes int64
	uploads  *keyedMutex
	logger   *slog.Logger
}

func NewPayloadService(ledger *Ledger, blobs blob.Store, maxBytes int64, logger *slog.Logger) *PayloadService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PayloadService{ledger: ledger, blobs: blobs, maxBytes: maxBytes, uploads: newKeyedMutex(), logger: logger}
}

// bodyReader hashes what passes through it and remembers the first
// non-EOF read error, so client failures can be told apart from storage ones.
type bodyReader struct {
	r       io.Reader
	h       hash.Hash
	readErr error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if n > 0 {
		b.h.Write(p[:n])
	}
	if err != nil && !errors.Is(err, io.EOF) && b.readErr == nil {
		b.readErr = err
	}
	return n, err
}

// Upload stores body as the beam's payload, then completes or fails the beam.
// A Submitted beam is begun first. Bodies longer or shorter than the declared
// size fail the beam with ReasonSizeMismatch; otherwise the SHA-256 of the
// body is checked against the declared checksum.
func (s *PayloadService) Upload(ctx context.Context, id string, body io.Reader) (*domain.BeamRecord, error) {
	// Only one upload per beam may write the blob at a time.
	unlock := s.uploads.Lock(id)
	defer unlock()

	rec, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.SizeBytes > s.maxBytes {
		return nil, fmt.Errorf("%w: beam %q declares %d bytes, limit is %d", domain.ErrPayloadTooLarge, id, rec.SizeBytes, s.maxBytes)
	}

	switch rec.Status {
	case domain.StatusSubmitted:
		if rec, err = s.ledger.Begin(ctx, id); err != nil {
			return nil, err
		}
	case domain.StatusInProgress:
	default:
		return nil, domain.InvalidTransition(id, rec.Status, domain.StatusCompleted)
	}

	key := blob.BeamKey(id)
	// One byte past the declared size is enough to detect an oversized body.
	br := &bodyReader{r: io.LimitReader(body, rec.SizeBytes+1), h: sha256.New()}
	n, err := s.blobs.Put(ctx, key, br, rec.ContentType)
	if err != nil {
		s.discard(ctx, key)
		if br.readErr != nil {
			return nil, domain.BadRequestf("read payload for beam %q: %v", id, br.readErr)
		}
		return nil, domain.Unavailable("store payload", err)
	}

	if n != rec.SizeBytes {
		s.logger.Info("payload size mismatch", "id", id, "declared", rec.SizeBytes, "received", n)
		s.discard(ctx, key)
		return s.ledger.Fail(ctx, id, domain.ReasonSizeMismatch)
	}

	digest := hex.EncodeToString(br.h.Sum(nil))
	rec, err = s.ledger.Complete(ctx, id, digest)
	if err != nil {
		// The beam may have been settled elsewhere while the body streamed in.
		s.discard(ctx, key)
		return nil, err
	}
	if rec.Status != domain.StatusCompleted {
		s.discard(ctx, key)
	}
	return rec, nil
}

// Download opens the payload of a Completed beam. The caller closes the reader.
func (s *PayloadService) Download(ctx context.Context, id string) (io.ReadCloser, *domain.BeamRecord, error) {
	rec, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if rec.Status != domain.StatusCompleted {
		return nil, nil, fmt.Errorf("%w: beam %q is %s, payload is only served once completed", domain.ErrInvalidTransition, id, rec.Status)
	}

	rc, err := s.blobs.Open(ctx, blob.BeamKey(id))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: no payload stored for beam %q", domain.ErrNotFound, id)
		}
		return nil, nil, domain.Unavailable("open payload", err)
	}
	return rc, rec, nil
}

// discard removes a payload that will never be served, even if ctx is already cancelled.
func (s *PayloadService) discard(ctx context.Context, key string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("failed to discard payload", "key", key, "error", err)
	}
}

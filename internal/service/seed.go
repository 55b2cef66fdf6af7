package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/punchamoorthee/bitbeam/internal/domain"
)

// SeedFailureReason is recorded on beams seeded directly into Failed.
const SeedFailureReason = "seeded failure"

// Seed submits n synthetic beams and walks each one through the lifecycle
// until it reaches status. It stops at the first error.
func Seed(ctx context.Context, l *Ledger, n int, status domain.Status) ([]*domain.BeamRecord, error) {
	out := make([]*domain.BeamRecord, 0, n)
	for range n {
		id := "seed-" + uuid.NewString()
		sum := sha256.Sum256([]byte(id))
		checksum := hex.EncodeToString(sum[:])

		rec, err := l.Submit(ctx, SubmitParams{
			ID:        id,
			Checksum:  checksum,
			SizeBytes: rand.Int64N(1 << 20),
		})
		if err != nil {
			return out, fmt.Errorf("seed beam %d: %w", len(out), err)
		}

		if status != domain.StatusSubmitted {
			if rec, err = l.Begin(ctx, id); err != nil {
				return out, err
			}
		}
		switch status {
		case domain.StatusCompleted:
			rec, err = l.Complete(ctx, id, checksum)
		case domain.StatusFailed:
			rec, err = l.Fail(ctx, id, SeedFailureReason)
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

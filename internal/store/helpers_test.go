package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/bitbeam/internal/domain"
	"github.com/punchamoorthee/bitbeam/internal/logging"
)

// createTestSQLite opens a migrated SQLite backend in a temp directory.
func createTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bitbeam.db")
	b, err := NewSQLiteBackend(context.Background(), path, 2*time.Second, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, Migrate(b, logging.Discard()))
	t.Cleanup(func() { b.Close() })
	return b
}

var testEpoch = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

// newTestBeam builds a submitted record whose created_at is offset seconds after testEpoch.
func newTestBeam(id string, offset int) *domain.BeamRecord {
	ts := testEpoch.Add(time.Duration(offset) * time.Second)
	return &domain.BeamRecord{
		ID:          id,
		Status:      domain.StatusSubmitted,
		Checksum:    "deadbeef",
		SizeBytes:   1024,
		ContentType: domain.DefaultContentType,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}

func setStatus(st domain.Status, at time.Time) Mutation {
	return func(rec *domain.BeamRecord) error {
		rec.Status = st
		rec.UpdatedAt = at
		return nil
	}
}

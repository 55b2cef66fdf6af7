package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/bitbeam/internal/blob"
	"github.com/punchamoorthee/bitbeam/internal/logging"
	"github.com/punchamoorthee/bitbeam/internal/store"
)

// stepClock returns a clock that advances one millisecond per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func createTestBackend(t *testing.T) store.Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bitbeam.db")
	b, err := store.NewSQLiteBackend(context.Background(), path, 2*time.Second, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, store.Migrate(b, logging.Discard()))
	t.Cleanup(func() { b.Close() })
	return b
}

func createTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	opts = append([]Option{WithClock(stepClock()), WithLogger(logging.Discard())}, opts...)
	return NewLedger(createTestBackend(t), opts...)
}

func createTestBlobs(t *testing.T) blob.Store {
	t.Helper()
	s, err := blob.Open(context.Background(), blob.Options{URL: "mem://"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Package store is the persistence adapter for beam records. Each supported
// SQL engine implements Backend; the variant is chosen once at startup by
// Open and never switched afterwards.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/bitbeam/internal/config"
	"github.com/punchamoorthee/bitbeam/internal/domain"
)

var storeOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "bitbeam_store_op_duration_seconds",
	Help:    "Latency of persistence backend operations",
	Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
}, []string{"backend", "op"})

// ErrSkipWrite may be returned by a Mutation to end Update without writing.
// Update then returns the unchanged record and a nil error.
var ErrSkipWrite = errors.New("skip write")

// Mutation edits rec in place. It runs while the row is locked.
type Mutation func(rec *domain.BeamRecord) error

// Backend is the capability every persistence engine provides.
type Backend interface {
	// Put inserts a new record. Duplicate ids fail with domain.ErrConflict.
	Put(ctx context.Context, rec *domain.BeamRecord) error
	// Get returns the current record or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.BeamRecord, error)
	// Update applies mutate atomically and returns the committed record.
	Update(ctx context.Context, id string, mutate Mutation) (*domain.BeamRecord, error)
	// ListPage returns up to limit records after the cursor, ordered by (created_at, id).
	ListPage(ctx context.Context, filter domain.ListFilter, after *domain.Cursor, limit int) (*domain.Page, error)
	Ping(ctx context.Context) error
	Name() string
	Close() error
}

// Open connects to the backend named by cfg.DBType. Unsupported names fail
// with domain.ErrConfiguration before any connection attempt.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch cfg.DBType {
	case config.DBTypePostgres:
		return NewPostgresBackend(ctx, cfg.DatabaseURL, cfg.DBTimeout, logger)
	case config.DBTypeSQLite:
		return NewSQLiteBackend(ctx, cfg.DatabaseURL, cfg.DBTimeout, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q", domain.ErrConfiguration, cfg.DBType)
	}
}

// applyMutation runs mutate against a copy of cur and checks the result
// against the lifecycle rules. write is false when the mutation asked to skip.
func applyMutation(cur *domain.BeamRecord, mutate Mutation) (next *domain.BeamRecord, write bool, err error) {
	next = cur.Clone()
	if err := mutate(next); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return cur, false, nil
		}
		return nil, false, err
	}

	if next.ID != cur.ID || !next.CreatedAt.Equal(cur.CreatedAt) {
		return nil, false, fmt.Errorf("beam %q: id and created_at are immutable", cur.ID)
	}
	if next.Status != cur.Status && !domain.CanTransition(cur.Status, next.Status) {
		return nil, false, domain.InvalidTransition(cur.ID, cur.Status, next.Status)
	}
	if cur.Status.Terminal() {
		return nil, false, domain.InvalidTransition(cur.ID, cur.Status, next.Status)
	}
	if next.UpdatedAt.Before(cur.UpdatedAt) {
		next.UpdatedAt = cur.UpdatedAt
	}
	return next, true, nil
}

// observe starts a latency timer for one backend operation.
func observe(backend, op string) func() {
	start := time.Now()
	return func() {
		storeOpDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	}
}

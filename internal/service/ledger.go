package service

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/bitbeam/internal/domain"
	"github.com/punchamoorthee/bitbeam/internal/store"
)

var beamTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bitbeam_beam_transitions_total",
	Help: "Committed beam status changes by target status",
}, []string{"to"})

// SubmitParams describes a new beam. ContentType defaults to
// domain.DefaultContentType.
type SubmitParams struct {
	ID          string
	Checksum    string
	SizeBytes   int64
	ContentType string
}

// Ledger drives beam records through their lifecycle. Mutations on one id are
// serialized in-process and again by the backend's row lock.
type Ledger struct {
	backend store.Backend
	locks   *keyedMutex
	cache   *TerminalCache
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Ledger)

// WithCache serves terminal records from c.
func WithCache(c *TerminalCache) Option {
	return func(l *Ledger) { l.cache = c }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func NewLedger(backend store.Backend, opts ...Option) *Ledger {
	l := &Ledger{
		backend: backend,
		locks:   newKeyedMutex(),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// timestamp is UTC at microsecond precision so every backend round-trips it exactly.
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

// Submit records a new beam in the Submitted state.
func (l *Ledger) Submit(ctx context.Context, p SubmitParams) (*domain.BeamRecord, error) {
	if err := domain.ValidateID(p.ID); err != nil {
		return nil, err
	}
	if p.Checksum == "" {
		return nil, domain.BadRequestf("checksum must not be empty")
	}
	if p.SizeBytes < 0 {
		return nil, domain.BadRequestf("size_bytes must not be negative")
	}
	if p.ContentType == "" {
		p.ContentType = domain.DefaultContentType
	}

	unlock := l.locks.Lock(p.ID)
	defer unlock()

	now := l.timestamp()
	rec := &domain.BeamRecord{
		ID:          p.ID,
		Status:      domain.StatusSubmitted,
		Checksum:    p.Checksum,
		SizeBytes:   p.SizeBytes,
		ContentType: p.ContentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.backend.Put(ctx, rec); err != nil {
		return nil, err
	}

	beamTransitionsTotal.WithLabelValues(string(domain.StatusSubmitted)).Inc()
	l.logger.Debug("beam submitted", "id", rec.ID, "size_bytes", rec.SizeBytes)
	return rec, nil
}

// Begin moves a Submitted beam to InProgress.
func (l *Ledger) Begin(ctx context.Context, id string) (*domain.BeamRecord, error) {
	return l.transition(ctx, id, func(rec *domain.BeamRecord) error {
		if rec.Status != domain.StatusSubmitted {
			return domain.InvalidTransition(id, rec.Status, domain.StatusInProgress)
		}
		rec.Status = domain.StatusInProgress
		return nil
	})
}

// Complete settles an InProgress beam against the observed checksum: Completed
// when it matches the declared one, Failed with ReasonChecksumMismatch when not.
// Replaying Complete on a settled beam succeeds without writing only when it
// would reach the same outcome.
func (l *Ledger) Complete(ctx context.Context, id, checksum string) (*domain.BeamRecord, error) {
	if checksum == "" {
		return nil, domain.BadRequestf("checksum must not be empty")
	}
	return l.transition(ctx, id, func(rec *domain.BeamRecord) error {
		match := rec.Checksum == checksum
		switch rec.Status {
		case domain.StatusInProgress:
			if match {
				rec.Status = domain.StatusCompleted
			} else {
				rec.Status = domain.StatusFailed
				rec.ErrorReason = domain.ReasonChecksumMismatch
			}
			return nil
		case domain.StatusCompleted:
			if match {
				return store.ErrSkipWrite
			}
			return domain.InvalidTransition(id, rec.Status, domain.StatusFailed)
		case domain.StatusFailed:
			if !match && rec.ErrorReason == domain.ReasonChecksumMismatch {
				return store.ErrSkipWrite
			}
			return domain.InvalidTransition(id, rec.Status, domain.StatusCompleted)
		default:
			return domain.InvalidTransition(id, rec.Status, domain.StatusCompleted)
		}
	})
}

// Fail moves an InProgress beam to Failed. Failing an already failed beam is
// a no-op that keeps the first reason.
func (l *Ledger) Fail(ctx context.Context, id, reason string) (*domain.BeamRecord, error) {
	if reason == "" {
		return nil, domain.BadRequestf("reason must not be empty")
	}
	return l.transition(ctx, id, func(rec *domain.BeamRecord) error {
		switch rec.Status {
		case domain.StatusInProgress:
			rec.Status = domain.StatusFailed
			rec.ErrorReason = reason
			return nil
		case domain.StatusFailed:
			return store.ErrSkipWrite
		default:
			return domain.InvalidTransition(id, rec.Status, domain.StatusFailed)
		}
	})
}

func (l *Ledger) transition(ctx context.Context, id string, mutate store.Mutation) (*domain.BeamRecord, error) {
	if err := domain.ValidateID(id); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(id)
	defer unlock()

	var from domain.Status
	written := false
	rec, err := l.backend.Update(ctx, id, func(rec *domain.BeamRecord) error {
		from = rec.Status
		if err := mutate(rec); err != nil {
			return err
		}
		rec.UpdatedAt = l.timestamp()
		written = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if written {
		beamTransitionsTotal.WithLabelValues(string(rec.Status)).Inc()
		l.logger.Debug("beam transition", "id", id, "from", from, "to", rec.Status, "reason", rec.ErrorReason)
	}
	l.cache.Remember(rec)
	return rec, nil
}

// Get returns the current record, from memory when it is terminal and cached.
func (l *Ledger) Get(ctx context.Context, id string) (*domain.BeamRecord, error) {
	if err := domain.ValidateID(id); err != nil {
		return nil, err
	}
	if rec, ok := l.cache.Get(id); ok {
		return rec, nil
	}
	rec, err := l.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	l.cache.Remember(rec)
	return rec, nil
}

// List returns one page of records after cursor (nil for the first page).
func (l *Ledger) List(ctx context.Context, filter domain.ListFilter, cursor *domain.Cursor, limit int) (*domain.Page, error) {
	if limit <= 0 {
		return nil, domain.BadRequestf("limit must be positive")
	}
	return l.backend.ListPage(ctx, filter, cursor, limit)
}

// All iterates every matching record lazily in (created_at, id) order.
func (l *Ledger) All(ctx context.Context, filter domain.ListFilter) iter.Seq2[*domain.BeamRecord, error] {
	return store.All(ctx, l.backend, filter, store.DefaultPageSize)
}

// Ping reports whether the backend is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.backend.Ping(ctx)
}

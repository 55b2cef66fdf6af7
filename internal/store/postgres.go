package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/bitbeam/internal/domain"
)

// pgUniqueViolation is the SQLSTATE for a duplicate key.
const pgUniqueViolation = "23505"

// PostgresBackend stores beams in PostgreSQL through a pgx pool.
type PostgresBackend struct {
	db      *pgxpool.Pool
	url     string
	timeout time.Duration
	logger  *slog.Logger
}

// pgBeam is the row shape scanned by pgx.RowToStructByName.
type pgBeam struct {
	ID          string    `db:"id"`
	Status      string    `db:"status"`
	Checksum    string    `db:"checksum"`
	SizeBytes   int64     `db:"size_bytes"`
	ContentType string    `db:"content_type"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	ErrorReason string    `db:"error_reason"`
}

func (r pgBeam) record() *domain.BeamRecord {
	return &domain.BeamRecord{
		ID:          r.ID,
		Status:      domain.Status(r.Status),
		Checksum:    r.Checksum,
		SizeBytes:   r.SizeBytes,
		ContentType: r.ContentType,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		ErrorReason: r.ErrorReason,
	}
}

func NewPostgresBackend(ctx context.Context, connString string, timeout time.Duration, logger *slog.Logger) (*PostgresBackend, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to parse database config: %v", domain.ErrConfiguration, err)
	}
	config.ConnConfig.ConnectTimeout = timeout

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	b := &PostgresBackend{db: pool, url: connString, timeout: timeout, logger: logger}
	if err := b.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info("connected to postgres",
		slog.String("host", config.ConnConfig.Host),
		slog.String("database", config.ConnConfig.Database),
	)
	return b, nil
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) Close() error {
	b.db.Close()
	return nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.db.Ping(ctx); err != nil {
		return classifyPostgres("ping", err)
	}
	return nil
}

// Put inserts a new beam row.
func (b *PostgresBackend) Put(ctx context.Context, rec *domain.BeamRecord) error {
	defer observe(b.Name(), "put")()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.db.Exec(ctx,
		`INSERT INTO beams (id, status, checksum, size_bytes, content_type, created_at, updated_at, error_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, string(rec.Status), rec.Checksum, rec.SizeBytes, rec.ContentType,
		rec.CreatedAt, rec.UpdatedAt, rec.ErrorReason,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %q", domain.ErrConflict, rec.ID)
		}
		return classifyPostgres("insert beam", err)
	}
	return nil
}

// Get retrieves a single beam by id.
func (b *PostgresBackend) Get(ctx context.Context, id string) (*domain.BeamRecord, error) {
	defer observe(b.Name(), "get")()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	rows, err := b.db.Query(ctx, `SELECT `+beamColumns+` FROM beams WHERE id = $1`, id)
	if err != nil {
		return nil, classifyPostgres("get beam", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[pgBeam])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", domain.ErrNotFound, id)
		}
		return nil, classifyPostgres("get beam", err)
	}
	return row.record(), nil
}

// Update locks the row with SELECT ... FOR UPDATE, applies mutate and commits.
func (b *PostgresBackend) Update(ctx context.Context, id string, mutate Mutation) (*domain.BeamRecord, error) {
	defer observe(b.Name(), "update")()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	tx, err := b.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, classifyPostgres("tx begin", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT `+beamColumns+` FROM beams WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, classifyPostgres("lock beam", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[pgBeam])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", domain.ErrNotFound, id)
		}
		return nil, classifyPostgres("lock beam", err)
	}

	next, write, err := applyMutation(row.record(), mutate)
	if err != nil || !write {
		return next, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE beams SET status = $1, checksum = $2, size_bytes = $3, content_type = $4,
		        updated_at = $5, error_reason = $6
		  WHERE id = $7`,
		string(next.Status), next.Checksum, next.SizeBytes, next.ContentType,
		next.UpdatedAt, next.ErrorReason, id,
	)
	if err != nil {
		return nil, classifyPostgres("update beam", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyPostgres("tx commit", err)
	}
	return next, nil
}

// ListPage returns one keyset page.
func (b *PostgresBackend) ListPage(ctx context.Context, filter domain.ListFilter, after *domain.Cursor, limit int) (*domain.Page, error) {
	defer observe(b.Name(), "list")()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	query, args := buildListQuery(postgresDialect, filter, after, limit+1)
	rows, err := b.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPostgres("list beams", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[pgBeam])
	if err != nil {
		return nil, classifyPostgres("list beams", err)
	}

	items := make([]*domain.BeamRecord, 0, len(found))
	for _, r := range found {
		items = append(items, r.record())
	}
	return finishPage(items, limit), nil
}

// classifyPostgres maps transport-level failures to domain.ErrUnavailable.
func classifyPostgres(op string, err error) error {
	var connErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		pgconn.Timeout(err),
		errors.As(err, &connErr),
		pgconn.SafeToRetry(err):
		return domain.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CopyIn bulk-loads records with the COPY protocol. Any duplicate id aborts
// the whole batch with domain.ErrConflict.
func (b *PostgresBackend) CopyIn(ctx context.Context, recs []*domain.BeamRecord) (int64, error) {
	defer observe(b.Name(), "copy")()

	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []any{
			rec.ID, string(rec.Status), rec.Checksum, rec.SizeBytes, rec.ContentType,
			rec.CreatedAt, rec.UpdatedAt, rec.ErrorReason,
		})
	}

	n, err := b.db.CopyFrom(ctx,
		pgx.Identifier{"beams"},
		[]string{"id", "status", "checksum", "size_bytes", "content_type", "created_at", "updated_at", "error_reason"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, fmt.Errorf("%w: bulk load: %s", domain.ErrConflict, pgErr.Detail)
		}
		return 0, classifyPostgres("copy beams", err)
	}
	return n, nil
}

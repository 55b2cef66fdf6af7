package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/punchamoorthee/bitbeam/internal/domain"
)

// SQLiteBackend stores beams in a single SQLite file.
// SQLite has one writer at a time, so the pool is capped at one connection
// and every write transaction starts with BEGIN IMMEDIATE.
type SQLiteBackend struct {
	db      *sqlx.DB
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// sqliteBeam is the row shape; timestamps are unix microseconds.
type sqliteBeam struct {
	ID          string `db:"id"`
	Status      string `db:"status"`
	Checksum    string `db:"checksum"`
	SizeBytes   int64  `db:"size_bytes"`
	ContentType string `db:"content_type"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
	ErrorReason string `db:"error_reason"`
}

func (r sqliteBeam) record() *domain.BeamRecord {
	return &domain.BeamRecord{
		ID:          r.ID,
		Status:      domain.Status(r.Status),
		Checksum:    r.Checksum,
		SizeBytes:   r.SizeBytes,
		ContentType: r.ContentType,
		CreatedAt:   time.UnixMicro(r.CreatedAt).UTC(),
		UpdatedAt:   time.UnixMicro(r.UpdatedAt).UTC(),
		ErrorReason: r.ErrorReason,
	}
}

// SQLitePath strips the optional sqlite:// or sqlite: scheme and any query
// string from a database URL.
func SQLitePath(databaseURL string) string {
	path, _, _ := strings.Cut(trimSQLiteScheme(databaseURL), "?")
	return path
}

func trimSQLiteScheme(databaseURL string) string {
	for _, prefix := range []string{"sqlite3://", "sqlite://", "sqlite:"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// sqliteDSN builds a file: URI for go-sqlite3. Query parameters from the
// database URL are kept; the connection pragmas the backend relies on are
// merged in, with _txlock always forced to immediate.
func sqliteDSN(databaseURL string, timeout time.Duration) (path, dsn string, err error) {
	path, rawQuery, _ := strings.Cut(trimSQLiteScheme(databaseURL), "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", "", fmt.Errorf("%w: sqlite url query: %v", domain.ErrConfiguration, err)
	}

	params.Set("_txlock", "immediate")
	defaults := map[string]string{
		"_busy_timeout": strconv.FormatInt(timeout.Milliseconds(), 10),
		"_journal_mode": "WAL",
		"_synchronous":  "FULL",
		"_foreign_keys": "on",
	}
	for k, v := range defaults {
		if !params.Has(k) {
			params.Set(k, v)
		}
	}

	escaped := (&url.URL{Path: path}).EscapedPath()
	return path, "file:" + escaped + "?" + params.Encode(), nil
}

// NewSQLiteBackend opens (creating if needed) the database file.
func NewSQLiteBackend(ctx context.Context, databaseURL string, timeout time.Duration, logger *slog.Logger) (*SQLiteBackend, error) {
	path, dsn, err := sqliteDSN(databaseURL, timeout)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", domain.ErrConfiguration)
	}

	created := false
	if path != ":memory:" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			created = true
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create database directory %s: %w", dir, err)
				}
			}
		}
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	b := &SQLiteBackend{db: db, path: path, timeout: timeout, logger: logger}
	if err := b.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if created {
		logger.Info("created sqlite database", slog.String("path", path))
	} else {
		logger.Info("opened sqlite database", slog.String("path", path))
	}
	return b, nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.db.PingContext(ctx); err != nil {
		return classifySQLite("ping", err)
	}
	return nil
}

func (b *SQLiteBackend) Put(ctx context.Context, rec *domain.BeamRecord) error {
	defer observe(b.Name(), "put")()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.db.ExecContext(ctx,
		`INSERT INTO beams (id, status, checksum, size_bytes, content_type, created_at, updated_at, error_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Status), rec.Checksum, rec.SizeBytes, rec.ContentType,
		rec.CreatedAt.UnixMicro(), rec.UpdatedAt.UnixMicro(), rec.ErrorReason,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("%w: %q", domain.ErrConflict, rec.ID)
		}
		return classifySQLite("insert beam", err)
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, id string) (*domain.BeamRecord, error) {
	defer observe(b.Name(), "get")()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var row sqliteBeam
	if err := b.db.GetContext(ctx, &row, `SELECT `+beamColumns+` FROM beams WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", domain.ErrNotFound, id)
		}
		return nil, classifySQLite("get beam", err)
	}
	return row.record(), nil
}

// Update runs the read-modify-write inside one immediate transaction, which
// holds SQLite's write lock for its whole duration.
func (b *SQLiteBackend) Update(ctx context.Context, id string, mutate Mutation) (*domain.BeamRecord, error) {
	defer observe(b.Name(), "update")()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classifySQLite("tx begin", err)
	}
	defer tx.Rollback()

	var row sqliteBeam
	if err := tx.GetContext(ctx, &row, `SELECT `+beamColumns+` FROM beams WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", domain.ErrNotFound, id)
		}
		return nil, classifySQLite("lock beam", err)
	}

	next, write, err := applyMutation(row.record(), mutate)
	if err != nil || !write {
		return next, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE beams SET status = ?, checksum = ?, size_bytes = ?, content_type = ?,
		        updated_at = ?, error_reason = ?
		  WHERE id = ?`,
		string(next.Status), next.Checksum, next.SizeBytes, next.ContentType,
		next.UpdatedAt.UnixMicro(), next.ErrorReason, id,
	)
	if err != nil {
		return nil, classifySQLite("update beam", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classifySQLite("tx commit", err)
	}
	return next, nil
}

func (b *SQLiteBackend) ListPage(ctx context.Context, filter domain.ListFilter, after *domain.Cursor, limit int) (*domain.Page, error) {
	defer observe(b.Name(), "list")()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	query, args := buildListQuery(sqliteDialect, filter, after, limit+1)
	var rows []sqliteBeam
	if err := b.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, classifySQLite("list beams", err)
	}

	items := make([]*domain.BeamRecord, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.record())
	}
	return finishPage(items, limit), nil
}

// classifySQLite maps lock contention and timeouts to domain.ErrUnavailable.
func classifySQLite(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Unavailable(op, err)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return domain.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

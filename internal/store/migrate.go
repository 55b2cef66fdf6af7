package store

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema migrations for the backend's engine.
// It is idempotent.
func Migrate(b Backend, logger *slog.Logger) error {
	switch be := b.(type) {
	case *PostgresBackend:
		return be.migrate(logger)
	case *SQLiteBackend:
		return be.migrate(logger)
	default:
		return fmt.Errorf("migrations not supported for backend %q", b.Name())
	}
}

func (b *PostgresBackend) migrate(logger *slog.Logger) error {
	return b.migrateFrom("migrations/postgres", logger)
}

func (b *PostgresBackend) migrateFrom(dir string, logger *slog.Logger) error {
	db := stdlib.OpenDBFromPool(b.db)
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("init postgres migration driver: %w", err)
	}
	m, err := newMigrator(dir, "pgx5", driver)
	if err != nil {
		driver.Close()
		db.Close()
		return err
	}
	defer m.Close()
	return runUp(m, b.Name(), logger)
}

func (b *SQLiteBackend) migrate(logger *slog.Logger) error {
	driver, err := migratesqlite.WithInstance(b.db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("init sqlite migration driver: %w", err)
	}
	m, err := newMigrator("migrations/sqlite", "sqlite3", driver)
	if err != nil {
		return err
	}
	// m.Close would close the shared *sql.DB, so it is left to Backend.Close.
	return runUp(m, b.Name(), logger)
}

func newMigrator(dir, driverName string, driver database.Driver) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("open migration source %s: %w", dir, err)
	}
	m, err := migrate.NewWithInstance("iofs", source, driverName, driver)
	if err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	return m, nil
}

func runUp(m *migrate.Migrate, backend string, logger *slog.Logger) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied",
		slog.String("backend", backend),
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

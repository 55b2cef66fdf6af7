package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/punchamoorthee/bitbeam/internal/config"
	"github.com/punchamoorthee/bitbeam/internal/domain"
	"github.com/punchamoorthee/bitbeam/internal/logging"
	"github.com/punchamoorthee/bitbeam/internal/store"
)

// session bundles what every command that touches the backend needs.
type session struct {
	cfg       *config.Config
	logger    *slog.Logger
	backend   store.Backend
	closeLogs func() error
}

// openSession loads configuration, installs the logger and opens a migrated
// backend. Configuration problems map to ExitCommandError, connection
// problems to ExitFailure.
func openSession(ctx context.Context, opts *RootOptions) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logCfg := logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Location: cfg.LogLocation}
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	logger, closeLogs, err := logging.Setup(logCfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up logging", err)
	}

	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		closeLogs()
		code := ExitFailure
		if errors.Is(err, domain.ErrConfiguration) {
			code = ExitCommandError
		}
		return nil, WrapExitError(code, "failed to open backend", err)
	}

	if err := store.Migrate(backend, logger); err != nil {
		backend.Close()
		closeLogs()
		return nil, WrapExitError(ExitFailure, "failed to apply migrations", err)
	}

	return &session{cfg: cfg, logger: logger, backend: backend, closeLogs: closeLogs}, nil
}

func (rt *session) Close() {
	if err := rt.backend.Close(); err != nil {
		rt.logger.Warn("closing backend", "error", err)
	}
	rt.closeLogs()
}

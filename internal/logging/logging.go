// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logging configuration.
type Config struct {
	Format   string // "json" | "text"
	Level    string // "debug" | "info" | "warn" | "error"
	Location string // file path; empty means stdout
}

// Setup builds a logger from cfg, installs it as the slog default and returns it
// together with a closer for the log file (a no-op for stdout).
func Setup(cfg Config) (*slog.Logger, func() error, error) {
	var out io.Writer = os.Stdout
	closer := func() error { return nil }

	if cfg.Location != "" {
		f, err := os.OpenFile(cfg.Location, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", cfg.Location, err)
		}
		out = f
		closer = f.Close
	}

	logger := New(out, cfg)
	slog.SetDefault(logger)
	return logger, closer, nil
}

// New builds a logger writing to w without touching the global default.
func New(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a string level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/bitbeam/internal/api"
	"github.com/punchamoorthee/bitbeam/internal/blob"
	"github.com/punchamoorthee/bitbeam/internal/service"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions

	// Ready, when set, receives the bound address once the server accepts connections.
	Ready chan<- string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the bitbeam HTTP API.

Configuration comes from BITBEAM_* environment variables, optionally layered
over the YAML file named by BITBEAM_CONFIG. The backend is opened and migrated
before the listener starts; SIGINT or SIGTERM trigger a graceful shutdown.

Example:
  BITBEAM_DATABASE_URL=./bitbeam.db bitbeam serve
  BITBEAM_DB_TYPE=postgres BITBEAM_DATABASE_URL=postgres://... bitbeam serve -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	rt, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	blobs, err := blob.Open(ctx, blob.Options{URL: cfg.BlobURL, Compression: cfg.BlobCompression})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open blob store", err)
	}
	defer blobs.Close()

	ledger := service.NewLedger(rt.backend,
		service.WithCache(service.NewTerminalCache(cfg.CacheSize, cfg.CacheTTL)),
		service.WithLogger(logger),
	)
	payloads := service.NewPayloadService(ledger, blobs, cfg.MaxPayloadBytes, logger)
	router := api.NewRouter(api.NewHandler(ledger, payloads, logger), logger)

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to listen", err)
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("server started", "addr", ln.Addr().String(), "backend", rt.backend.Name(), "blob_url", cfg.BlobURL)
	if opts.Ready != nil {
		opts.Ready <- ln.Addr().String()
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server stopped", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "graceful shutdown failed", err)
	}
	logger.Info("server stopped")
	return nil
}

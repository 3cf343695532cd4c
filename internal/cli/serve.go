package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/config"
	"github.com/roach88/boardreplica/internal/server"
	"github.com/roach88/boardreplica/internal/store"
	"github.com/roach88/boardreplica/internal/wire"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions

	// OnListen is called with the bound address once the server accepts
	// connections. Tests use it to find an ephemeral port.
	OnListen func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference remote",
		Long: `Run the reference remote store over a SQLite database (created if it
doesn't exist). It serves the block REST API under /api/v1/workspaces and
pushes every accepted change to websocket subscribers on /ws/onchange.

The server stamps each accepted write with a fresh version, so replicas
converge on its copy.

Example:
  boardreplica serve --database ./boardreplica.db --listen :8000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().String("database", config.DefaultDatabase, "path to SQLite database")
	cmd.Flags().String("listen", config.DefaultListen, "address to listen on")
	cmd.Flags().String("workspace-id", config.DefaultWorkspaceID, "workspace whose stored versions seed the clock")
	cmd.Flags().String("log-level", config.DefaultLogLevel, "log level (debug|info|warn|error)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := opts.setupLogging(cmd, cfg)

	codec, err := wire.NewCodec(block.DefaultRegistry())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load block schema", err)
	}

	logger.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, codec)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	srv := server.New(st, codec, server.WithLogger(logger))
	if err := srv.Prime(ctx, cfg.WorkspaceID); err != nil {
		return WrapExitError(ExitCommandError, "failed to read stored versions", err)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	addr := ln.Addr().String()
	logger.Info("server listening", "addr", addr, "database", cfg.Database)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", addr)
	if opts.OnListen != nil {
		opts.OnListen(addr)
	}

	select {
	case err := <-errCh:
		srv.Close()
		return WrapExitError(ExitFailure, "server error", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Push connections are hijacked, so Shutdown does not wait for them.
	srv.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

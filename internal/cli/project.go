package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/blockstore"
	"github.com/roach88/boardreplica/internal/config"
	"github.com/roach88/boardreplica/internal/projection"
	"github.com/roach88/boardreplica/internal/store"
	"github.com/roach88/boardreplica/internal/wire"
)

// ProjectOptions holds flags for the project command.
type ProjectOptions struct {
	*RootOptions
	Search string
}

// NewProjectCommand creates the project command.
func NewProjectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProjectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "project <board-id> [view-id]",
		Short: "Print a board view from a database",
		Long: `Load one board from a boardreplica database and print its projection
through a view. Without a view id the board's default view is used.

With --format json the projection is printed in canonical JSON, the same
bytes the replica hashes.

Examples:
  boardreplica project --database ./boardreplica.db b1
  boardreplica project b1 v2 --search bug --format json`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := projection.Request{BoardID: args[0], Search: opts.Search}
			if len(args) == 2 {
				req.ViewID = args[1]
			}
			return runProject(opts, req, cmd)
		},
	}

	cmd.Flags().String("database", config.DefaultDatabase, "path to SQLite database")
	cmd.Flags().String("workspace-id", config.DefaultWorkspaceID, "workspace to read")
	cmd.Flags().String("log-level", config.DefaultLogLevel, "log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.Search, "search", "", "only show cards matching this text")

	return cmd
}

func runProject(opts *ProjectOptions, req projection.Request, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := opts.setupLogging(cmd, cfg)
	out := opts.formatter(cmd)

	// Opening creates a missing database; reading one that is not there
	// is a mistake, not an empty board.
	if _, err := os.Stat(cfg.Database); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", cfg.Database), err)
	}

	codec, err := wire.NewCodec(block.DefaultRegistry())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load block schema", err)
	}
	st, err := store.Open(cfg.Database, codec)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	blocks, err := st.ListByRoots(cmd.Context(), cfg.WorkspaceID, []string{req.BoardID})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load board", err)
	}
	logger.Debug("board loaded", "board_id", req.BoardID, "blocks", len(blocks))

	bs := blockstore.New()
	for _, b := range blocks {
		if _, err := bs.Upsert(b); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to load block %s", b.ID), err)
		}
	}

	p, err := projection.NewBuilder(bs).Build(req)
	if errors.Is(err, projection.ErrNotFound) {
		msg := fmt.Sprintf("board %q or its view not found", req.BoardID)
		if fmtErr := out.Error(CodeNotFound, msg, nil); fmtErr != nil {
			return fmtErr
		}
		return NewExitError(ExitFailure, msg)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build projection", err)
	}

	if out.JSON() {
		data, err := p.Canonical()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to encode projection", err)
		}
		return out.Success(json.RawMessage(data))
	}
	writeProjection(cmd.OutOrStdout(), p)
	return nil
}

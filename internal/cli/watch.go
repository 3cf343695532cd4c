package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/config"
	"github.com/roach88/boardreplica/internal/projection"
	"github.com/roach88/boardreplica/internal/remote"
	"github.com/roach88/boardreplica/internal/replica"
	"github.com/roach88/boardreplica/internal/wire"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	View   string
	Search string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <board-id>",
		Short: "Follow a board on a remote",
		Long: `Connect to a remote, keep a live replica of one board and print its
projection every time it changes. The replica resyncs after every
reconnect of the push channel.

With --format json each change is printed as one line of canonical JSON.

Examples:
  boardreplica watch b1 --server-url http://localhost:8000
  boardreplica watch b1 --view v2 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().String("server-url", config.DefaultServerURL, "remote base URL")
	cmd.Flags().String("workspace-id", config.DefaultWorkspaceID, "workspace to follow")
	cmd.Flags().String("user", "", "user id sent with local writes")
	cmd.Flags().Duration("reconnect-interval", config.DefaultReconnectInterval, "delay between push channel reconnects")
	cmd.Flags().Duration("tombstone-retention", config.DefaultTombstoneRetention, "how long deleted blocks are kept before compaction")
	cmd.Flags().Int("history-limit", config.DefaultHistoryLimit, "undo history size")
	cmd.Flags().String("log-level", config.DefaultLogLevel, "log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.View, "view", "", "view id (default: the board's default view)")
	cmd.Flags().StringVar(&opts.Search, "search", "", "only show cards matching this text")

	return cmd
}

func runWatch(opts *WatchOptions, boardID string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := opts.setupLogging(cmd, cfg)

	codec, err := wire.NewCodec(block.DefaultRegistry())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load block schema", err)
	}
	client, err := remote.NewClient(cfg.ServerURL, cfg.WorkspaceID, codec,
		remote.WithClientUser(cfg.User),
		remote.WithClientLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid server url", err)
	}
	push, err := remote.NewPushClient(cfg.ServerURL, cfg.WorkspaceID, codec,
		remote.WithReconnectInterval(cfg.ReconnectInterval),
		remote.WithPushLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid server url", err)
	}

	r := replica.New(client,
		replica.WithFetcher(client),
		replica.WithUser(cfg.User),
		replica.WithLogger(logger),
		replica.WithHistoryLimit(cfg.HistoryLimit),
		replica.WithTombstoneRetention(cfg.TombstoneRetention))
	r.Subscribe(boardID)

	changed := make(chan struct{}, 1)
	unlisten := r.OnChange(func(replica.Update) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unlisten()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	run("replica", r.Run)
	run("push channel", func(ctx context.Context) error { return push.Run(ctx, r) })
	defer wg.Wait()
	defer cancel()

	logger.Info("watching board", "board_id", boardID, "server", cfg.ServerURL)

	w := &watcher{
		replica: r,
		req:     projection.Request{BoardID: boardID, ViewID: opts.View, Search: opts.Search},
		out:     opts.formatter(cmd),
	}

	compact := time.NewTicker(compactInterval(cfg.TombstoneRetention))
	defer compact.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch stopped")
			return nil
		case err := <-errCh:
			return WrapExitError(ExitFailure, "replica stopped", err)
		case <-changed:
			if err := w.print(); err != nil {
				return err
			}
		case <-compact.C:
			r.Compact()
		}
	}
}

// compactInterval runs compaction a few times per retention period.
func compactInterval(retention time.Duration) time.Duration {
	if retention < 4*time.Second {
		return time.Second
	}
	return retention / 4
}

// watcher prints a projection whenever its content hash changes.
type watcher struct {
	replica *replica.Replica
	req     projection.Request
	out     *OutputFormatter

	last      string
	available bool
}

func (w *watcher) print() error {
	p, err := w.replica.OpenProjection(w.req)
	if errors.Is(err, projection.ErrNotFound) {
		if w.available {
			fmt.Fprintf(w.out.Writer, "Board %s is no longer available\n", w.req.BoardID)
		}
		w.available = false
		w.last = ""
		return nil
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build projection", err)
	}
	w.available = true

	hash, err := p.Hash()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode projection", err)
	}
	if hash == w.last {
		return nil
	}
	w.last = hash

	if w.out.JSON() {
		data, err := p.Canonical()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to encode projection", err)
		}
		_, err = fmt.Fprintf(w.out.Writer, "%s\n", data)
		return err
	}
	writeProjection(w.out.Writer, p)
	fmt.Fprintln(w.out.Writer)
	return nil
}

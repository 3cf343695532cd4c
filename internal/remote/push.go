package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/wire"
)

// DefaultReconnectInterval is how long the push client waits between
// connection attempts.
const DefaultReconnectInterval = time.Second

var errSinkClosed = errors.New("sink closed")

// Sink receives what the push channel delivers. *replica.Replica
// implements it.
type Sink interface {
	Enqueue(batch []block.Block) bool
	RequestResync() bool
	Subscriptions() []string
	OnSubscriptionChange(fn func(added, removed []string)) (cancel func())
}

// PushClient follows a server's change feed and forwards it to a Sink.
// After every (re)connect it asks the sink for a resync, since updates sent
// while disconnected are lost. Subscription changes made while connected
// are sent on the open connection.
type PushClient struct {
	url       string
	workspace string
	codec     *wire.Codec
	interval  time.Duration
	dialer    *websocket.Dialer
	logger    *slog.Logger
}

// PushOption configures a PushClient.
type PushOption func(*PushClient)

// WithReconnectInterval sets the delay between connection attempts.
func WithReconnectInterval(d time.Duration) PushOption {
	return func(p *PushClient) {
		p.interval = d
	}
}

// WithPushLogger sets the logger. Default: slog.Default().
func WithPushLogger(l *slog.Logger) PushOption {
	return func(p *PushClient) {
		p.logger = l
	}
}

// NewPushClient creates a push client for workspace on the server at
// baseURL (http or https; the websocket scheme is derived).
func NewPushClient(baseURL, workspace string, codec *wire.Codec, opts ...PushOption) (*PushClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	u = u.JoinPath("ws/onchange")

	p := &PushClient{
		url:       u.String(),
		workspace: workspace,
		codec:     codec,
		interval:  DefaultReconnectInterval,
		dialer:    websocket.DefaultDialer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run keeps a connection open until ctx is cancelled, reconnecting after
// every failure. It returns ctx.Err() on cancellation and nil once the
// sink stops accepting batches.
func (p *PushClient) Run(ctx context.Context, sink Sink) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		err := p.connectAndFollow(ctx, sink)
		if errors.Is(err, errSinkClosed) {
			p.logger.Info("push client stopping: sink closed")
			return nil
		}
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("push channel lost", "error", err)
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			p.logger.Info("push client stopping")
			return ctx.Err()
		}
	}
}

func (p *PushClient) connectAndFollow(ctx context.Context, sink Sink) error {
	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// Listen before taking the snapshot so no change falls in between.
	// Repeating a subscription is harmless.
	feed := newCommandFeed()
	cancelFeed := sink.OnSubscriptionChange(func(added, removed []string) {
		if len(added) > 0 {
			feed.add(wire.Command{Action: wire.ActionSubscribeBlocks, WorkspaceID: p.workspace, BlockIDs: added})
		}
		if len(removed) > 0 {
			feed.add(wire.Command{Action: wire.ActionUnsubscribeBlocks, WorkspaceID: p.workspace, BlockIDs: removed})
		}
	})
	defer cancelFeed()

	cmd := wire.Command{
		Action:      wire.ActionSubscribeBlocks,
		WorkspaceID: p.workspace,
		BlockIDs:    sink.Subscriptions(),
	}
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	p.logger.Info("push channel connected", "url", p.url, "roots", len(cmd.BlockIDs))

	sink.RequestResync()

	done := make(chan struct{})
	defer close(done)
	go p.forward(conn, feed, sink, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		b, ok := p.decode(data)
		if !ok {
			continue
		}
		if !sink.Enqueue([]block.Block{b}) {
			return errSinkClosed
		}
	}
}

// forward writes subscription changes until done closes. It is the only
// writer on conn once started. A failed write closes conn, which ends the
// read loop and forces a reconnect with a fresh subscription.
func (p *PushClient) forward(conn *websocket.Conn, feed *commandFeed, sink Sink, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-feed.signal:
		}
		for _, cmd := range feed.take() {
			if err := conn.WriteJSON(cmd); err != nil {
				p.logger.Warn("failed to send subscription change", "error", err)
				conn.Close()
				return
			}
			p.logger.Debug("subscription change sent", "action", cmd.Action, "roots", cmd.BlockIDs)
			// Blocks of a new root were never pushed to us.
			if cmd.Action == wire.ActionSubscribeBlocks {
				sink.RequestResync()
			}
		}
	}
}

// commandFeed buffers commands for forward without ever blocking the
// producer.
type commandFeed struct {
	mu      sync.Mutex
	pending []wire.Command
	signal  chan struct{}
}

func newCommandFeed() *commandFeed {
	return &commandFeed{signal: make(chan struct{}, 1)}
}

func (f *commandFeed) add(cmd wire.Command) {
	f.mu.Lock()
	f.pending = append(f.pending, cmd)
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *commandFeed) take() []wire.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out
}

// decode drops anything that is not a valid block update.
func (p *PushClient) decode(data []byte) (block.Block, bool) {
	var u wire.Update
	if err := json.Unmarshal(data, &u); err != nil {
		p.logger.Warn("invalid push message", "error", err)
		return block.Block{}, false
	}
	if u.Action != wire.ActionUpdateBlock {
		p.logger.Debug("ignoring push message", "action", u.Action)
		return block.Block{}, false
	}
	b, err := p.codec.Decode(u.Block)
	if err != nil {
		p.logger.Warn("invalid pushed block", "error", err)
		return block.Block{}, false
	}
	return b, true
}

package replica

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/blockstore"
	"github.com/roach88/boardreplica/internal/projection"
	"github.com/roach88/boardreplica/internal/reconcile"
	"github.com/roach88/boardreplica/internal/undo"
)

// WorkspaceRoot is the subscription key for root-level blocks (boards).
const WorkspaceRoot = ""

// DefaultTombstoneRetention is how long Compact keeps tombstones.
const DefaultTombstoneRetention = 10 * time.Minute

// Fetcher loads the current state of whole roots for a resync.
type Fetcher interface {
	FetchBlocks(ctx context.Context, rootIDs []string) ([]block.Block, error)
}

// ChangeFeed is implemented by fetchers that can list what changed after a
// version. Resync uses it to catch up roots it already holds instead of
// fetching them whole.
type ChangeFeed interface {
	FetchModifiedSince(ctx context.Context, since int64) ([]block.Block, error)
}

// Update tells listeners which projections were rebuilt.
type Update struct {
	Rebuilt          []projection.Request
	WorkspaceChanged bool
}

// Replica is the local replica of a workspace.
//
// Thread-safety: Replica is safe for concurrent use. Run must be called
// from at most one goroutine. Listeners are called synchronously from the
// goroutine that made the change and must not call back into Dispatch,
// Undo or Redo.
type Replica struct {
	store   *blockstore.Store
	clock   *block.Clock
	builder *projection.Builder
	engine  *reconcile.Engine
	history *undo.Manager
	fetcher Fetcher
	queue   *eventQueue
	logger  *slog.Logger
	now     func() time.Time
	user    string
	ids     block.IDGenerator
	reg     *block.Registry
	lang    language.Tag
	limit   int
	retain  time.Duration
	remote  undo.Persistence

	// writeMu makes each local apply, rollback and delta batch atomic.
	writeMu sync.Mutex

	subMu sync.RWMutex
	subs  map[string]struct{}

	// subSeq orders subscription changes with their notifications.
	subSeq       sync.Mutex
	subListeners map[int]func(added, removed []string)

	// synced holds the roots fetched whole since they were subscribed;
	// seen is the newest remote version received.
	syncMu sync.Mutex
	synced map[string]struct{}
	seen   int64

	lisMu     sync.Mutex
	listeners map[int]func(Update)
	nextLis   int
}

// Option configures a Replica.
type Option func(*Replica)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Replica) {
		r.logger = l
	}
}

// WithClock sets the version clock. Tests use a manual one.
func WithClock(c *block.Clock) Option {
	return func(r *Replica) {
		r.clock = c
	}
}

// WithStore starts the replica from an existing store.
func WithStore(s *blockstore.Store) Option {
	return func(r *Replica) {
		r.store = s
	}
}

// WithFetcher sets the fetcher used by resyncs requested through the queue.
func WithFetcher(f Fetcher) Option {
	return func(r *Replica) {
		r.fetcher = f
	}
}

// WithUser records userID as the author of local changes.
func WithUser(userID string) Option {
	return func(r *Replica) {
		r.user = userID
	}
}

// WithHistoryLimit bounds the undo history.
func WithHistoryLimit(n int) Option {
	return func(r *Replica) {
		r.limit = n
	}
}

// WithTombstoneRetention sets how long Compact keeps tombstones.
func WithTombstoneRetention(d time.Duration) Option {
	return func(r *Replica) {
		r.retain = d
	}
}

// WithLanguage sets the collation language for title sorting.
func WithLanguage(tag language.Tag) Option {
	return func(r *Replica) {
		r.lang = tag
	}
}

// WithIDGenerator sets the id source for blocks created by intents.
func WithIDGenerator(g block.IDGenerator) Option {
	return func(r *Replica) {
		r.ids = g
	}
}

// WithRegistry sets the content-kind registry used to create content
// blocks. Default: block.DefaultRegistry().
func WithRegistry(reg *block.Registry) Option {
	return func(r *Replica) {
		r.reg = reg
	}
}

// WithNow sets the wall clock Compact measures retention against.
func WithNow(now func() time.Time) Option {
	return func(r *Replica) {
		r.now = now
	}
}

// New creates a replica persisting local commands to remote.
func New(remote undo.Persistence, opts ...Option) *Replica {
	r := &Replica{
		remote:    remote,
		logger:    slog.Default(),
		now:       time.Now,
		ids:       block.UUIDv7Generator{},
		lang:      language.English,
		limit:     undo.DefaultHistoryLimit,
		retain:    DefaultTombstoneRetention,
		queue:     newEventQueue(),
		subs:      make(map[string]struct{}),
		listeners: make(map[int]func(Update)),

		subListeners: make(map[int]func(added, removed []string)),
		synced:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = blockstore.New()
	}
	if r.clock == nil {
		r.clock = block.NewClock()
	}
	if r.reg == nil {
		r.reg = block.DefaultRegistry()
	}

	r.builder = projection.NewBuilder(r.store, projection.WithLanguage(r.lang))
	r.engine = reconcile.New(r.store, r.builder, reconcile.WithClock(r.clock))
	r.history = undo.NewManager(r.store, remote, r.clock,
		undo.WithHistoryLimit(r.limit),
		undo.WithUser(r.user),
		undo.WithStoreLock(&r.writeMu),
		undo.WithOnApply(r.localApplied),
	)
	return r
}

// Store returns the underlying block store. Callers must not write to it.
func (r *Replica) Store() *blockstore.Store {
	return r.store
}

// Subscribe adds rootIDs to the relevant set. WorkspaceRoot subscribes to
// root-level blocks. Subscription listeners hear about the ids that were
// not already subscribed.
func (r *Replica) Subscribe(rootIDs ...string) {
	r.subSeq.Lock()
	defer r.subSeq.Unlock()

	r.subMu.Lock()
	var added []string
	for _, id := range rootIDs {
		if _, ok := r.subs[id]; ok || slices.Contains(added, id) {
			continue
		}
		r.subs[id] = struct{}{}
		added = append(added, id)
	}
	r.subMu.Unlock()

	r.logger.Debug("subscribed", "root_ids", rootIDs)
	r.notifySubscriptions(added, nil)
}

// Unsubscribe removes rootIDs from the relevant set.
func (r *Replica) Unsubscribe(rootIDs ...string) {
	r.subSeq.Lock()
	defer r.subSeq.Unlock()

	r.subMu.Lock()
	var removed []string
	for _, id := range rootIDs {
		if _, ok := r.subs[id]; !ok {
			continue
		}
		delete(r.subs, id)
		removed = append(removed, id)
	}
	r.subMu.Unlock()

	r.syncMu.Lock()
	for _, id := range removed {
		delete(r.synced, id)
	}
	r.syncMu.Unlock()

	r.logger.Debug("unsubscribed", "root_ids", rootIDs)
	r.notifySubscriptions(nil, removed)
}

// OnSubscriptionChange registers fn to run after every Subscribe or
// Unsubscribe that changed the subscribed set. Calls arrive in order. fn
// may read Subscriptions but must not subscribe or unsubscribe.
func (r *Replica) OnSubscriptionChange(fn func(added, removed []string)) (cancel func()) {
	r.lisMu.Lock()
	defer r.lisMu.Unlock()
	id := r.nextLis
	r.nextLis++
	r.subListeners[id] = fn
	return func() {
		r.lisMu.Lock()
		defer r.lisMu.Unlock()
		delete(r.subListeners, id)
	}
}

func (r *Replica) notifySubscriptions(added, removed []string) {
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	r.lisMu.Lock()
	ids := make([]int, 0, len(r.subListeners))
	for id := range r.subListeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(added, removed []string), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subListeners[id])
	}
	r.lisMu.Unlock()

	for _, fn := range fns {
		fn(slices.Clone(added), slices.Clone(removed))
	}
}

// Subscriptions returns the subscribed root ids, sorted.
func (r *Replica) Subscriptions() []string {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for id := range r.subs {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Relevant reports whether a delta for b should be applied.
func (r *Replica) Relevant(b block.Block) bool {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	if _, ok := r.subs[b.RootID]; ok {
		return true
	}
	_, ok := r.subs[WorkspaceRoot]
	return ok && b.IsRoot()
}

// GetProjection returns the projection of a board's view, opening it so it
// is kept current from then on. An empty viewID picks the board's default
// view. It returns projection.ErrNotFound when the board or view is absent.
func (r *Replica) GetProjection(boardID, viewID string) (*projection.Projection, error) {
	return r.OpenProjection(projection.Request{BoardID: boardID, ViewID: viewID})
}

// OpenProjection is GetProjection with the full request, including search
// text.
func (r *Replica) OpenProjection(req projection.Request) (*projection.Projection, error) {
	if p, ok := r.engine.Projection(req); ok {
		return p, nil
	}
	return r.engine.Open(req)
}

// CloseProjection stops keeping req current.
func (r *Replica) CloseProjection(req projection.Request) {
	r.engine.Close(req)
}

// Workspace returns the current workspace tree.
func (r *Replica) Workspace() projection.Workspace {
	return r.engine.Workspace()
}

// OnChange registers fn to be called after projections are rebuilt. The
// returned function unregisters it.
func (r *Replica) OnChange(fn func(Update)) (cancel func()) {
	r.lisMu.Lock()
	defer r.lisMu.Unlock()
	id := r.nextLis
	r.nextLis++
	r.listeners[id] = fn
	return func() {
		r.lisMu.Lock()
		defer r.lisMu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *Replica) notify(u Update) {
	if len(u.Rebuilt) == 0 && !u.WorkspaceChanged {
		return
	}
	r.lisMu.Lock()
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Update), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.listeners[id])
	}
	r.lisMu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

// localApplied runs after the undo manager wrote to the store.
func (r *Replica) localApplied(rootIDs []string) {
	rebuilt := r.engine.Refresh(rootIDs...)
	r.notify(Update{Rebuilt: rebuilt, WorkspaceChanged: true})
}

// OnDeltas merges a pushed batch. Deltas outside the subscribed roots are
// dropped.
func (r *Replica) OnDeltas(batch []block.Block) reconcile.Result {
	relevant := make([]block.Block, 0, len(batch))
	for _, b := range batch {
		if r.Relevant(b) {
			relevant = append(relevant, b)
		}
	}
	if dropped := len(batch) - len(relevant); dropped > 0 {
		r.logger.Debug("irrelevant deltas dropped", "count", dropped)
	}

	r.writeMu.Lock()
	res := r.engine.Apply(relevant)
	r.writeMu.Unlock()
	r.markSynced(nil, relevant)

	r.notify(Update{Rebuilt: res.Rebuilt, WorkspaceChanged: res.WorkspaceChanged})
	return res
}

// Dispatch executes cmd: locally at once, then remotely. A rejected command
// is rolled back and returned as a *undo.CommandError.
func (r *Replica) Dispatch(ctx context.Context, cmd *undo.Command) error {
	return r.history.Execute(ctx, cmd)
}

// BeginGroup opens an undo group.
func (r *Replica) BeginGroup() error { return r.history.BeginGroup() }

// EndGroup closes the open undo group.
func (r *Replica) EndGroup(description string) error { return r.history.EndGroup(description) }

// PerformAsGroup runs fn with every dispatched command recorded as one
// history entry.
func (r *Replica) PerformAsGroup(ctx context.Context, description string, fn func(ctx context.Context) error) error {
	return r.history.PerformAsGroup(ctx, description, fn)
}

// Undo reverts the latest history entry.
func (r *Replica) Undo(ctx context.Context) error { return r.history.Undo(ctx) }

// Redo reapplies the latest undone entry.
func (r *Replica) Redo(ctx context.Context) error { return r.history.Redo(ctx) }

// CanUndo reports whether Undo has something to revert.
func (r *Replica) CanUndo() bool { return r.history.CanUndo() }

// CanRedo reports whether Redo has something to reapply.
func (r *Replica) CanRedo() bool { return r.history.CanRedo() }

// UndoDescription describes what Undo would revert.
func (r *Replica) UndoDescription() string { return r.history.UndoDescription() }

// RedoDescription describes what Redo would reapply.
func (r *Replica) RedoDescription() string { return r.history.RedoDescription() }

// HistoryDepth returns the number of undo and redo entries.
func (r *Replica) HistoryDepth() (undos, redos int) { return r.history.Depth() }

// Resync brings every subscribed root up to date from f, then rebuilds
// all open projections. Callers resync after a push channel reconnect
// instead of trusting delta continuity.
//
// Roots subscribed since the last resync are fetched whole. When f is a
// ChangeFeed, roots already held only fetch what changed after the newest
// remote version the replica has received; otherwise every root is
// fetched whole.
func (r *Replica) Resync(ctx context.Context, f Fetcher) error {
	if f == nil {
		return errors.New("resync: no fetcher")
	}
	roots := r.Subscriptions()
	full, since := r.syncPlan(roots)
	feed, ok := f.(ChangeFeed)
	if !ok || since == 0 {
		full = roots
	}

	var blocks []block.Block
	if len(full) < len(roots) {
		changed, err := feed.FetchModifiedSince(ctx, since)
		if err != nil {
			return err
		}
		for _, b := range changed {
			if r.Relevant(b) {
				blocks = append(blocks, b)
			}
		}
	}
	if len(full) > 0 || len(roots) == 0 {
		fetched, err := f.FetchBlocks(ctx, full)
		if err != nil {
			return err
		}
		blocks = append(blocks, fetched...)
	}

	r.writeMu.Lock()
	res := r.engine.Apply(blocks)
	rebuilt := r.engine.RefreshAll()
	r.writeMu.Unlock()
	r.markSynced(full, blocks)

	r.logger.Info("resync complete",
		"roots", len(roots),
		"fetched_whole", len(full),
		"blocks", len(blocks),
		"applied", res.Applied)
	r.notify(Update{Rebuilt: rebuilt, WorkspaceChanged: true})
	return nil
}

// syncPlan returns the roots that were never fetched whole and the version
// to catch the others up from.
func (r *Replica) syncPlan(roots []string) (full []string, since int64) {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()
	for _, id := range roots {
		if _, ok := r.synced[id]; !ok {
			full = append(full, id)
		}
	}
	return full, r.seen
}

// markSynced records roots fetched whole, skipping any unsubscribed
// meanwhile, and advances the newest remote version seen.
func (r *Replica) markSynced(roots []string, received []block.Block) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	for _, id := range roots {
		if _, ok := r.subs[id]; ok {
			r.synced[id] = struct{}{}
		}
	}
	for _, b := range received {
		r.seen = max(r.seen, b.UpdateAt)
	}
}

// Compact evicts tombstones older than the retention period that no undo
// or redo entry references. It returns the evicted ids.
func (r *Replica) Compact() []string {
	cutoff := r.now().Add(-r.retain).UnixMilli()
	referenced := r.history.Referenced()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var removed []string
	for _, id := range r.store.Tombstones(cutoff) {
		if _, ok := referenced[id]; ok {
			continue
		}
		if r.store.Remove(id) {
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		r.logger.Info("tombstones compacted", "count", len(removed))
	}
	return removed
}

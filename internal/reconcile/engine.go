// Package reconcile merges batches of pushed block deltas into the block
// store and keeps the open projections current.
//
// A delta is a full block: an upsert, or a tombstone when DeleteAt is set.
// Deltas go through the store's last-writer-wins Upsert, so redelivered and
// out-of-order deltas are harmless. Only projections whose board had a block
// actually change are rebuilt; a delta for a board nobody has open costs one
// store write and nothing else.
package reconcile

import (
	"cmp"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/blockstore"
	"github.com/roach88/boardreplica/internal/projection"
)

// Change records which kinds of blocks changed under one root.
type Change struct {
	Board   bool
	Views   bool
	Cards   bool
	Content bool
}

func (c *Change) mark(t block.Type) {
	switch t {
	case block.TypeBoard:
		c.Board = true
	case block.TypeView:
		c.Views = true
	case block.TypeCard:
		c.Cards = true
	default:
		c.Content = true
	}
}

// Result summarizes one Apply.
type Result struct {
	// Applied counts deltas that changed the store.
	Applied int
	// Duplicates counts deltas the store already held.
	Duplicates int
	// Stale counts deltas older than the stored version.
	Stale int
	// Rejected counts malformed deltas.
	Rejected int
	// Touched maps each root id with a changed block to what changed.
	Touched map[string]Change
	// Rebuilt lists the open projections that were rebuilt, in request order.
	Rebuilt []projection.Request
	// WorkspaceChanged reports that a root-level block changed.
	WorkspaceChanged bool
}

// Engine owns the set of open projections.
//
// Thread-safety: Engine is safe for concurrent use. Apply and Refresh are
// serialized; a projection handed out is immutable and stays valid after
// later rebuilds replace it.
type Engine struct {
	store   *blockstore.Store
	builder *projection.Builder
	clock   *block.Clock

	mu        sync.Mutex
	open      map[projection.Request]*projection.Projection
	workspace projection.Workspace
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock makes the engine report every delta version to clock, so local
// writes issued afterwards supersede what was received.
func WithClock(c *block.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an engine over store.
func New(store *blockstore.Store, builder *projection.Builder, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		builder: builder,
		open:    make(map[projection.Request]*projection.Projection),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.workspace = builder.Workspace()
	return e
}

// Open starts tracking req and returns its current projection. A board or
// view that does not exist yet returns projection.ErrNotFound; the request
// stays open and is filled in once deltas create it.
func (e *Engine) Open(req projection.Request) (*projection.Projection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.build(req)
	e.open[req] = p
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Close stops tracking req.
func (e *Engine) Close(req projection.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.open, req)
}

// Projection returns the latest snapshot of an open request. It reports
// false when req is not open or its board or view is absent.
func (e *Engine) Projection(req projection.Request) (*projection.Projection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.open[req]
	return p, p != nil
}

// IsOpen reports whether req is tracked.
func (e *Engine) IsOpen(req projection.Request) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.open[req]
	return ok
}

// OpenRequests returns the tracked requests in a stable order.
func (e *Engine) OpenRequests() []projection.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedRequests()
}

// Workspace returns the latest workspace tree.
func (e *Engine) Workspace() projection.Workspace {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workspace
}

// Apply merges batch into the store in order and rebuilds the projections it
// invalidated.
func (e *Engine) Apply(batch []block.Block) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := Result{Touched: make(map[string]Change)}
	for _, b := range batch {
		if e.clock != nil {
			e.clock.Observe(b.UpdateAt)
		}
		prior, hadPrior := e.store.Get(b.ID)

		out, err := e.store.Upsert(b)
		switch {
		case errors.Is(err, blockstore.ErrStaleWrite):
			res.Stale++
			continue
		case err != nil:
			res.Rejected++
			slog.Warn("delta rejected", "block_id", b.ID, "error", err)
			continue
		case !out.Changed():
			res.Duplicates++
			continue
		}

		res.Applied++
		touch(res.Touched, b.RootID, b.Type)
		if hadPrior && prior.RootID != b.RootID {
			touch(res.Touched, prior.RootID, b.Type)
		}
		if b.IsRoot() || (hadPrior && prior.IsRoot()) {
			res.WorkspaceChanged = true
		}
	}

	res.Rebuilt = e.refresh(res.Touched, res.WorkspaceChanged)

	slog.Debug("delta batch applied",
		"size", len(batch),
		"applied", res.Applied,
		"duplicates", res.Duplicates,
		"stale", res.Stale,
		"rejected", res.Rejected,
		"rebuilt", len(res.Rebuilt))
	return res
}

// Refresh rebuilds the open projections of rootIDs after the store was
// written by something other than Apply, such as the command engine.
func (e *Engine) Refresh(rootIDs ...string) []projection.Request {
	e.mu.Lock()
	defer e.mu.Unlock()

	touched := make(map[string]Change, len(rootIDs))
	for _, id := range rootIDs {
		touched[id] = Change{}
	}
	return e.refresh(touched, true)
}

// RefreshAll rebuilds every open projection and the workspace tree.
func (e *Engine) RefreshAll() []projection.Request {
	e.mu.Lock()
	defer e.mu.Unlock()

	touched := make(map[string]Change, len(e.open))
	for req := range e.open {
		touched[req.BoardID] = Change{}
	}
	return e.refresh(touched, true)
}

// refresh rebuilds open projections whose board is in touched. Callers
// hold mu.
func (e *Engine) refresh(touched map[string]Change, workspace bool) []projection.Request {
	if workspace {
		e.workspace = e.builder.Workspace()
	}
	var rebuilt []projection.Request
	for _, req := range e.sortedRequests() {
		if _, ok := touched[req.BoardID]; !ok {
			continue
		}
		p, err := e.build(req)
		e.open[req] = p
		if err != nil {
			slog.Debug("projection absent", "board_id", req.BoardID, "view_id", req.ViewID)
		}
		rebuilt = append(rebuilt, req)
	}
	return rebuilt
}

// build returns nil with projection.ErrNotFound for absent boards and views.
func (e *Engine) build(req projection.Request) (*projection.Projection, error) {
	p, err := e.builder.Build(req)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Engine) sortedRequests() []projection.Request {
	reqs := make([]projection.Request, 0, len(e.open))
	for req := range e.open {
		reqs = append(reqs, req)
	}
	slices.SortFunc(reqs, compareRequests)
	return reqs
}

func compareRequests(a, b projection.Request) int {
	if c := cmp.Compare(a.BoardID, b.BoardID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ViewID, b.ViewID); c != 0 {
		return c
	}
	return cmp.Compare(a.Search, b.Search)
}

func touch(m map[string]Change, rootID string, t block.Type) {
	c := m[rootID]
	c.mark(t)
	m[rootID] = c
}

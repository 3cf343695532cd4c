// Package undo applies reversible commands to the local block store and the
// remote persistence collaborator, and keeps a bounded undo/redo history.
//
// Every command is applied locally first, so projections update before any
// round trip, then persisted change by change. If the remote rejects a
// change, the changes it already accepted are compensated and the local
// effect is rolled back: the local replica never keeps a write the remote
// refused.
//
// Each local write is stamped with a fresh version from a block.Clock. Undo
// and redo therefore write new versions carrying the old content instead of
// resurrecting old versions, which keeps them compatible with the store's
// last-writer-wins rule. A rollback after a rejection is different: it puts
// back the exact prior block, and only if nothing newer has landed since.
package undo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/blockstore"
)

// DefaultHistoryLimit bounds the undo stack when no limit is configured.
const DefaultHistoryLimit = 100

// Manager executes commands and owns the history.
//
// Thread-safety: Manager is safe for concurrent use. Execute, Undo, Redo
// and group boundaries run one at a time, each to completion including its
// remote calls. History accessors never wait for a remote call.
type Manager struct {
	store   *blockstore.Store
	remote  Persistence
	clock   *block.Clock
	limit   int
	user    string
	storeMu sync.Locker
	onApply func(rootIDs []string)

	seq sync.Mutex // serializes history-changing operations

	mu    sync.Mutex // guards undo, redo, group
	undo  []*Transaction
	redo  []*Transaction
	group *Transaction
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistoryLimit bounds the number of undoable transactions. The oldest
// entries are evicted first. Default: DefaultHistoryLimit.
func WithHistoryLimit(n int) Option {
	return func(m *Manager) {
		m.limit = n
	}
}

// WithUser sets the user recorded in ModifiedBy (and CreatedBy on inserts).
func WithUser(userID string) Option {
	return func(m *Manager) {
		m.user = userID
	}
}

// WithStoreLock makes every local apply and rollback hold l, so that they
// are atomic with respect to other writers sharing it.
func WithStoreLock(l sync.Locker) Option {
	return func(m *Manager) {
		m.storeMu = l
	}
}

// WithOnApply registers fn to run after every local apply or rollback with
// the root ids it touched. The replica uses it to rebuild projections.
func WithOnApply(fn func(rootIDs []string)) Option {
	return func(m *Manager) {
		m.onApply = fn
	}
}

// NewManager creates a manager writing to store and remote, stamping
// versions from clock.
func NewManager(store *blockstore.Store, remote Persistence, clock *block.Clock, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		remote:  remote,
		clock:   clock,
		limit:   DefaultHistoryLimit,
		storeMu: &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Execute applies cmd locally, persists it and records it in history. On
// failure the local effect is rolled back and a *CommandError is returned.
func (m *Manager) Execute(ctx context.Context, cmd *Command) error {
	if len(cmd.Changes) == 0 {
		return ErrEmptyCommand
	}

	m.seq.Lock()
	cmd.setState(Pending)
	writes, err := m.run(ctx, "execute", cmd.Description, cmd.Changes, func() { cmd.setState(AppliedLocally) })
	if err != nil {
		cmd.setState(Reverted)
		m.seq.Unlock()
		slog.Warn("command reverted", "description", cmd.Description, "error", err)
		if cmd.OnFailure != nil {
			cmd.OnFailure(err)
		}
		return err
	}

	// History replays what was written, including the defaults stamp filled in.
	for i, w := range writes {
		if w.change.After != nil {
			wrote := w.wrote.Clone()
			cmd.Changes[i].After = &wrote
		}
	}
	cmd.setState(Confirmed)
	m.mu.Lock()
	if m.group != nil {
		m.group.Commands = append(m.group.Commands, cmd)
	} else {
		m.push(&Transaction{ID: block.NewID(), Description: cmd.Description, Commands: []*Command{cmd}})
	}
	m.mu.Unlock()
	m.seq.Unlock()

	slog.Debug("command confirmed", "description", cmd.Description, "changes", len(cmd.Changes))
	if cmd.OnSuccess != nil {
		cmd.OnSuccess()
	}
	return nil
}

// Undo reverts the most recent transaction and moves it to the redo stack.
// If the remote rejects the undo, the transaction stays on the undo stack.
//
// Undo restores block content, not version bookkeeping: an undone update
// is written under a fresh UpdateAt so it wins last-writer-wins, and an
// undone insert leaves a tombstone rather than an absent entry. Compare
// with block.SameContent.
func (m *Manager) Undo(ctx context.Context) error {
	m.seq.Lock()
	defer m.seq.Unlock()

	m.mu.Lock()
	if m.group != nil {
		m.mu.Unlock()
		return ErrGroupOpen
	}
	if len(m.undo) == 0 {
		m.mu.Unlock()
		return ErrNothingToUndo
	}
	tx := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]
	m.mu.Unlock()

	_, err := m.run(ctx, "undo", tx.Description, tx.inverse(), nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.undo = append(m.undo, tx)
		return err
	}
	m.redo = append(m.redo, tx)
	slog.Debug("undone", "description", tx.Description, "tx_id", tx.ID)
	return nil
}

// Redo reapplies the most recently undone transaction.
func (m *Manager) Redo(ctx context.Context) error {
	m.seq.Lock()
	defer m.seq.Unlock()

	m.mu.Lock()
	if m.group != nil {
		m.mu.Unlock()
		return ErrGroupOpen
	}
	if len(m.redo) == 0 {
		m.mu.Unlock()
		return ErrNothingToRedo
	}
	tx := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.mu.Unlock()

	_, err := m.run(ctx, "redo", tx.Description, tx.forward(), nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.redo = append(m.redo, tx)
		return err
	}
	m.undo = append(m.undo, tx)
	m.trim()
	slog.Debug("redone", "description", tx.Description, "tx_id", tx.ID)
	return nil
}

// BeginGroup opens a group. Commands executed until EndGroup form one
// history entry.
func (m *Manager) BeginGroup() error {
	m.seq.Lock()
	defer m.seq.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.group != nil {
		return ErrGroupOpen
	}
	m.group = &Transaction{ID: block.NewID()}
	return nil
}

// EndGroup closes the open group and records it under description. An empty
// group records nothing.
func (m *Manager) EndGroup(description string) error {
	m.seq.Lock()
	defer m.seq.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.group == nil {
		return ErrNoGroup
	}
	tx := m.group
	m.group = nil
	tx.Description = description
	if len(tx.Commands) > 0 {
		m.push(tx)
	}
	return nil
}

// PerformAsGroup runs fn inside a group. If fn fails, the commands it
// already executed are reverted and nothing is recorded.
//
// Called while a group is already open, it joins that group instead of
// failing with ErrGroupOpen: fn's commands become part of the outer entry,
// and a failure reverts only what fn executed.
func (m *Manager) PerformAsGroup(ctx context.Context, description string, fn func(ctx context.Context) error) error {
	mark, nested := m.enterGroup()
	if err := fn(ctx); err != nil {
		if abortErr := m.abortGroup(ctx, description, mark, nested); abortErr != nil {
			return errors.Join(err, abortErr)
		}
		return err
	}
	if nested {
		return nil
	}
	return m.EndGroup(description)
}

// enterGroup opens a group or joins the open one. mark is the number of
// commands the group held on entry.
func (m *Manager) enterGroup() (mark int, nested bool) {
	m.seq.Lock()
	defer m.seq.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.group != nil {
		return len(m.group.Commands), true
	}
	m.group = &Transaction{ID: block.NewID()}
	return 0, false
}

// abortGroup reverts the group's commands from mark on. A nested abort
// leaves the group open with its earlier commands; otherwise the group is
// closed.
func (m *Manager) abortGroup(ctx context.Context, description string, mark int, nested bool) error {
	m.seq.Lock()
	defer m.seq.Unlock()

	m.mu.Lock()
	if m.group == nil || mark > len(m.group.Commands) {
		m.mu.Unlock()
		return nil
	}
	failed := &Transaction{Commands: slices.Clone(m.group.Commands[mark:])}
	if nested {
		m.group.Commands = slices.Clone(m.group.Commands[:mark])
	} else {
		m.group = nil
	}
	m.mu.Unlock()

	if len(failed.Commands) == 0 {
		return nil
	}
	_, err := m.run(ctx, "abort", description, failed.inverse(), nil)
	if err == nil {
		for _, cmd := range failed.Commands {
			cmd.setState(Reverted)
		}
	}
	return err
}

// CanUndo reports whether Undo has something to revert.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) > 0
}

// CanRedo reports whether Redo has something to reapply.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0
}

// UndoDescription describes the transaction Undo would revert, or "".
func (m *Manager) UndoDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.undo) == 0 {
		return ""
	}
	return m.undo[len(m.undo)-1].Description
}

// RedoDescription describes the transaction Redo would reapply, or "".
func (m *Manager) RedoDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.redo) == 0 {
		return ""
	}
	return m.redo[len(m.redo)-1].Description
}

// Depth returns the sizes of the undo and redo stacks.
func (m *Manager) Depth() (undo, redo int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo), len(m.redo)
}

// Referenced returns the ids of every block named by a history entry or the
// open group. Such blocks must stay in the store.
func (m *Manager) Referenced() map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]struct{})
	add := func(txs ...*Transaction) {
		for _, tx := range txs {
			if tx == nil {
				continue
			}
			for _, c := range tx.forward() {
				out[c.ID()] = struct{}{}
			}
		}
	}
	add(m.undo...)
	add(m.redo...)
	add(m.group)
	return out
}

// push records tx, clears the redo stack and enforces the limit. Callers
// hold mu.
func (m *Manager) push(tx *Transaction) {
	m.undo = append(m.undo, tx)
	m.redo = nil
	m.trim()
}

func (m *Manager) trim() {
	if m.limit <= 0 || len(m.undo) <= m.limit {
		return
	}
	evicted := len(m.undo) - m.limit
	m.undo = slices.Clone(m.undo[evicted:])
	slog.Debug("history evicted", "count", evicted)
}

// write is one locally applied change.
type write struct {
	change Change
	prior  *block.Block // store content before the write, nil if absent
	wrote  block.Block  // the stamped version written
}

// run applies changes locally, then persists them in order. On rejection it
// compensates the persisted prefix and rolls the local writes back.
func (m *Manager) run(ctx context.Context, op, description string, changes []Change, applied func()) ([]write, error) {
	writes, err := m.applyLocal(changes)
	if err != nil {
		return nil, &CommandError{Code: CodeLocalRejected, Description: description, Op: op, Err: err}
	}
	if applied != nil {
		applied()
	}

	for i, w := range writes {
		if err := m.persist(ctx, w.change, w.wrote); err != nil {
			code := CodeRemoteRejected
			if compErr := m.compensate(ctx, writes[:i]); compErr != nil {
				code = CodeRollbackFailed
				err = errors.Join(err, compErr)
			}
			m.rollback(writes)
			return nil, &CommandError{Code: code, Description: description, Op: op, Err: err}
		}
	}
	return writes, nil
}

func (m *Manager) applyLocal(changes []Change) ([]write, error) {
	m.storeMu.Lock()
	writes := make([]write, 0, len(changes))
	var err error
	for _, c := range changes {
		if c.ID() == "" {
			err = blockstore.ErrEmptyID
			break
		}
		w := write{change: c, wrote: m.stamp(c)}
		if prior, ok := m.store.Get(c.ID()); ok {
			w.prior = &prior
		}
		if _, err = m.store.Upsert(w.wrote); err != nil {
			err = fmt.Errorf("apply %s: %w", c.ID(), err)
			break
		}
		writes = append(writes, w)
	}
	if err != nil {
		m.restore(writes)
	}
	m.storeMu.Unlock()

	m.notify(writes)
	if err != nil {
		return nil, err
	}
	return writes, nil
}

// stamp returns the block to write for c under a fresh version.
func (m *Manager) stamp(c Change) block.Block {
	ts := m.clock.Next()
	if c.After == nil {
		return c.Before.Tombstone(ts, m.user)
	}
	b := c.After.Clone()
	b.UpdateAt = ts
	b.DeleteAt = 0
	if m.user != "" {
		b.ModifiedBy = m.user
	}
	if b.CreateAt == 0 {
		b.CreateAt = ts
		if b.CreatedBy == "" {
			b.CreatedBy = m.user
		}
	}
	return b
}

func (m *Manager) persist(ctx context.Context, c Change, b block.Block) error {
	switch {
	case c.After == nil:
		return m.remote.Delete(ctx, b)
	case c.Before == nil:
		return m.remote.Create(ctx, b)
	default:
		return m.remote.Update(ctx, b)
	}
}

// compensate asks the remote to undo writes it already accepted, newest
// first. Every write is attempted; the failures are joined.
func (m *Manager) compensate(ctx context.Context, writes []write) error {
	var errs []error
	for i := len(writes) - 1; i >= 0; i-- {
		inv := writes[i].change.inverse()
		if err := m.persist(ctx, inv, m.stamp(inv)); err != nil {
			errs = append(errs, fmt.Errorf("compensate %s: %w", inv.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// rollback restores the store to its state before writes.
func (m *Manager) rollback(writes []write) {
	m.storeMu.Lock()
	m.restore(writes)
	m.storeMu.Unlock()
	m.notify(writes)
}

// restore undoes writes newest first. A block that received a newer
// version since is left alone. Callers hold storeMu.
func (m *Manager) restore(writes []write) {
	for i := len(writes) - 1; i >= 0; i-- {
		w := writes[i]
		if !m.store.CompareAndRestore(w.wrote.ID, w.wrote.UpdateAt, w.prior) {
			slog.Debug("rollback skipped, block changed since", "block_id", w.wrote.ID)
		}
	}
}

func (m *Manager) notify(writes []write) {
	if m.onApply == nil || len(writes) == 0 {
		return
	}
	var roots []string
	for _, w := range writes {
		roots = append(roots, w.wrote.RootID)
		if w.prior != nil && w.prior.RootID != w.wrote.RootID {
			roots = append(roots, w.prior.RootID)
		}
	}
	slices.Sort(roots)
	m.onApply(slices.Compact(roots))
}

package undo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/blockstore"
	"github.com/roach88/boardreplica/internal/testutil"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

var errRejected = errors.New("rejected by server")

// call is one request the fake remote received.
type call struct {
	Op string
	ID string
}

// fakeRemote records calls and fails the ones matched by failOn.
type fakeRemote struct {
	mu     sync.Mutex
	calls  []call
	failOn func(c call, n int) bool
}

func (f *fakeRemote) do(op string, b block.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := call{Op: op, ID: b.ID}
	f.calls = append(f.calls, c)
	if f.failOn != nil && f.failOn(c, len(f.calls)) {
		return errRejected
	}
	return nil
}

func (f *fakeRemote) Create(_ context.Context, b block.Block) error { return f.do("create", b) }
func (f *fakeRemote) Update(_ context.Context, b block.Block) error { return f.do("update", b) }
func (f *fakeRemote) Delete(_ context.Context, b block.Block) error { return f.do("delete", b) }

func (f *fakeRemote) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func failOps(ops ...call) func(call, int) bool {
	return func(c call, _ int) bool {
		for _, op := range ops {
			if op == c {
				return true
			}
		}
		return false
	}
}

func setup(t *testing.T, opts ...Option) (*Manager, *blockstore.Store, *fakeRemote) {
	t.Helper()
	s := testutil.NewStore(t, testutil.StatusBoard()...)
	remote := &fakeRemote{}
	clock, _ := testutil.NewClock(1000)
	return NewManager(s, remote, clock, append([]Option{WithUser("u1")}, opts...)...), s, remote
}

func get(t *testing.T, s *blockstore.Store, id string) block.Block {
	t.Helper()
	b, ok := s.Get(id)
	require.True(t, ok, "block %s missing", id)
	return b
}

func retitle(b block.Block, title string) block.Block {
	out := b.Clone()
	out.Title = title
	return out
}

func TestExecute_AppliesAndConfirms(t *testing.T) {
	m, s, remote := setup(t)
	c1 := get(t, s, "c1")

	var succeeded bool
	cmd := NewCommand("rename", Update(c1, retitle(c1, "Renamed")))
	cmd.OnSuccess = func() { succeeded = true }

	require.NoError(t, m.Execute(context.Background(), cmd))

	got := get(t, s, "c1")
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, int64(1000), got.UpdateAt)
	assert.Equal(t, "u1", got.ModifiedBy)
	assert.Equal(t, Confirmed, cmd.State())
	assert.True(t, succeeded)
	assert.Equal(t, []call{{"update", "c1"}}, remote.Calls())
	assert.True(t, m.CanUndo())
	assert.False(t, m.CanRedo())
	assert.Equal(t, "rename", m.UndoDescription())
}

func TestExecute_Empty(t *testing.T) {
	m, _, _ := setup(t)
	assert.ErrorIs(t, m.Execute(context.Background(), NewCommand("nothing")), ErrEmptyCommand)
	assert.False(t, m.CanUndo())
}

func TestExecute_AppliedLocallyBeforeRemote(t *testing.T) {
	s := testutil.NewStore(t, testutil.StatusBoard()...)
	clock, _ := testutil.NewClock(1000)

	var seen string
	remote := &watchingRemote{onCall: func() {
		b, _ := s.Get("c1")
		seen = b.Title
	}}
	var cmd *Command
	remote.state = func() State { return cmd.State() }
	m := NewManager(s, remote, clock)

	c1 := get(t, s, "c1")
	cmd = NewCommand("rename", Update(c1, retitle(c1, "Optimistic")))
	require.NoError(t, m.Execute(context.Background(), cmd))

	assert.Equal(t, "Optimistic", seen)
	assert.Equal(t, AppliedLocally, remote.stateDuringCall)
}

// watchingRemote observes the local store while a request is in flight.
type watchingRemote struct {
	onCall          func()
	state           func() State
	stateDuringCall State
}

func (p *watchingRemote) observe() error {
	p.onCall()
	p.stateDuringCall = p.state()
	return nil
}

func (p *watchingRemote) Create(context.Context, block.Block) error { return p.observe() }
func (p *watchingRemote) Update(context.Context, block.Block) error { return p.observe() }
func (p *watchingRemote) Delete(context.Context, block.Block) error { return p.observe() }

func TestExecute_RejectedInsertLeavesNoTrace(t *testing.T) {
	m, s, remote := setup(t)
	remote.failOn = failOps(call{"create", "c3"})

	var failure error
	cmd := NewCommand("add card", Insert(testutil.Card("c3", "b1", "Third", 0)))
	cmd.OnFailure = func(err error) { failure = err }

	err := m.Execute(context.Background(), cmd)
	require.Error(t, err)
	assert.True(t, IsRemoteRejected(err))
	assert.False(t, IsRollbackFailed(err))
	assert.ErrorIs(t, err, errRejected)
	assert.Equal(t, err, failure)

	_, ok := s.Get("c3")
	assert.False(t, ok, "rejected insert must leave the block absent")
	assert.Equal(t, Reverted, cmd.State())
	assert.False(t, m.CanUndo())
}

func TestExecute_RejectedUpdateRestoresPrior(t *testing.T) {
	m, s, remote := setup(t)
	remote.failOn = failOps(call{"update", "c1"})
	before := get(t, s, "c1")

	err := m.Execute(context.Background(), NewCommand("rename", Update(before, retitle(before, "Nope"))))
	require.Error(t, err)

	assert.True(t, block.Equal(before, get(t, s, "c1")), "prior version restored exactly")
}

func TestExecute_CompensatesAcceptedChanges(t *testing.T) {
	m, s, remote := setup(t)
	remote.failOn = failOps(call{"update", "c2"})
	c1, c2 := get(t, s, "c1"), get(t, s, "c2")

	err := m.Execute(context.Background(), NewCommand("rename both",
		Update(c1, retitle(c1, "A")),
		Update(c2, retitle(c2, "B")),
	))
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, CodeRemoteRejected, cmdErr.Code)
	assert.Equal(t, "execute", cmdErr.Op)

	assert.Equal(t, []call{{"update", "c1"}, {"update", "c2"}, {"update", "c1"}}, remote.Calls())
	assert.True(t, block.Equal(c1, get(t, s, "c1")))
	assert.True(t, block.Equal(c2, get(t, s, "c2")))
}

func TestExecute_RollbackFailed(t *testing.T) {
	m, s, remote := setup(t)
	c1, c2 := get(t, s, "c1"), get(t, s, "c2")
	// Second call (c2) is rejected and so is the third (compensating c1).
	remote.failOn = func(_ call, n int) bool { return n >= 2 }

	err := m.Execute(context.Background(), NewCommand("rename both",
		Update(c1, retitle(c1, "A")),
		Update(c2, retitle(c2, "B")),
	))
	require.Error(t, err)
	assert.True(t, IsRollbackFailed(err))
	assert.True(t, IsRemoteRejected(err))

	// The local side is rolled back regardless.
	assert.Equal(t, "First", get(t, s, "c1").Title)
	assert.Equal(t, "Second", get(t, s, "c2").Title)
}

func TestExecute_RollbackKeepsNewerWrite(t *testing.T) {
	s := testutil.NewStore(t, testutil.StatusBoard()...)
	clock, _ := testutil.NewClock(1000)
	remote := &fakeRemote{}
	remote.failOn = func(c call, _ int) bool {
		// A remote update lands while the request is in flight.
		newer := retitle(get(t, s, "c1"), "From server")
		newer.UpdateAt = 5000
		_, err := s.Upsert(newer)
		require.NoError(t, err)
		return true
	}
	m := NewManager(s, remote, clock)

	c1 := get(t, s, "c1")
	require.Error(t, m.Execute(context.Background(), NewCommand("rename", Update(c1, retitle(c1, "Mine")))))
	assert.Equal(t, "From server", get(t, s, "c1").Title)
}

func TestUndoRedo_Update(t *testing.T) {
	m, s, remote := setup(t)
	ctx := context.Background()
	before := get(t, s, "c1")

	require.NoError(t, m.Execute(ctx, NewCommand("rename", Update(before, retitle(before, "Renamed")))))
	require.NoError(t, m.Undo(ctx))

	got := get(t, s, "c1")
	assert.True(t, block.SameContent(before, got))
	assert.Greater(t, got.UpdateAt, int64(1000), "undo writes a fresh version")
	assert.True(t, m.CanRedo())
	assert.Equal(t, "rename", m.RedoDescription())
	assert.Empty(t, m.UndoDescription())

	require.NoError(t, m.Redo(ctx))
	assert.Equal(t, "Renamed", get(t, s, "c1").Title)
	assert.True(t, m.CanUndo())
	assert.False(t, m.CanRedo())

	assert.Equal(t, []call{{"update", "c1"}, {"update", "c1"}, {"update", "c1"}}, remote.Calls())
}

func TestUndo_InsertTombstones(t *testing.T) {
	m, s, remote := setup(t)
	ctx := context.Background()

	require.NoError(t, m.Execute(ctx, NewCommand("add card", Insert(testutil.Card("c3", "b1", "Third", 0)))))
	created := get(t, s, "c3")
	assert.NotZero(t, created.CreateAt)
	assert.Equal(t, "u1", created.CreatedBy)

	require.NoError(t, m.Undo(ctx))
	assert.True(t, get(t, s, "c3").IsDeleted())

	require.NoError(t, m.Redo(ctx))
	redone := get(t, s, "c3")
	assert.False(t, redone.IsDeleted())
	assert.True(t, block.SameContent(created, redone))

	assert.Equal(t, []call{{"create", "c3"}, {"delete", "c3"}, {"create", "c3"}}, remote.Calls())
}

func TestUndo_DeleteRestores(t *testing.T) {
	m, s, _ := setup(t)
	ctx := context.Background()
	before := get(t, s, "c2")

	require.NoError(t, m.Execute(ctx, NewCommand("delete card", Delete(before))))
	assert.True(t, get(t, s, "c2").IsDeleted())

	require.NoError(t, m.Undo(ctx))
	assert.True(t, block.SameContent(before, get(t, s, "c2")))
}

func TestUndo_RemoteFailureKeepsHistory(t *testing.T) {
	m, s, remote := setup(t)
	ctx := context.Background()
	before := get(t, s, "c1")

	require.NoError(t, m.Execute(ctx, NewCommand("rename", Update(before, retitle(before, "Renamed")))))
	remote.failOn = func(call, int) bool { return true }

	err := m.Undo(ctx)
	require.Error(t, err)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "undo", cmdErr.Op)

	assert.Equal(t, "Renamed", get(t, s, "c1").Title)
	assert.True(t, m.CanUndo())
	assert.False(t, m.CanRedo())

	remote.failOn = nil
	require.NoError(t, m.Undo(ctx))
	assert.Equal(t, "First", get(t, s, "c1").Title)
}

func TestUndoRedo_Empty(t *testing.T) {
	m, _, _ := setup(t)
	assert.ErrorIs(t, m.Undo(context.Background()), ErrNothingToUndo)
	assert.ErrorIs(t, m.Redo(context.Background()), ErrNothingToRedo)
}

func TestExecute_ClearsRedo(t *testing.T) {
	m, s, _ := setup(t)
	ctx := context.Background()
	c1 := get(t, s, "c1")

	require.NoError(t, m.Execute(ctx, NewCommand("one", Update(c1, retitle(c1, "One")))))
	require.NoError(t, m.Undo(ctx))
	require.True(t, m.CanRedo())

	c1 = get(t, s, "c1")
	require.NoError(t, m.Execute(ctx, NewCommand("two", Update(c1, retitle(c1, "Two")))))
	assert.False(t, m.CanRedo())
}

func TestHistoryLimit(t *testing.T) {
	m, s, _ := setup(t, WithHistoryLimit(2))
	ctx := context.Background()

	for _, title := range []string{"A", "B", "C"} {
		cur := get(t, s, "c1")
		require.NoError(t, m.Execute(ctx, NewCommand("to "+title, Update(cur, retitle(cur, title)))))
	}
	undo, redo := m.Depth()
	assert.Equal(t, 2, undo)
	assert.Zero(t, redo)

	require.NoError(t, m.Undo(ctx))
	require.NoError(t, m.Undo(ctx))
	assert.ErrorIs(t, m.Undo(ctx), ErrNothingToUndo)
	assert.Equal(t, "A", get(t, s, "c1").Title, "the oldest entry was evicted")
}

func TestGroup_UndoesAsOne(t *testing.T) {
	m, s, _ := setup(t)
	ctx := context.Background()
	c1, c2 := get(t, s, "c1"), get(t, s, "c2")

	require.NoError(t, m.BeginGroup())
	require.NoError(t, m.Execute(ctx, NewCommand("a", Update(c1, retitle(c1, "A")))))
	require.NoError(t, m.Execute(ctx, NewCommand("b", Update(c2, retitle(c2, "B")))))
	assert.False(t, m.CanUndo(), "nothing recorded while the group is open")
	assert.ErrorIs(t, m.Undo(ctx), ErrGroupOpen)
	require.NoError(t, m.EndGroup("rename both"))

	undo, _ := m.Depth()
	assert.Equal(t, 1, undo)
	assert.Equal(t, "rename both", m.UndoDescription())

	require.NoError(t, m.Undo(ctx))
	assert.Equal(t, "First", get(t, s, "c1").Title)
	assert.Equal(t, "Second", get(t, s, "c2").Title)

	require.NoError(t, m.Redo(ctx))
	assert.Equal(t, "A", get(t, s, "c1").Title)
	assert.Equal(t, "B", get(t, s, "c2").Title)
}

func TestGroup_Errors(t *testing.T) {
	m, _, _ := setup(t)

	assert.ErrorIs(t, m.EndGroup("x"), ErrNoGroup)
	require.NoError(t, m.BeginGroup())
	assert.ErrorIs(t, m.BeginGroup(), ErrGroupOpen)
	assert.ErrorIs(t, m.Redo(context.Background()), ErrGroupOpen)
	require.NoError(t, m.EndGroup("empty"))
	assert.False(t, m.CanUndo(), "an empty group records nothing")
}

func TestPerformAsGroup(t *testing.T) {
	m, s, _ := setup(t)
	ctx := context.Background()

	err := m.PerformAsGroup(ctx, "add with content", func(ctx context.Context) error {
		if err := m.Execute(ctx, NewCommand("card", Insert(testutil.Card("c3", "b1", "Third", 0)))); err != nil {
			return err
		}
		return m.Execute(ctx, NewCommand("text", Insert(testutil.Content("t1", "c3", "b1", block.TypeText, "hello", 0))))
	})
	require.NoError(t, err)
	assert.Equal(t, "add with content", m.UndoDescription())

	require.NoError(t, m.Undo(ctx))
	assert.True(t, get(t, s, "c3").IsDeleted())
	assert.True(t, get(t, s, "t1").IsDeleted())
}

func TestPerformAsGroup_AbortReverts(t *testing.T) {
	m, s, remote := setup(t)
	remote.failOn = failOps(call{"create", "t1"})
	ctx := context.Background()

	var first *Command
	err := m.PerformAsGroup(ctx, "add with content", func(ctx context.Context) error {
		first = NewCommand("card", Insert(testutil.Card("c3", "b1", "Third", 0)))
		if err := m.Execute(ctx, first); err != nil {
			return err
		}
		return m.Execute(ctx, NewCommand("text", Insert(testutil.Content("t1", "c3", "b1", block.TypeText, "hello", 0))))
	})
	require.Error(t, err)
	assert.True(t, IsRemoteRejected(err))

	assert.True(t, get(t, s, "c3").IsDeleted(), "the accepted card is reverted")
	_, ok := s.Get("t1")
	assert.False(t, ok)
	assert.Equal(t, Reverted, first.State())
	assert.False(t, m.CanUndo())

	// The group is closed after an abort.
	require.NoError(t, m.BeginGroup())
	require.NoError(t, m.EndGroup("next"))
}

func TestPerformAsGroup_JoinsOpenGroup(t *testing.T) {
	m, s, _ := setup(t)
	ctx := context.Background()
	c1 := get(t, s, "c1")

	require.NoError(t, m.BeginGroup())
	require.NoError(t, m.Execute(ctx, NewCommand("rename", Update(c1, retitle(c1, "A")))))
	err := m.PerformAsGroup(ctx, "add card", func(ctx context.Context) error {
		return m.Execute(ctx, NewCommand("card", Insert(testutil.Card("c3", "b1", "Third", 0))))
	})
	require.NoError(t, err)
	assert.False(t, m.CanUndo(), "the outer group is still open")
	require.NoError(t, m.EndGroup("rename and add"))

	undos, _ := m.Depth()
	assert.Equal(t, 1, undos)
	assert.Equal(t, "rename and add", m.UndoDescription())

	require.NoError(t, m.Undo(ctx))
	assert.Equal(t, "First", get(t, s, "c1").Title)
	assert.True(t, get(t, s, "c3").IsDeleted())
}

func TestPerformAsGroup_NestedAbortKeepsOuterCommands(t *testing.T) {
	m, s, remote := setup(t)
	remote.failOn = failOps(call{"create", "t1"})
	ctx := context.Background()
	c1 := get(t, s, "c1")

	require.NoError(t, m.BeginGroup())
	require.NoError(t, m.Execute(ctx, NewCommand("rename", Update(c1, retitle(c1, "A")))))
	err := m.PerformAsGroup(ctx, "add with content", func(ctx context.Context) error {
		if err := m.Execute(ctx, NewCommand("card", Insert(testutil.Card("c3", "b1", "Third", 0)))); err != nil {
			return err
		}
		return m.Execute(ctx, NewCommand("text", Insert(testutil.Content("t1", "c3", "b1", block.TypeText, "hello", 0))))
	})
	require.Error(t, err)
	assert.True(t, get(t, s, "c3").IsDeleted(), "the nested card is reverted")
	assert.Equal(t, "A", get(t, s, "c1").Title, "the outer rename stays")

	require.NoError(t, m.EndGroup("rename"))
	require.NoError(t, m.Undo(ctx))
	assert.Equal(t, "First", get(t, s, "c1").Title)
	assert.False(t, m.CanUndo())
}

func TestReferenced(t *testing.T) {
	m, s, _ := setup(t)
	ctx := context.Background()
	c1 := get(t, s, "c1")

	require.NoError(t, m.Execute(ctx, NewCommand("rename", Update(c1, retitle(c1, "A")))))
	require.NoError(t, m.Execute(ctx, NewCommand("add", Insert(testutil.Card("c3", "b1", "Third", 0)))))
	require.NoError(t, m.Undo(ctx))

	ref := m.Referenced()
	assert.Contains(t, ref, "c1")
	assert.Contains(t, ref, "c3")
	assert.NotContains(t, ref, "c2")
}

func TestOnApply_ReportsRoots(t *testing.T) {
	var mu sync.Mutex
	var got [][]string
	m, s, _ := setup(t, WithOnApply(func(roots []string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, roots)
	}))
	c1 := get(t, s, "c1")

	require.NoError(t, m.Execute(context.Background(), NewCommand("rename", Update(c1, retitle(c1, "A")))))
	assert.Equal(t, [][]string{{"b1"}}, got)
}

func TestLocalRejected(t *testing.T) {
	m, s, remote := setup(t)
	c1 := get(t, s, "c1")
	bad := retitle(c1, "Bad")
	bad.Fields = &block.BoardFields{}

	err := m.Execute(context.Background(), NewCommand("bad", Update(c1, bad)))
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, CodeLocalRejected, cmdErr.Code)
	assert.Empty(t, remote.Calls())
	assert.True(t, block.Equal(c1, get(t, s, "c1")))
}

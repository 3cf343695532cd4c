package blockstore

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardreplica/internal/block"
)

func card(id, root string, updateAt int64, title string) block.Block {
	return block.Block{
		Header: block.Header{ID: id, ParentID: root, RootID: root, Type: block.TypeCard, Title: title, UpdateAt: updateAt},
		Fields: &block.CardFields{Properties: map[string]block.Value{}},
	}
}

func TestUpsert_LastWriterWins(t *testing.T) {
	s := New()

	out, err := s.Upsert(card("c1", "b1", 10, "first"))
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	out, err = s.Upsert(card("c1", "b1", 20, "second"))
	require.NoError(t, err)
	assert.Equal(t, Updated, out)

	out, err = s.Upsert(card("c1", "b1", 15, "older"))
	assert.ErrorIs(t, err, ErrStaleWrite)
	assert.Equal(t, Unchanged, out)

	got, ok := s.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "second", got.Title)
}

func TestUpsert_DuplicateIsNoOp(t *testing.T) {
	s := New()
	_, err := s.Upsert(card("c1", "b1", 10, "x"))
	require.NoError(t, err)

	out, err := s.Upsert(card("c1", "b1", 10, "x"))
	require.NoError(t, err)
	assert.False(t, out.Changed())
	assert.Equal(t, 1, s.Len())
}

func TestUpsert_TombstoneWinsTie(t *testing.T) {
	live := card("c1", "b1", 10, "x")
	dead := live.Tombstone(10, "")

	a := New()
	_, _ = a.Upsert(live)
	out, err := a.Upsert(dead)
	require.NoError(t, err)
	assert.Equal(t, Updated, out)

	b := New()
	_, _ = b.Upsert(dead)
	out, err = b.Upsert(live)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)

	ga, _ := a.Get("c1")
	gb, _ := b.Get("c1")
	assert.True(t, block.Equal(ga, gb))
}

func TestUpsert_Rejects(t *testing.T) {
	s := New()

	_, err := s.Upsert(block.Block{})
	assert.ErrorIs(t, err, ErrEmptyID)

	_, err = s.Upsert(block.Block{Header: block.Header{ID: "x", Type: block.TypeBoard}, Fields: &block.CardFields{}})
	assert.ErrorIs(t, err, block.ErrFieldsMismatch)
	assert.Equal(t, 0, s.Len())
}

func TestUpsert_IsolatesCallerMutation(t *testing.T) {
	s := New()
	c := card("c1", "b1", 1, "x")
	_, err := s.Upsert(c)
	require.NoError(t, err)

	c.Fields.(*block.CardFields).Properties["p"] = block.Text("leak")
	got, _ := s.Get("c1")
	got.Fields.(*block.CardFields).Properties["q"] = block.Text("leak")

	again, _ := s.Get("c1")
	assert.Empty(t, again.Fields.(*block.CardFields).Properties)
}

func TestUpsert_Commutative(t *testing.T) {
	// The same writes delivered in any order converge.
	writes := []block.Block{
		card("a", "b1", 1, "a1"),
		card("a", "b1", 5, "a5"),
		card("a", "b1", 3, "a3"),
		card("b", "b1", 2, "b2"),
		card("b", "b1", 2, "b2").Tombstone(2, ""),
		card("c", "b2", 7, "c7"),
		card("c", "b2", 4, "c4"),
	}

	reference := New()
	for _, w := range writes {
		_, _ = reference.Upsert(w)
	}
	want := reference.Snapshot()

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := append([]block.Block(nil), writes...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		s := New()
		for _, w := range shuffled {
			_, _ = s.Upsert(w)
		}
		got := s.Snapshot()
		require.Len(t, got, len(want))
		for j := range want {
			assert.True(t, block.Equal(want[j], got[j]), "order %d block %s", i, want[j].ID)
		}
	}
}

func TestAllByRoot_FollowsRootChanges(t *testing.T) {
	s := New()
	_, _ = s.Upsert(card("c1", "b1", 1, "x"))
	_, _ = s.Upsert(card("c2", "b1", 1, "y"))
	_, _ = s.Upsert(card("c3", "b2", 1, "z"))

	assert.Len(t, s.AllByRoot("b1"), 2)
	assert.Len(t, s.AllByRoot("b2"), 1)
	assert.Empty(t, s.AllByRoot("missing"))

	_, _ = s.Upsert(card("c1", "b2", 2, "moved"))
	assert.Len(t, s.AllByRoot("b1"), 1)
	assert.Len(t, s.AllByRoot("b2"), 2)
}

func TestCompareAndRestore(t *testing.T) {
	s := New()
	before := card("c1", "b1", 10, "before")
	_, _ = s.Upsert(before)
	_, _ = s.Upsert(card("c1", "b1", 20, "optimistic"))

	assert.False(t, s.CompareAndRestore("c1", 19, &before), "wrong version must not restore")
	assert.True(t, s.CompareAndRestore("c1", 20, &before))
	got, _ := s.Get("c1")
	assert.True(t, block.Equal(before, got))

	_, _ = s.Upsert(card("n1", "b1", 30, "new"))
	assert.True(t, s.CompareAndRestore("n1", 30, nil))
	_, ok := s.Get("n1")
	assert.False(t, ok)
	assert.Len(t, s.AllByRoot("b1"), 1)

	assert.False(t, s.CompareAndRestore("n1", 30, nil))
}

func TestRemoveAndTombstones(t *testing.T) {
	s := New()
	_, _ = s.Upsert(card("c1", "b1", 1, "x").Tombstone(5, ""))
	_, _ = s.Upsert(card("c2", "b1", 1, "y").Tombstone(50, ""))
	_, _ = s.Upsert(card("c3", "b1", 1, "z"))

	assert.Equal(t, []string{"c1"}, s.Tombstones(10))
	assert.Equal(t, []string{"c1", "c2"}, s.Tombstones(100))

	assert.True(t, s.Remove("c1"))
	assert.False(t, s.Remove("c1"))
	assert.Equal(t, 2, s.Len())
}

func TestRoots(t *testing.T) {
	s := New()
	board := block.Block{Header: block.Header{ID: "b1", RootID: "b1", Type: block.TypeBoard, UpdateAt: 1}, Fields: &block.BoardFields{}}
	_, _ = s.Upsert(board)
	_, _ = s.Upsert(card("c1", "b1", 1, "x"))

	roots := s.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, "b1", roots[0].ID)
}

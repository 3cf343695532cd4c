package projection

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/testutil"
)

// A golden snapshot recorded from one store must match a rebuild from an
// independently seeded store with the same contents.
func TestBuild_GoldenSnapshotIsReproducible(t *testing.T) {
	seed := func() []block.Block {
		blocks := testutil.StatusBoard()
		blocks = append(blocks,
			testutil.View("v2", "b1", "Table", block.ViewTable, "status"),
			testutil.Content("t1", "c1", "b1", block.TypeText, "first line", 11),
			testutil.Comment("m1", "c1", "b1", "looks good", 12),
		)
		blocks[1].Fields.(*block.ViewFields).ColumnCalculations = map[string]string{block.TitlePropertyID: CalcCount}
		return blocks
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(t.TempDir()),
		goldie.WithNameSuffix(".golden"),
	)

	first, err := NewBuilder(testutil.NewStore(t, seed()...)).Build(Request{BoardID: "b1", ViewID: "v1"})
	require.NoError(t, err)
	recorded, err := first.Canonical()
	require.NoError(t, err)
	require.NoError(t, g.Update(t, "status_board", recorded))

	second, err := NewBuilder(testutil.NewStore(t, seed()...)).Build(Request{BoardID: "b1", ViewID: "v1"})
	require.NoError(t, err)
	rebuilt, err := second.Canonical()
	require.NoError(t, err)
	g.Assert(t, "status_board", rebuilt)
}

package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/blockstore"
)

// Option returns a select option.
func Option(id, value string) block.PropertyOption {
	return block.PropertyOption{ID: id, Value: value}
}

// SelectProperty returns a select property template.
func SelectProperty(id, name string, options ...block.PropertyOption) block.PropertyTemplate {
	return block.PropertyTemplate{ID: id, Name: name, Type: block.PropertySelect, Options: options}
}

// Property returns a property template without options.
func Property(id, name string, t block.PropertyType) block.PropertyTemplate {
	return block.PropertyTemplate{ID: id, Name: name, Type: t}
}

// Board returns a live root board stamped at version 1.
func Board(id, title string, props ...block.PropertyTemplate) block.Block {
	return block.Block{
		Header: block.Header{ID: id, RootID: id, Type: block.TypeBoard, Title: title, CreateAt: 1, UpdateAt: 1},
		Fields: &block.BoardFields{CardProperties: props},
	}
}

// View returns a live view of boardID grouped by groupBy.
func View(id, boardID, title string, vt block.ViewType, groupBy string) block.Block {
	return block.Block{
		Header: block.Header{ID: id, ParentID: boardID, RootID: boardID, Type: block.TypeView, Title: title, CreateAt: 1, UpdateAt: 1},
		Fields: &block.ViewFields{ViewType: vt, GroupByID: groupBy, Filter: block.FilterGroup{Operation: block.FilterAnd}},
	}
}

// Card returns a live card of boardID created and stamped at createAt.
// props alternates property ids and values: Card("c", "b", "t", 1, "status", "todo").
func Card(id, boardID, title string, createAt int64, props ...string) block.Block {
	values := make(map[string]block.Value, len(props)/2)
	for i := 0; i+1 < len(props); i += 2 {
		values[props[i]] = block.Text(props[i+1])
	}
	return block.Block{
		Header: block.Header{ID: id, ParentID: boardID, RootID: boardID, Type: block.TypeCard, Title: title, CreateAt: createAt, UpdateAt: createAt},
		Fields: &block.CardFields{Properties: values},
	}
}

// Content returns a live content block of type t under cardID.
func Content(id, cardID, boardID string, t block.Type, title string, createAt int64) block.Block {
	return block.Block{
		Header: block.Header{ID: id, ParentID: cardID, RootID: boardID, Type: t, Title: title, CreateAt: createAt, UpdateAt: createAt},
		Fields: &block.ContentFields{},
	}
}

// Comment returns a live comment under cardID.
func Comment(id, cardID, boardID, text string, createAt int64) block.Block {
	return block.Block{
		Header: block.Header{ID: id, ParentID: cardID, RootID: boardID, Type: block.TypeComment, Title: text, CreateAt: createAt, UpdateAt: createAt},
		Fields: &block.CommentFields{},
	}
}

// StatusBoard returns the board "b1" with a Status select property
// {todo: Todo, done: Done}, its board view "v1" grouped by status, and the
// cards c1 (Status=Todo) and c2 (no Status).
func StatusBoard() []block.Block {
	return []block.Block{
		Board("b1", "Board", SelectProperty("status", "Status", Option("todo", "Todo"), Option("done", "Done"))),
		View("v1", "b1", "Board view", block.ViewBoard, "status"),
		Card("c1", "b1", "First", 10, "status", "todo"),
		Card("c2", "b1", "Second", 20),
	}
}

// Seed upserts blocks into s, failing the test on error.
func Seed(t testing.TB, s *blockstore.Store, blocks ...block.Block) {
	t.Helper()
	for _, b := range blocks {
		_, err := s.Upsert(b)
		require.NoError(t, err, "seed %s", b.ID)
	}
}

// NewStore returns a store seeded with blocks.
func NewStore(t testing.TB, blocks ...block.Block) *blockstore.Store {
	t.Helper()
	s := blockstore.New()
	Seed(t, s, blocks...)
	return s
}

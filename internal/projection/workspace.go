package projection

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"

	"github.com/roach88/boardreplica/internal/block"
)

// Workspace lists the live boards of the replica.
type Workspace struct {
	Boards    []block.Block
	Templates []block.Block
}

// Workspace returns the live root boards, split into boards and board
// templates, each ordered by title then id.
func (bld *Builder) Workspace() Workspace {
	col := collate.New(bld.lang)
	var ws Workspace
	for _, b := range bld.src.Roots() {
		if b.IsDeleted() || b.Type != block.TypeBoard {
			continue
		}
		if bf, ok := b.Board(); ok && bf.IsTemplate {
			ws.Templates = append(ws.Templates, b)
		} else {
			ws.Boards = append(ws.Boards, b)
		}
	}
	byTitle := func(a, b block.Block) int {
		if c := col.CompareString(a.Title, b.Title); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	}
	slices.SortFunc(ws.Boards, byTitle)
	slices.SortFunc(ws.Templates, byTitle)
	return ws
}

package projection

import (
	"errors"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/roach88/boardreplica/internal/block"
)

// ErrNotFound reports that the board or view of a request is absent or
// tombstoned. Callers treat it as "board no longer available".
var ErrNotFound = errors.New("projection not found")

// Source is the read side of the block store.
type Source interface {
	AllByRoot(rootID string) []block.Block
	Roots() []block.Block
}

// Request selects what to project.
type Request struct {
	BoardID string
	// ViewID may be empty to select the board's first view by title.
	ViewID string
	// Search keeps only cards whose title or property text contains it,
	// case-insensitively.
	Search string
}

// Builder builds projections from a Source.
//
// Thread-safety: Builder is safe for concurrent use; each Build works on its
// own copy of the blocks.
type Builder struct {
	src  Source
	lang language.Tag
}

// Option configures a Builder.
type Option func(*Builder)

// WithLanguage sets the collation language used for title ordering.
// Default: language.Und (root collation).
func WithLanguage(tag language.Tag) Option {
	return func(b *Builder) {
		b.lang = tag
	}
}

// NewBuilder creates a builder reading from src.
func NewBuilder(src Source, opts ...Option) *Builder {
	b := &Builder{src: src, lang: language.Und}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces the projection for req or ErrNotFound.
func (bld *Builder) Build(req Request) (*Projection, error) {
	ix := newIndex(req.BoardID, bld.src.AllByRoot(req.BoardID))

	board, ok := ix.visibleBoard()
	if !ok {
		return nil, ErrNotFound
	}
	bf, _ := board.Board()

	col := collate.New(bld.lang)

	var views, cards, templates []block.Block
	for _, b := range ix.blocks {
		if !ix.isVisible(b.ID) {
			continue
		}
		switch b.Type {
		case block.TypeView:
			views = append(views, b)
		case block.TypeCard:
			if cf, _ := b.Card(); cf != nil && cf.IsTemplate {
				templates = append(templates, b)
			} else {
				cards = append(cards, b)
			}
		}
	}
	byTitle := func(a, b block.Block) int {
		if c := col.CompareString(a.Title, b.Title); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	}
	slices.SortFunc(views, byTitle)
	slices.SortFunc(templates, byTitle)

	view, ok := pickView(views, req.ViewID)
	if !ok {
		return nil, ErrNotFound
	}
	vf, _ := view.View()

	props := newProperties(bf)
	cards = filterCards(cards, vf.Filter, props)
	cards = searchCards(cards, req.Search, props)

	s := &sorter{col: col, props: props, opts: vf.SortOptions, cardOrder: vf.CardOrder}
	s.sort(cards)

	p := &Projection{
		board:        board,
		view:         view,
		views:        views,
		cards:        cards,
		templates:    templates,
		calculations: calculate(cards, vf.ColumnCalculations, props),
		search:       req.Search,
		details:      ix.details(cards, col),
	}
	if vf.ViewType.Grouped() {
		if prop, ok := props.groupBy(vf.GroupByID); ok {
			p.groupByID = prop.ID
			p.groups = groupCards(cards, prop, vf, props)
		}
	}
	return p, nil
}

// pickView returns the view with id, or the first view when id is empty.
func pickView(views []block.Block, id string) (block.Block, bool) {
	if id == "" {
		if len(views) == 0 {
			return block.Block{}, false
		}
		return views[0], true
	}
	for _, v := range views {
		if v.ID == id {
			return v, true
		}
	}
	return block.Block{}, false
}

// index is the set of blocks under one root with memoized visibility.
type index struct {
	rootID  string
	blocks  []block.Block
	byID    map[string]block.Block
	visible map[string]bool
}

func newIndex(rootID string, blocks []block.Block) *index {
	// Sorted so that everything downstream iterates deterministically.
	slices.SortFunc(blocks, func(a, b block.Block) int { return strings.Compare(a.ID, b.ID) })
	ix := &index{
		rootID:  rootID,
		blocks:  blocks,
		byID:    make(map[string]block.Block, len(blocks)),
		visible: make(map[string]bool, len(blocks)),
	}
	for _, b := range blocks {
		ix.byID[b.ID] = b
	}
	return ix
}

func (ix *index) visibleBoard() (block.Block, bool) {
	b, ok := ix.byID[ix.rootID]
	if !ok || b.Type != block.TypeBoard || !ix.isVisible(b.ID) {
		return block.Block{}, false
	}
	if _, ok := b.Board(); !ok {
		return block.Block{}, false
	}
	return b, true
}

// isVisible reports whether id is live with a live ancestor chain ending at
// a root block. A parent outside this root's block set hides the child.
func (ix *index) isVisible(id string) bool {
	if v, ok := ix.visible[id]; ok {
		return v
	}
	// Mark before recursing so a parent cycle terminates as invisible.
	ix.visible[id] = false

	b, ok := ix.byID[id]
	v := ok && !b.IsDeleted() && (b.ParentID == "" || ix.isVisible(b.ParentID))
	ix.visible[id] = v
	return v
}

// details collects the visible content blocks and comments of each card.
func (ix *index) details(cards []block.Block, col *collate.Collator) map[string]CardDetail {
	out := make(map[string]CardDetail, len(cards))
	for _, c := range cards {
		out[c.ID] = CardDetail{Card: c}
	}
	for _, b := range ix.blocks {
		d, ok := out[b.ParentID]
		if !ok || !ix.isVisible(b.ID) {
			continue
		}
		switch {
		case b.Type == block.TypeComment:
			d.Comments = append(d.Comments, b)
		case b.Type != block.TypeCard && b.Type != block.TypeView && b.Type != block.TypeBoard:
			d.Contents = append(d.Contents, b)
		default:
			continue
		}
		out[b.ParentID] = d
	}
	for id, d := range out {
		cf, _ := d.Card.Card()
		var order []string
		if cf != nil {
			order = cf.ContentOrder
		}
		d.Contents = orderByIDs(d.Contents, order)
		slices.SortFunc(d.Comments, byCreateThenID)
		out[id] = d
	}
	return out
}

func byCreateThenID(a, b block.Block) int {
	if a.CreateAt != b.CreateAt {
		if a.CreateAt < b.CreateAt {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

// orderByIDs places blocks listed in order first, in that order, then the
// rest by creation time and id. Unknown and duplicate ids in order are
// skipped.
func orderByIDs(blocks []block.Block, order []string) []block.Block {
	if len(blocks) == 0 {
		return blocks
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		if _, dup := pos[id]; !dup {
			pos[id] = i
		}
	}
	slices.SortFunc(blocks, func(a, b block.Block) int {
		pa, aok := pos[a.ID]
		pb, bok := pos[b.ID]
		switch {
		case aok && bok:
			return pa - pb
		case aok:
			return -1
		case bok:
			return 1
		}
		return byCreateThenID(a, b)
	})
	return blocks
}

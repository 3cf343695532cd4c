package replica

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/undo"
)

// ErrUnknownBlock is returned by intents addressing a block the replica
// does not hold, or holds only as a tombstone.
var ErrUnknownBlock = errors.New("unknown block")

// live returns the stored, non-deleted block with id.
func (r *Replica) live(id string) (block.Block, error) {
	b, ok := r.store.Get(id)
	if !ok || b.IsDeleted() {
		return block.Block{}, fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	return b, nil
}

// liveOf is live restricted to one type.
func (r *Replica) liveOf(id string, t block.Type) (block.Block, error) {
	b, err := r.live(id)
	if err != nil {
		return block.Block{}, err
	}
	if b.Type != t {
		return block.Block{}, fmt.Errorf("%w: %s is a %s, not a %s", ErrUnknownBlock, id, b.Type, t)
	}
	return b, nil
}

// InsertBlock creates b.
func (r *Replica) InsertBlock(ctx context.Context, b block.Block, description string) error {
	return r.Dispatch(ctx, undo.NewCommand(description, undo.Insert(b)))
}

// InsertBlocks creates blocks as one command.
func (r *Replica) InsertBlocks(ctx context.Context, blocks []block.Block, description string) error {
	changes := make([]undo.Change, 0, len(blocks))
	for _, b := range blocks {
		changes = append(changes, undo.Insert(b))
	}
	return r.Dispatch(ctx, undo.NewCommand(description, changes...))
}

// DeleteBlock tombstones the block with id.
func (r *Replica) DeleteBlock(ctx context.Context, id, description string) error {
	b, err := r.live(id)
	if err != nil {
		return err
	}
	return r.Dispatch(ctx, undo.NewCommand(description, undo.Delete(b)))
}

// UpdateBlock replaces oldBlock with newBlock.
func (r *Replica) UpdateBlock(ctx context.Context, newBlock, oldBlock block.Block, description string) error {
	return r.Dispatch(ctx, undo.NewCommand(description, undo.Update(oldBlock, newBlock)))
}

// modify dispatches an update of the live block id produced by edit.
func (r *Replica) modify(ctx context.Context, id string, t block.Type, description string, edit func(b *block.Block)) error {
	var (
		old block.Block
		err error
	)
	if t == "" {
		old, err = r.live(id)
	} else {
		old, err = r.liveOf(id, t)
	}
	if err != nil {
		return err
	}
	next := r.withFields(old.Clone())
	edit(&next)
	return r.UpdateBlock(ctx, next, old, description)
}

// withFields gives b an empty fields variant of its type when it arrived
// without one, so edits have somewhere to land.
func (r *Replica) withFields(b block.Block) block.Block {
	if b.Fields != nil {
		return b
	}
	if nb, err := r.reg.New(b.Type); err == nil {
		b.Fields = nb.Fields
	}
	return b
}

// ChangeTitle renames a block.
func (r *Replica) ChangeTitle(ctx context.Context, id, title, description string) error {
	return r.modify(ctx, id, "", description, func(b *block.Block) {
		b.Title = title
	})
}

// ChangePropertyValue sets a card property. An empty value clears it.
func (r *Replica) ChangePropertyValue(ctx context.Context, cardID, propertyID string, value block.Value, description string) error {
	return r.modify(ctx, cardID, block.TypeCard, description, func(b *block.Block) {
		cf := b.Fields.(*block.CardFields)
		if cf.Properties == nil {
			cf.Properties = make(map[string]block.Value)
		}
		if value.IsEmpty() {
			delete(cf.Properties, propertyID)
		} else {
			cf.Properties[propertyID] = value
		}
	})
}

// ChangeCardContentOrder sets the order of a card's content blocks.
func (r *Replica) ChangeCardContentOrder(ctx context.Context, cardID string, order []string, description string) error {
	return r.modify(ctx, cardID, block.TypeCard, description, func(b *block.Block) {
		b.Fields.(*block.CardFields).ContentOrder = slices.Clone(order)
	})
}

// ChangeViewFilter replaces a view's filter.
func (r *Replica) ChangeViewFilter(ctx context.Context, viewID string, filter block.FilterGroup) error {
	return r.modify(ctx, viewID, block.TypeView, "filter", func(b *block.Block) {
		b.Fields.(*block.ViewFields).Filter = filter
	})
}

// ChangeViewSortOptions replaces a view's sort options.
func (r *Replica) ChangeViewSortOptions(ctx context.Context, viewID string, sorts []block.SortOption) error {
	return r.modify(ctx, viewID, block.TypeView, "sort", func(b *block.Block) {
		b.Fields.(*block.ViewFields).SortOptions = slices.Clone(sorts)
	})
}

// ChangeViewGroupBy changes the property a view groups cards by.
func (r *Replica) ChangeViewGroupBy(ctx context.Context, viewID, propertyID string) error {
	return r.modify(ctx, viewID, block.TypeView, "group by", func(b *block.Block) {
		b.Fields.(*block.ViewFields).GroupByID = propertyID
	})
}

// HideViewOption hides a group. The empty option id is the "no value"
// group.
func (r *Replica) HideViewOption(ctx context.Context, viewID, optionID string) error {
	return r.modify(ctx, viewID, block.TypeView, "hide group", func(b *block.Block) {
		vf := b.Fields.(*block.ViewFields)
		vf.VisibleOptionIDs = remove(vf.VisibleOptionIDs, optionID)
		if !slices.Contains(vf.HiddenOptionIDs, optionID) {
			vf.HiddenOptionIDs = append(vf.HiddenOptionIDs, optionID)
		}
	})
}

// ShowViewOption shows a hidden group again.
func (r *Replica) ShowViewOption(ctx context.Context, viewID, optionID string) error {
	return r.modify(ctx, viewID, block.TypeView, "show group", func(b *block.Block) {
		vf := b.Fields.(*block.ViewFields)
		vf.HiddenOptionIDs = remove(vf.HiddenOptionIDs, optionID)
		if !slices.Contains(vf.VisibleOptionIDs, optionID) {
			vf.VisibleOptionIDs = append(vf.VisibleOptionIDs, optionID)
		}
	})
}

func remove(ids []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(ids), func(s string) bool { return s == id })
}

// NewCard describes a card to create on a board.
type NewCard struct {
	BoardID string
	Title   string
	// ViewID, when set, seeds the card with property values that satisfy
	// the view's filter so the new card stays visible.
	ViewID string
	// GroupOptionID places the card in a group of the view's group-by
	// property. Empty means the "no value" group.
	GroupOptionID string
	Template      bool
}

// InsertCard creates a card and returns it.
func (r *Replica) InsertCard(ctx context.Context, nc NewCard) (block.Block, error) {
	board, err := r.liveOf(nc.BoardID, block.TypeBoard)
	if err != nil {
		return block.Block{}, err
	}
	card, err := r.reg.New(block.TypeCard)
	if err != nil {
		return block.Block{}, err
	}
	card.ID = r.ids.NewID()
	card.ParentID = board.ID
	card.RootID = board.RootID
	card.Title = nc.Title
	cf := card.Fields.(*block.CardFields)
	cf.IsTemplate = nc.Template

	if nc.ViewID != "" {
		view, err := r.liveOf(nc.ViewID, block.TypeView)
		if err != nil {
			return block.Block{}, err
		}
		vf, _ := view.View()
		for id, v := range valuesMeetingFilter(vf.Filter) {
			cf.Properties[id] = v
		}
		if vf.ViewType == block.ViewBoard && vf.GroupByID != "" {
			if nc.GroupOptionID != "" {
				cf.Properties[vf.GroupByID] = block.Text(nc.GroupOptionID)
			} else {
				delete(cf.Properties, vf.GroupByID)
			}
		}
	}

	description := "add card"
	if nc.Template {
		description = "add card template"
	}
	if err := r.InsertBlock(ctx, card, description); err != nil {
		return block.Block{}, err
	}
	return card, nil
}

// valuesMeetingFilter derives property values that satisfy g. An "and"
// group contributes every clause, an "or" group only its first.
func valuesMeetingFilter(g block.FilterGroup) map[string]block.Value {
	out := make(map[string]block.Value)
	for _, f := range g.Filters {
		if f.Clause != nil && f.Clause.Condition == block.ConditionIncludes && len(f.Clause.Values) > 0 {
			out[f.Clause.PropertyID] = block.Text(f.Clause.Values[0])
		}
		if g.Operation == block.FilterOr {
			break
		}
	}
	return out
}

// AddComment posts a comment on a card.
func (r *Replica) AddComment(ctx context.Context, cardID, text string) (block.Block, error) {
	card, err := r.liveOf(cardID, block.TypeCard)
	if err != nil {
		return block.Block{}, err
	}
	comment, err := r.reg.New(block.TypeComment)
	if err != nil {
		return block.Block{}, err
	}
	comment.ID = r.ids.NewID()
	comment.ParentID = card.ID
	comment.RootID = card.RootID
	comment.Title = text
	if err := r.InsertBlock(ctx, comment, "add comment"); err != nil {
		return block.Block{}, err
	}
	return comment, nil
}

// AddContent appends a content block of kind t to a card. The insert and
// the content order update undo as one step.
func (r *Replica) AddContent(ctx context.Context, cardID string, t block.Type, title string) (block.Block, error) {
	if !r.reg.IsContent(t) {
		return block.Block{}, fmt.Errorf("%w: %s is not a content kind", block.ErrUnknownType, t)
	}
	card, err := r.liveOf(cardID, block.TypeCard)
	if err != nil {
		return block.Block{}, err
	}
	content, err := r.reg.New(t)
	if err != nil {
		return block.Block{}, err
	}
	content.ID = r.ids.NewID()
	content.ParentID = card.ID
	content.RootID = card.RootID
	content.Title = title

	cf, _ := card.Card()
	order := append(slices.Clone(cf.ContentOrder), content.ID)
	description := "add " + displayName(r.reg, t)
	err = r.PerformAsGroup(ctx, description, func(ctx context.Context) error {
		if err := r.InsertBlock(ctx, content, description); err != nil {
			return err
		}
		return r.ChangeCardContentOrder(ctx, card.ID, order, description)
	})
	if err != nil {
		return block.Block{}, err
	}
	return content, nil
}

func displayName(reg *block.Registry, t block.Type) string {
	if k, ok := reg.Lookup(t); ok && k.DisplayName != "" {
		return k.DisplayName
	}
	return string(t)
}

// DuplicateCard copies a card with its content and comments under fresh
// ids. With asTemplate the copy is a template; copying a template without
// it makes a regular card from the template.
func (r *Replica) DuplicateCard(ctx context.Context, cardID string, asTemplate bool) (block.Block, error) {
	card, err := r.liveOf(cardID, block.TypeCard)
	if err != nil {
		return block.Block{}, err
	}

	remap := map[string]string{card.ID: r.ids.NewID()}
	var children []block.Block
	for _, b := range r.store.AllByRoot(card.RootID) {
		if b.ParentID != card.ID || b.IsDeleted() {
			continue
		}
		remap[b.ID] = r.ids.NewID()
		children = append(children, b)
	}
	slices.SortFunc(children, func(a, b block.Block) int {
		if c := cmp.Compare(a.CreateAt, b.CreateAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	dup := r.withFields(fresh(card, remap[card.ID]))
	cf := dup.Fields.(*block.CardFields)
	cf.IsTemplate = asTemplate
	order := make([]string, 0, len(cf.ContentOrder))
	for _, id := range cf.ContentOrder {
		if nid, ok := remap[id]; ok {
			order = append(order, nid)
		}
	}
	cf.ContentOrder = order

	blocks := []block.Block{dup}
	for _, c := range children {
		nb := fresh(c, remap[c.ID])
		nb.ParentID = dup.ID
		blocks = append(blocks, nb)
	}

	description := "duplicate card"
	if src, _ := card.Card(); src.IsTemplate && !asTemplate {
		description = "new card from template"
	}
	if err := r.InsertBlocks(ctx, blocks, description); err != nil {
		return block.Block{}, err
	}
	return dup, nil
}

// fresh returns a version-less copy of b under a new id.
func fresh(b block.Block, id string) block.Block {
	out := b.Clone()
	out.ID = id
	out.CreatedBy = ""
	out.ModifiedBy = ""
	out.CreateAt = 0
	out.UpdateAt = 0
	out.DeleteAt = 0
	return out
}

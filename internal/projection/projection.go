package projection

import (
	"fmt"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/canonical"
)

// Projection is an immutable snapshot of one board through one view.
// Accessors return copies; nothing reachable from a Projection aliases the
// block store or another caller's copy.
type Projection struct {
	board        block.Block
	view         block.Block
	views        []block.Block
	cards        []block.Block
	templates    []block.Block
	groupByID    string
	groups       []Group
	calculations map[string]string
	search       string
	details      map[string]CardDetail
}

// CardDetail is the content and comment list of one card.
type CardDetail struct {
	Card     block.Block
	Contents []block.Block
	Comments []block.Block
}

// BoardID returns the id of the projected board.
func (p *Projection) BoardID() string { return p.board.ID }

// ViewID returns the id of the active view.
func (p *Projection) ViewID() string { return p.view.ID }

// Search returns the search text the projection was built with.
func (p *Projection) Search() string { return p.search }

// Board returns the board block.
func (p *Projection) Board() block.Block { return p.board.Clone() }

// View returns the active view block.
func (p *Projection) View() block.Block { return p.view.Clone() }

// Views returns the board's views ordered by title then id.
func (p *Projection) Views() []block.Block { return cloneBlocks(p.views) }

// Cards returns the filtered, sorted, non-template cards.
func (p *Projection) Cards() []block.Block { return cloneBlocks(p.cards) }

// Templates returns the board's card templates ordered by title then id.
func (p *Projection) Templates() []block.Block { return cloneBlocks(p.templates) }

// GroupByID returns the property the cards are grouped by, or "" when the
// projection is not grouped.
func (p *Projection) GroupByID() string { return p.groupByID }

// Grouped reports whether the projection partitions its cards.
func (p *Projection) Grouped() bool { return p.groups != nil }

// Groups returns all groups, "no value" first, then options in board order.
func (p *Projection) Groups() []Group {
	return p.selectGroups(func(Group) bool { return true })
}

// VisibleGroups returns the groups not hidden by the view.
func (p *Projection) VisibleGroups() []Group {
	return p.selectGroups(func(g Group) bool { return !g.Hidden })
}

// HiddenGroups returns the groups hidden by the view.
func (p *Projection) HiddenGroups() []Group {
	return p.selectGroups(func(g Group) bool { return g.Hidden })
}

func (p *Projection) selectGroups(keep func(Group) bool) []Group {
	if p.groups == nil {
		return nil
	}
	out := make([]Group, 0, len(p.groups))
	for _, g := range p.groups {
		if keep(g) {
			out = append(out, g.clone())
		}
	}
	return out
}

// Calculations returns the view's column calculations over all cards.
func (p *Projection) Calculations() map[string]string {
	if p.calculations == nil {
		return nil
	}
	out := make(map[string]string, len(p.calculations))
	for k, v := range p.calculations {
		out[k] = v
	}
	return out
}

// CardDetail returns the ordered contents and comments of a projected card.
func (p *Projection) CardDetail(cardID string) (CardDetail, bool) {
	d, ok := p.details[cardID]
	if !ok {
		return CardDetail{}, false
	}
	return CardDetail{
		Card:     d.Card.Clone(),
		Contents: cloneBlocks(d.Contents),
		Comments: cloneBlocks(d.Comments),
	}, true
}

// Canonical returns the canonical JSON form of the projection. Two
// projections are equal exactly when their canonical bytes are.
func (p *Projection) Canonical() ([]byte, error) {
	data, err := canonical.Marshal(p.toMap())
	if err != nil {
		return nil, fmt.Errorf("projection %s/%s: %w", p.board.ID, p.view.ID, err)
	}
	return data, nil
}

// Hash returns the content hash of the canonical form.
func (p *Projection) Hash() (string, error) {
	data, err := p.Canonical()
	if err != nil {
		return "", err
	}
	return canonical.HashBytes(canonical.DomainProjection, data), nil
}

func (p *Projection) toMap() map[string]any {
	m := map[string]any{
		"board":     blockMap(p.board),
		"view":      blockMap(p.view),
		"views":     blockMaps(p.views),
		"cards":     blockMaps(p.cards),
		"templates": blockMaps(p.templates),
		"search":    p.search,
	}
	if p.calculations != nil {
		m["calculations"] = p.calculations
	}
	if p.groups != nil {
		m["groupById"] = p.groupByID
		groups := make([]any, 0, len(p.groups))
		for _, g := range p.groups {
			gm := map[string]any{
				"optionId":  g.Option.ID,
				"value":     g.Option.Value,
				"color":     g.Option.Color,
				"hidden":    g.Hidden,
				"collapsed": g.Collapsed,
				"cards":     blockIDs(g.Cards),
			}
			if g.Calculations != nil {
				gm["calculations"] = g.Calculations
			}
			groups = append(groups, gm)
		}
		m["groups"] = groups
	}

	details := make(map[string]any, len(p.details))
	for id, d := range p.details {
		details[id] = map[string]any{
			"contents": blockMaps(d.Contents),
			"comments": blockMaps(d.Comments),
		}
	}
	m["details"] = details
	return m
}

func cloneBlocks(blocks []block.Block) []block.Block {
	if blocks == nil {
		return nil
	}
	out := make([]block.Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}

func blockIDs(blocks []block.Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.ID
	}
	return out
}

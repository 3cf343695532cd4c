package projection

import (
	"slices"

	"github.com/roach88/boardreplica/internal/block"
)

// Group is one column of a grouped view. The synthetic "no value" group has
// an empty Option.ID.
type Group struct {
	Option       block.PropertyOption
	Cards        []block.Block
	Hidden       bool
	Collapsed    bool
	Calculations map[string]string
}

func (g Group) clone() Group {
	out := g
	out.Cards = cloneBlocks(g.Cards)
	if g.Calculations != nil {
		out.Calculations = make(map[string]string, len(g.Calculations))
		for k, v := range g.Calculations {
			out.Calculations[k] = v
		}
	}
	return out
}

// groupCards partitions already sorted cards by prop. A multi-select card
// joins the group of every valid option it holds.
func groupCards(cards []block.Block, prop block.PropertyTemplate, vf *block.ViewFields, props properties) []Group {
	groups := make([]Group, 0, len(prop.Options)+1)
	groups = append(groups, Group{Option: block.PropertyOption{ID: ""}})
	slot := map[string]int{"": 0}
	for _, o := range prop.Options {
		if _, dup := slot[o.ID]; dup {
			continue
		}
		slot[o.ID] = len(groups)
		groups = append(groups, Group{Option: o})
	}

	for _, c := range cards {
		ids := props.value(c, prop.ID).Strings()
		if len(ids) == 0 {
			groups[0].Cards = append(groups[0].Cards, c)
			continue
		}
		for _, id := range dedupe(ids) {
			groups[slot[id]].Cards = append(groups[slot[id]].Cards, c)
		}
	}

	for i := range groups {
		id := groups[i].Option.ID
		groups[i].Hidden = slices.Contains(vf.HiddenOptionIDs, id)
		groups[i].Collapsed = slices.Contains(vf.CollapsedOptionIDs, id)
		groups[i].Calculations = calculate(groups[i].Cards, vf.ColumnCalculations, props)
	}
	return groups
}

func dedupe(ids []string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

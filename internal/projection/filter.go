package projection

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/boardreplica/internal/block"
)

func filterCards(cards []block.Block, g block.FilterGroup, props properties) []block.Block {
	if g.IsEmpty() {
		return cards
	}
	out := cards[:0:0]
	for _, c := range cards {
		if matchGroup(c, g, props) {
			out = append(out, c)
		}
	}
	return out
}

// matchGroup evaluates a filter group. Empty groups match everything so a
// half-built filter never hides cards.
func matchGroup(c block.Block, g block.FilterGroup, props properties) bool {
	var evaluated bool
	for _, f := range g.Filters {
		var ok bool
		switch {
		case f.Clause != nil:
			ok = matchClause(c, *f.Clause, props)
		case f.Group != nil:
			if f.Group.IsEmpty() {
				continue
			}
			ok = matchGroup(c, *f.Group, props)
		default:
			continue
		}
		evaluated = true
		if g.Operation == block.FilterOr {
			if ok {
				return true
			}
		} else if !ok {
			return false
		}
	}
	if g.Operation == block.FilterOr {
		return !evaluated
	}
	return true
}

func matchClause(c block.Block, cl block.FilterClause, props properties) bool {
	v := props.value(c, cl.PropertyID)
	vals := v.Strings()

	switch cl.Condition {
	case block.ConditionIncludes:
		if len(cl.Values) == 0 {
			return true
		}
		return slices.ContainsFunc(vals, func(s string) bool { return slices.Contains(cl.Values, s) })
	case block.ConditionNotIncludes:
		if len(cl.Values) == 0 {
			return true
		}
		return !slices.ContainsFunc(vals, func(s string) bool { return slices.Contains(cl.Values, s) })
	case block.ConditionIsEmpty:
		return v.IsEmpty()
	case block.ConditionIsNotEmpty:
		return !v.IsEmpty()
	case block.ConditionEquals:
		want := slices.Clone(cl.Values)
		got := slices.Clone(vals)
		slices.Sort(want)
		slices.Sort(got)
		return slices.Equal(want, got)
	case block.ConditionContains:
		if len(cl.Values) == 0 || cl.Values[0] == "" {
			return true
		}
		needle := strings.ToLower(cl.Values[0])
		for _, s := range props.displayStrings(c, cl.PropertyID) {
			if strings.Contains(strings.ToLower(s), needle) {
				return true
			}
		}
		return false
	case block.ConditionDateRange:
		ts, ok := parseDate(v.Str)
		if !ok {
			return false
		}
		return (cl.From == 0 || ts >= cl.From) && (cl.To == 0 || ts <= cl.To)
	}
	// Unknown conditions do not constrain.
	return true
}

// parseDate accepts epoch milliseconds or a date property object
// {"from": ms, "to": ms}, using from.
func parseDate(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	var obj struct {
		From *int64 `json:"from"`
	}
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj.From == nil {
		return 0, false
	}
	return *obj.From, true
}

func searchCards(cards []block.Block, search string, props properties) []block.Block {
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return cards
	}
	out := cards[:0:0]
	for _, c := range cards {
		if cardMatchesSearch(c, needle, props) {
			out = append(out, c)
		}
	}
	return out
}

func cardMatchesSearch(c block.Block, needle string, props properties) bool {
	if strings.Contains(strings.ToLower(c.Title), needle) {
		return true
	}
	cf, _ := c.Card()
	if cf == nil {
		return false
	}
	ids := make([]string, 0, len(cf.Properties))
	for id := range cf.Properties {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		for _, s := range props.displayStrings(c, id) {
			if strings.Contains(strings.ToLower(s), needle) {
				return true
			}
		}
	}
	return false
}

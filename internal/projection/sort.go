package projection

import (
	"slices"
	"strconv"

	"golang.org/x/text/collate"

	"github.com/roach88/boardreplica/internal/block"
)

// sorter orders cards by a view's sort options. Cards with an empty value
// for a sort property go last in either direction. Remaining ties fall back
// to creation time then id.
type sorter struct {
	col       *collate.Collator
	props     properties
	opts      []block.SortOption
	cardOrder []string
}

func (s *sorter) sort(cards []block.Block) {
	if len(s.opts) == 0 {
		orderByIDs(cards, s.cardOrder)
		return
	}
	slices.SortFunc(cards, s.compare)
}

func (s *sorter) compare(a, b block.Block) int {
	for _, opt := range s.opts {
		if c := s.compareProperty(a, b, opt); c != 0 {
			return c
		}
	}
	return byCreateThenID(a, b)
}

func (s *sorter) compareProperty(a, b block.Block, opt block.SortOption) int {
	va := s.props.value(a, opt.PropertyID)
	vb := s.props.value(b, opt.PropertyID)
	ea, eb := va.IsEmpty(), vb.IsEmpty()
	switch {
	case ea && eb:
		return 0
	case ea:
		return 1
	case eb:
		return -1
	}

	c := s.compareValues(va, vb, opt.PropertyID)
	if opt.Reversed {
		return -c
	}
	return c
}

func (s *sorter) compareValues(va, vb block.Value, propertyID string) int {
	first := func(v block.Value) string {
		if strs := v.Strings(); len(strs) > 0 {
			return strs[0]
		}
		return ""
	}
	a, b := first(va), first(vb)

	t, ok := s.props.lookup(propertyID)
	if !ok {
		return s.col.CompareString(a, b)
	}
	switch t.Type {
	case block.PropertySelect, block.PropertyMultiSelect:
		return optionIndex(t, a) - optionIndex(t, b)
	case block.PropertyNumber:
		fa, errA := strconv.ParseFloat(a, 64)
		fb, errB := strconv.ParseFloat(b, 64)
		if errA == nil && errB == nil {
			return cmpFloat(fa, fb)
		}
	case block.PropertyDate, block.PropertyCreatedTime, block.PropertyUpdatedTime:
		da, okA := parseDate(a)
		db, okB := parseDate(b)
		if okA && okB {
			return cmpFloat(float64(da), float64(db))
		}
	}
	return s.col.CompareString(a, b)
}

func optionIndex(t block.PropertyTemplate, id string) int {
	for i, o := range t.Options {
		if o.ID == id {
			return i
		}
	}
	return len(t.Options)
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

package block

import "slices"

// FilterOperation joins the filters of a group.
type FilterOperation string

const (
	FilterAnd FilterOperation = "and"
	FilterOr  FilterOperation = "or"
)

// Condition is the test a filter clause applies to one property.
type Condition string

const (
	ConditionIncludes    Condition = "includes"
	ConditionNotIncludes Condition = "notIncludes"
	ConditionIsEmpty     Condition = "isEmpty"
	ConditionIsNotEmpty  Condition = "isNotEmpty"
	ConditionEquals      Condition = "equals"
	ConditionContains    Condition = "contains"
	ConditionDateRange   Condition = "dateRange"
)

// FilterGroup is a boolean predicate tree over card properties. A group
// with no filters matches every card.
type FilterGroup struct {
	Operation FilterOperation
	Filters   []Filter
}

// Filter is either a nested group or a clause; exactly one is set.
type Filter struct {
	Group  *FilterGroup
	Clause *FilterClause
}

// FilterClause tests a single property. Values hold option ids or text,
// From/To bound a date range in epoch milliseconds (zero means open).
type FilterClause struct {
	PropertyID string
	Condition  Condition
	Values     []string
	From       int64
	To         int64
}

// IsEmpty reports whether the group has no clauses at any depth.
func (g FilterGroup) IsEmpty() bool {
	for _, f := range g.Filters {
		if f.Clause != nil {
			return false
		}
		if f.Group != nil && !f.Group.IsEmpty() {
			return false
		}
	}
	return true
}

func (g FilterGroup) clone() FilterGroup {
	out := FilterGroup{Operation: g.Operation}
	if g.Filters == nil {
		return out
	}
	out.Filters = make([]Filter, len(g.Filters))
	for i, f := range g.Filters {
		if f.Group != nil {
			sub := f.Group.clone()
			out.Filters[i].Group = &sub
		}
		if f.Clause != nil {
			c := *f.Clause
			c.Values = slices.Clone(f.Clause.Values)
			out.Filters[i].Clause = &c
		}
	}
	return out
}

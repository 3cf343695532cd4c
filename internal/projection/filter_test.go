package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/testutil"
)

// filterBoard has cards a, b, c created in that order:
//
//	a: status=todo tags=[x y] estimate=3 due=100     notes="Hello World"
//	b: status=done            estimate=5 due={from:200}
//	c: status=<dangling>                             notes="other"
func filterBoard(t *testing.T, filter block.FilterGroup) []string {
	t.Helper()

	a := testutil.Card("a", "b1", "A", 1, "status", "todo", "estimate", "3", "due", "100", "notes", "Hello World")
	a.Fields.(*block.CardFields).Properties["tags"] = block.List("x", "y")
	b := testutil.Card("b", "b1", "B", 2, "status", "done", "estimate", "5", "due", `{"from":200}`)
	c := testutil.Card("c", "b1", "C", 3, "status", "gone", "notes", "other")

	view := testutil.View("v1", "b1", "v", block.ViewGallery, "")
	view.Fields.(*block.ViewFields).Filter = filter

	s := testutil.NewStore(t,
		testutil.Board("b1", "Board",
			testutil.SelectProperty("status", "Status", testutil.Option("todo", "Todo"), testutil.Option("done", "Done")),
			block.PropertyTemplate{ID: "tags", Name: "Tags", Type: block.PropertyMultiSelect, Options: []block.PropertyOption{{ID: "x"}, {ID: "y"}}},
			testutil.Property("estimate", "Estimate", block.PropertyNumber),
			testutil.Property("due", "Due", block.PropertyDate),
			testutil.Property("notes", "Notes", block.PropertyText),
		),
		view, a, b, c,
	)

	p, err := NewBuilder(s).Build(Request{BoardID: "b1", ViewID: "v1"})
	require.NoError(t, err)
	return ids(p.Cards())
}

func clause(prop string, cond block.Condition, values ...string) block.Filter {
	return block.Filter{Clause: &block.FilterClause{PropertyID: prop, Condition: cond, Values: values}}
}

func and(filters ...block.Filter) block.FilterGroup {
	return block.FilterGroup{Operation: block.FilterAnd, Filters: filters}
}

func or(filters ...block.Filter) block.FilterGroup {
	return block.FilterGroup{Operation: block.FilterOr, Filters: filters}
}

func TestFilter(t *testing.T) {
	dueFrom := block.Filter{Clause: &block.FilterClause{PropertyID: "due", Condition: block.ConditionDateRange, From: 150}}
	dueTo := block.Filter{Clause: &block.FilterClause{PropertyID: "due", Condition: block.ConditionDateRange, To: 150}}
	emptyOr := or()

	tests := []struct {
		name   string
		filter block.FilterGroup
		want   []string
	}{
		{"no filter", block.FilterGroup{}, []string{"a", "b", "c"}},
		{"includes", and(clause("status", block.ConditionIncludes, "todo")), []string{"a"}},
		{"includes without values", and(clause("status", block.ConditionIncludes)), []string{"a", "b", "c"}},
		{"not includes", and(clause("status", block.ConditionNotIncludes, "todo")), []string{"b", "c"}},
		{"dangling option is empty", and(clause("status", block.ConditionIsEmpty)), []string{"c"}},
		{"is not empty", and(clause("status", block.ConditionIsNotEmpty)), []string{"a", "b"}},
		{"multi select includes", and(clause("tags", block.ConditionIncludes, "y")), []string{"a"}},
		{"equals", and(clause("estimate", block.ConditionEquals, "5")), []string{"b"}},
		{"equals multi ignores order", and(clause("tags", block.ConditionEquals, "y", "x")), []string{"a"}},
		{"contains is case insensitive", and(clause("notes", block.ConditionContains, "WORLD")), []string{"a"}},
		{"contains matches option label", and(clause("status", block.ConditionContains, "don")), []string{"b"}},
		{"contains title", and(clause(block.TitlePropertyID, block.ConditionContains, "c")), []string{"c"}},
		{"date range from", and(dueFrom), []string{"b"}},
		{"date range to", and(dueTo), []string{"a"}},
		{"or", or(clause("status", block.ConditionIncludes, "done"), clause("notes", block.ConditionContains, "other")), []string{"b", "c"}},
		{"and", and(clause("status", block.ConditionIsNotEmpty), clause("estimate", block.ConditionEquals, "3")), []string{"a"}},
		{"empty nested group ignored", and(clause("status", block.ConditionIsNotEmpty), block.Filter{Group: &emptyOr}), []string{"a", "b"}},
		{"nested", or(
			clause("status", block.ConditionIsEmpty),
			block.Filter{Group: &block.FilterGroup{Operation: block.FilterAnd, Filters: []block.Filter{
				clause("status", block.ConditionIncludes, "done"),
				clause("estimate", block.ConditionEquals, "5"),
			}}},
		), []string{"b", "c"}},
		{"unknown property is empty", and(clause("missing", block.ConditionIsEmpty)), []string{"a", "b", "c"}},
		{"unknown condition does not constrain", and(clause("status", "startsWith", "x")), []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filterBoard(t, tt.filter))
		})
	}
}

func TestParseDate(t *testing.T) {
	n, ok := parseDate("1700000000000")
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000000), n)

	n, ok = parseDate(`{"from": 42, "to": 50}`)
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	_, ok = parseDate("")
	assert.False(t, ok)
	_, ok = parseDate("next week")
	assert.False(t, ok)
	_, ok = parseDate(`{"to": 50}`)
	assert.False(t, ok)
}

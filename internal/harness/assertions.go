package harness

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/projection"
	"github.com/roach88/boardreplica/internal/replica"
)

// AssertionContext is what assertions inspect after the flow.
type AssertionContext struct {
	Replica     *replica.Replica
	RemoteCalls []string
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s -> %s\n", ev.Seq, ev.Invoke, ev.Outcome)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. All assertions are evaluated even after a failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var msgs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return msgs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	var expected, actual string
	switch a.Type {
	case AssertProjection:
		expected, actual = assertProjection(a, actx.Replica)
	case AssertBlock:
		expected, actual = assertBlock(a, actx.Replica)
	case AssertHistory:
		expected, actual = assertHistory(a, actx.Replica)
	case AssertRemoteCalls:
		expected, actual = compareLists(a.Calls, actx.RemoteCalls)
	case AssertRebuilt:
		var got []string
		if a.Step < len(result.Trace) {
			got = result.Trace[a.Step].Rebuilt
		}
		expected, actual = compareLists(a.Views, got)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if expected == actual {
		return nil
	}
	return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: result.Trace}
}

// Each assert function renders the expected and the actual state the same
// way; the assertion passes when the renderings are equal.

func assertProjection(a Assertion, r *replica.Replica) (string, string) {
	p, err := r.OpenProjection(ParseRequest(a.Request))
	if a.NotFound {
		return "not found", notFound(err)
	}
	if err != nil {
		return "projection " + a.Request, "error: " + err.Error()
	}

	var want, got []string
	if a.View != "" {
		want = append(want, "view="+a.View)
		got = append(got, "view="+p.ViewID())
	}
	if a.GroupIDs != nil {
		want = append(want, fmt.Sprintf("group_ids=%q", a.GroupIDs))
		got = append(got, fmt.Sprintf("group_ids=%q", optionIDs(p.Groups())))
	}
	if a.Groups != nil {
		want = append(want, fmt.Sprintf("groups=%v", a.Groups))
		got = append(got, fmt.Sprintf("groups=%v", groupCards(p.Groups())))
	}
	if a.Hidden != nil {
		want = append(want, fmt.Sprintf("hidden=%q", a.Hidden))
		got = append(got, fmt.Sprintf("hidden=%q", optionIDs(p.HiddenGroups())))
	}
	if a.Cards != nil {
		want = append(want, fmt.Sprintf("cards=%v", a.Cards))
		got = append(got, fmt.Sprintf("cards=%v", blockIDs(p.Cards())))
	}
	return strings.Join(want, " "), strings.Join(got, " ")
}

func notFound(err error) string {
	switch {
	case err == nil:
		return "found"
	case errors.Is(err, projection.ErrNotFound):
		return "not found"
	default:
		return "error: " + err.Error()
	}
}

func assertBlock(a Assertion, r *replica.Replica) (string, string) {
	b, ok := r.Store().Get(a.ID)
	actual := map[string]any{"exists": ok}
	if ok {
		actual["deleted"] = b.IsDeleted()
		actual["title"] = b.Title
		actual["type"] = string(b.Type)
		actual["parent"] = b.ParentID
		actual["modified_by"] = b.ModifiedBy
		if cf, isCard := b.Card(); isCard {
			props := make(map[string]any, len(cf.Properties))
			for id, v := range cf.Properties {
				props[id] = valueAny(v)
			}
			actual["properties"] = props
		}
	}
	return subset(a.Expect, actual)
}

func valueAny(v block.Value) any {
	if v.List != nil {
		out := make([]any, len(v.List))
		for i, s := range v.List {
			out[i] = s
		}
		return out
	}
	return v.Str
}

func assertHistory(a Assertion, r *replica.Replica) (string, string) {
	undo, redo := r.HistoryDepth()
	actual := map[string]any{
		"undo":             undo,
		"redo":             redo,
		"undo_description": r.UndoDescription(),
		"redo_description": r.RedoDescription(),
	}
	return subset(a.Expect, actual)
}

// subset renders the keys of expected from both maps, in sorted order.
// A nested map is compared key by key; a key absent from actual renders
// as <absent>.
func subset(expected, actual map[string]any) (string, string) {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var want, got []string
	for _, k := range keys {
		ev := expected[k]
		av, ok := actual[k]
		if em, isMap := ev.(map[string]any); isMap {
			am, _ := av.(map[string]any)
			w, g := subset(em, am)
			want = append(want, k+"={"+w+"}")
			got = append(got, k+"={"+g+"}")
			continue
		}
		want = append(want, fmt.Sprintf("%s=%v", k, ev))
		if !ok {
			got = append(got, k+"=<absent>")
			continue
		}
		if reflect.DeepEqual(ev, av) {
			// Same value: render identically even if the types print
			// differently.
			got = append(got, fmt.Sprintf("%s=%v", k, ev))
			continue
		}
		got = append(got, fmt.Sprintf("%s=%v", k, av))
	}
	return strings.Join(want, " "), strings.Join(got, " ")
}

func compareLists(expected, actual []string) (string, string) {
	return fmt.Sprintf("%q", nonNil(expected)), fmt.Sprintf("%q", nonNil(actual))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func optionIDs(groups []projection.Group) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.Option.ID
	}
	return out
}

func groupCards(groups []projection.Group) [][]string {
	out := make([][]string, len(groups))
	for i, g := range groups {
		out[i] = blockIDs(g.Cards)
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

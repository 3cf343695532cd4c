package harness

import (
	"bytes"
	"slices"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/boardreplica/internal/canonical"
)

// Snapshot renders a result deterministically: the canonical JSON of the
// trace on the first line, then one "board/view <projection>" line per
// opened projection in request order.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"seq":     ev.Seq,
			"invoke":  ev.Invoke,
			"outcome": ev.Outcome,
		}
		if ev.Result != nil {
			m["result"] = ev.Result
		}
		if ev.Rebuilt != nil {
			m["rebuilt"] = ev.Rebuilt
		}
		trace[i] = m
	}
	head, err := canonical.Marshal(map[string]any{
		"scenario": scenario.Name,
		"trace":    trace,
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(head)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(result.Projections))
	for k := range result.Projections {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte(' ')
		buf.Write(result.Projections[k])
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against the
// golden file {dir}/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, dir string) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run %s: %v", scenario.Name, err)
	}
	AssertGolden(t, scenario, result, dir)
	return result
}

// AssertGolden compares an existing result's snapshot against the golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result, dir string) {
	t.Helper()

	data, err := Snapshot(scenario, result)
	if err != nil {
		t.Fatalf("snapshot %s: %v", scenario.Name, err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
}

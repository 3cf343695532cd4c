package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is one replica test case.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// User authors every local change. Default: "u1".
	User string `yaml:"user,omitempty"`

	// Clock is the manual wall clock's start in epoch milliseconds.
	// Default: 1000.
	Clock int64 `yaml:"clock,omitempty"`

	// IDs are handed out in order to blocks created by intents.
	IDs []string `yaml:"ids,omitempty"`

	// HistoryLimit bounds the undo history. Default: the replica default.
	HistoryLimit int `yaml:"history_limit,omitempty"`

	// RetentionMS is how long compact keeps tombstones.
	RetentionMS int64 `yaml:"retention_ms,omitempty"`

	// Subscribe lists the relevant root ids; "" is the workspace root.
	Subscribe []string `yaml:"subscribe"`

	// Fixture names a built-in block set applied before Seed.
	Fixture string `yaml:"fixture,omitempty"`

	// Seed is a delta batch of wire blocks applied before the flow.
	Seed []any `yaml:"seed,omitempty"`

	// Fetch is what the remote serves on resync.
	Fetch []any `yaml:"fetch,omitempty"`

	// Open lists projections opened before the flow, as "board/view".
	// An empty view selects the board's default view.
	Open []string `yaml:"open,omitempty"`

	// Flow is executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions are evaluated after the flow.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one replica operation.
type FlowStep struct {
	// Invoke names the operation (see the Invoke constants).
	Invoke string `yaml:"invoke"`

	// Args are the operation's arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Remote scripts the remote for this step only: "reject" fails every
	// call, "reject:<op>" fails calls of one op (create, update, delete).
	Remote string `yaml:"remote,omitempty"`

	// Expect is the expected outcome. Nil means the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies a step's expected outcome.
type ExpectClause struct {
	// Outcome is OK or an error code such as REMOTE_REJECTED.
	Outcome string `yaml:"outcome"`
}

// Assertion validates the replica after the flow.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Request is "board/view" (projection).
	Request string `yaml:"request,omitempty"`

	// NotFound expects the projection to be unavailable (projection).
	NotFound bool `yaml:"not_found,omitempty"`

	// View is the expected resolved view id (projection).
	View string `yaml:"view,omitempty"`

	// GroupIDs are the expected option ids of all groups (projection).
	GroupIDs []string `yaml:"group_ids,omitempty"`

	// Groups are the expected card ids per group (projection).
	Groups [][]string `yaml:"groups,omitempty"`

	// Hidden are the expected option ids of hidden groups (projection).
	Hidden []string `yaml:"hidden,omitempty"`

	// Cards are the expected card ids in display order (projection).
	Cards []string `yaml:"cards,omitempty"`

	// ID is the block to check (block).
	ID string `yaml:"id,omitempty"`

	// Expect holds expected fields (block, history). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Calls are the expected remote calls as "op:id" (remote_calls).
	Calls []string `yaml:"calls,omitempty"`

	// Step is a flow index (rebuilt).
	Step int `yaml:"step,omitempty"`

	// Views are the expected rebuilt requests (rebuilt).
	Views []string `yaml:"views,omitempty"`
}

// Assertion type constants.
const (
	AssertProjection  = "projection"
	AssertBlock       = "block"
	AssertHistory     = "history"
	AssertRemoteCalls = "remote_calls"
	AssertRebuilt     = "rebuilt"
)

// Invoke constants.
const (
	InvokeDeltas         = "deltas"
	InvokeResync         = "resync"
	InvokeInsertBlock    = "insert_block"
	InvokeDeleteBlock    = "delete_block"
	InvokeChangeTitle    = "change_title"
	InvokeChangeProperty = "change_property"
	InvokeInsertCard     = "insert_card"
	InvokeAddComment     = "add_comment"
	InvokeAddContent     = "add_content"
	InvokeDuplicateCard  = "duplicate_card"
	InvokeHideOption     = "hide_option"
	InvokeShowOption     = "show_option"
	InvokeChangeGroupBy  = "change_group_by"
	InvokeBeginGroup     = "begin_group"
	InvokeEndGroup       = "end_group"
	InvokeUndo           = "undo"
	InvokeRedo           = "redo"
	InvokeAdvance        = "advance"
	InvokeCompact        = "compact"
)

var invokes = []string{
	InvokeDeltas, InvokeResync, InvokeInsertBlock, InvokeDeleteBlock,
	InvokeChangeTitle, InvokeChangeProperty, InvokeInsertCard, InvokeAddComment,
	InvokeAddContent, InvokeDuplicateCard, InvokeHideOption, InvokeShowOption,
	InvokeChangeGroupBy, InvokeBeginGroup, InvokeEndGroup, InvokeUndo,
	InvokeRedo, InvokeAdvance, InvokeCompact,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)

	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Fixture != "" {
		if _, ok := fixtures[s.Fixture]; !ok {
			return fmt.Errorf("unknown fixture %q", s.Fixture)
		}
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if step.Invoke == "" {
			return fmt.Errorf("flow[%d]: invoke is required", i)
		}
		if !slices.Contains(invokes, step.Invoke) {
			return fmt.Errorf("flow[%d]: unknown invoke %q", i, step.Invoke)
		}
		if step.Remote != "" && step.Remote != "reject" && !strings.HasPrefix(step.Remote, "reject:") {
			return fmt.Errorf("flow[%d]: remote must be \"reject\" or \"reject:<op>\"", i)
		}
		if step.Expect != nil && step.Expect.Outcome == "" {
			return fmt.Errorf("flow[%d].expect: outcome is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, len(s.Flow)); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, steps int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertProjection:
		if a.Request == "" {
			return fmt.Errorf("assertions[%d]: request is required for projection", index)
		}
	case AssertBlock:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for block", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for block", index)
		}
	case AssertHistory:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for history", index)
		}
	case AssertRemoteCalls:
		// An empty list asserts the remote was never called.
	case AssertRebuilt:
		if a.Step < 0 || a.Step >= steps {
			return fmt.Errorf("assertions[%d]: step %d out of range", index, a.Step)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

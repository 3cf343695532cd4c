package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/projection"
	"github.com/roach88/boardreplica/internal/replica"
	"github.com/roach88/boardreplica/internal/testutil"
	"github.com/roach88/boardreplica/internal/undo"
	"github.com/roach88/boardreplica/internal/wire"
)

// OutcomeOK is the outcome of a step that returned no error.
const OutcomeOK = "OK"

const (
	defaultUser  = "u1"
	defaultClock = 1000
)

// fixtures are the built-in block sets a scenario can start from.
var fixtures = map[string]func() []block.Block{
	"status_board": testutil.StatusBoard,
}

var errRemoteRejected = errors.New("remote rejected the write")

// scriptedRemote records every call and fails the ones the current step
// asks it to.
type scriptedRemote struct {
	mu     sync.Mutex
	calls  []string
	reject string
}

func (s *scriptedRemote) call(op string, b block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op+":"+b.ID)
	if s.reject == "reject" || s.reject == "reject:"+op {
		return errRemoteRejected
	}
	return nil
}

func (s *scriptedRemote) script(reject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

func (s *scriptedRemote) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *scriptedRemote) Create(_ context.Context, b block.Block) error { return s.call("create", b) }
func (s *scriptedRemote) Update(_ context.Context, b block.Block) error { return s.call("update", b) }
func (s *scriptedRemote) Delete(_ context.Context, b block.Block) error { return s.call("delete", b) }

type staticFetcher []block.Block

func (f staticFetcher) FetchBlocks(_ context.Context, _ []string) ([]block.Block, error) {
	return f, nil
}

// harness is the execution state of one scenario.
type harness struct {
	replica *replica.Replica
	remote  *scriptedRemote
	fetcher staticFetcher
	codec   *wire.Codec
	time    *testutil.ManualTime
	logger  *slog.Logger

	rebuilt []string
}

// Run executes a scenario against a fresh replica and returns the result.
//
// Execution flow:
// 1. Build a replica with a manual clock, fixed ids and a scripted remote
// 2. Apply the fixture and seed as one delta batch, open projections
// 3. Execute flow steps and compare each outcome with its expect clause
// 4. Evaluate assertions
//
// The returned error reports a scenario that could not be executed at
// all (for example an undecodable seed); mismatches are in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Flow {
		ev, err := h.execute(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("flow step %d (%s): %w", i, step.Invoke, err)
		}
		result.Trace = append(result.Trace, ev)

		want := OutcomeOK
		if step.Expect != nil {
			want = step.Expect.Outcome
		}
		if ev.Outcome != want {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected outcome %s, got %s", i, step.Invoke, want, ev.Outcome))
		}
	}

	for _, req := range scenario.Open {
		p, err := h.replica.OpenProjection(ParseRequest(req))
		if err != nil {
			// Closed by the flow, e.g. the board was deleted.
			continue
		}
		data, err := p.Canonical()
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", req, err)
		}
		result.Projections[req] = data
	}

	actx := &AssertionContext{Replica: h.replica, RemoteCalls: h.remote.Calls()}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(s *Scenario) (*harness, error) {
	codec, err := wire.NewCodec(block.DefaultRegistry())
	if err != nil {
		return nil, err
	}
	h := &harness{
		remote: &scriptedRemote{},
		codec:  codec,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	if len(s.Fetch) > 0 {
		blocks, err := h.decodeBlocks(s.Fetch)
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		h.fetcher = blocks
	}

	start := s.Clock
	if start == 0 {
		start = defaultClock
	}
	clock, manual := testutil.NewClock(start)
	h.time = manual

	user := s.User
	if user == "" {
		user = defaultUser
	}

	opts := []replica.Option{
		replica.WithClock(clock),
		replica.WithUser(user),
		replica.WithLogger(h.logger),
		replica.WithIDGenerator(block.NewFixedIDs(s.IDs...)),
		replica.WithFetcher(h.fetcher),
		replica.WithTombstoneRetention(time.Duration(s.RetentionMS) * time.Millisecond),
		replica.WithNow(func() time.Time { return time.UnixMilli(manual.Now()) }),
	}
	if s.HistoryLimit > 0 {
		opts = append(opts, replica.WithHistoryLimit(s.HistoryLimit))
	}
	h.replica = replica.New(h.remote, opts...)
	h.replica.Subscribe(s.Subscribe...)

	var seed []block.Block
	if s.Fixture != "" {
		seed = append(seed, fixtures[s.Fixture]()...)
	}
	if len(s.Seed) > 0 {
		blocks, err := h.decodeBlocks(s.Seed)
		if err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
		seed = append(seed, blocks...)
	}
	h.replica.OnDeltas(seed)

	for _, r := range s.Open {
		if _, err := h.replica.OpenProjection(ParseRequest(r)); err != nil {
			return nil, fmt.Errorf("open %s: %w", r, err)
		}
	}

	h.replica.OnChange(func(u replica.Update) {
		for _, req := range u.Rebuilt {
			h.rebuilt = append(h.rebuilt, FormatRequest(req))
		}
	})
	return h, nil
}

// ParseRequest parses "board/view" (view may be empty).
func ParseRequest(s string) projection.Request {
	board, view, _ := strings.Cut(s, "/")
	return projection.Request{BoardID: board, ViewID: view}
}

// FormatRequest renders req as "board/view".
func FormatRequest(req projection.Request) string {
	return req.BoardID + "/" + req.ViewID
}

func (h *harness) execute(ctx context.Context, i int, step FlowStep) (TraceEvent, error) {
	h.remote.script(step.Remote)
	defer h.remote.script("")
	h.rebuilt = nil

	res, err := h.invoke(ctx, step)
	var setup *setupError
	if errors.As(err, &setup) {
		return TraceEvent{}, setup.err
	}

	ev := TraceEvent{
		Seq:     i,
		Invoke:  step.Invoke,
		Outcome: ErrorCode(err),
		Result:  res,
	}
	if len(h.rebuilt) > 0 {
		ev.Rebuilt = slices.Clone(h.rebuilt)
		slices.Sort(ev.Rebuilt)
		ev.Rebuilt = slices.Compact(ev.Rebuilt)
	}
	h.logger.Info("flow step completed", "step", i, "invoke", step.Invoke, "outcome", ev.Outcome)
	return ev, nil
}

// setupError marks a malformed step, as opposed to an operation that
// failed at runtime.
type setupError struct{ err error }

func (e *setupError) Error() string { return e.err.Error() }

func (h *harness) invoke(ctx context.Context, step FlowStep) ([]string, error) {
	a := args(step.Args)
	desc := a.str("description")
	if desc == "" {
		desc = step.Invoke
	}
	r := h.replica

	switch step.Invoke {
	case InvokeDeltas:
		blocks, err := h.decodeBlocks(step.Args["blocks"])
		if err != nil {
			return nil, &setupError{err}
		}
		r.OnDeltas(blocks)
		return nil, nil

	case InvokeResync:
		return nil, r.Resync(ctx, h.fetcher)

	case InvokeInsertBlock:
		b, err := h.decodeBlock(step.Args["block"])
		if err != nil {
			return nil, &setupError{err}
		}
		if err := r.InsertBlock(ctx, b, desc); err != nil {
			return nil, err
		}
		return []string{b.ID}, nil

	case InvokeDeleteBlock:
		return nil, r.DeleteBlock(ctx, a.str("id"), desc)

	case InvokeChangeTitle:
		return nil, r.ChangeTitle(ctx, a.str("id"), a.str("title"), desc)

	case InvokeChangeProperty:
		return nil, r.ChangePropertyValue(ctx, a.str("card"), a.str("property"), a.value("value"), desc)

	case InvokeInsertCard:
		card, err := r.InsertCard(ctx, replica.NewCard{
			BoardID:       a.str("board"),
			Title:         a.str("title"),
			ViewID:        a.str("view"),
			GroupOptionID: a.str("group"),
			Template:      a.flag("template"),
		})
		return created(card, err)

	case InvokeAddComment:
		return created(r.AddComment(ctx, a.str("card"), a.str("text")))

	case InvokeAddContent:
		return created(r.AddContent(ctx, a.str("card"), block.Type(a.str("type")), a.str("title")))

	case InvokeDuplicateCard:
		return created(r.DuplicateCard(ctx, a.str("card"), a.flag("template")))

	case InvokeHideOption:
		return nil, r.HideViewOption(ctx, a.str("view"), a.str("option"))

	case InvokeShowOption:
		return nil, r.ShowViewOption(ctx, a.str("view"), a.str("option"))

	case InvokeChangeGroupBy:
		return nil, r.ChangeViewGroupBy(ctx, a.str("view"), a.str("property"))

	case InvokeBeginGroup:
		return nil, r.BeginGroup()

	case InvokeEndGroup:
		return nil, r.EndGroup(desc)

	case InvokeUndo:
		return nil, r.Undo(ctx)

	case InvokeRedo:
		return nil, r.Redo(ctx)

	case InvokeAdvance:
		h.time.Advance(int64(a.num("ms")))
		return nil, nil

	case InvokeCompact:
		removed := r.Compact()
		slices.Sort(removed)
		return removed, nil
	}
	return nil, &setupError{fmt.Errorf("unknown invoke %q", step.Invoke)}
}

func created(b block.Block, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return []string{b.ID}, nil
}

func (h *harness) decodeBlocks(v any) ([]block.Block, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return h.codec.DecodeBatch(data)
}

func (h *harness) decodeBlock(v any) (block.Block, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return block.Block{}, err
	}
	return h.codec.Decode(data)
}

// ErrorCode maps an operation error to the outcome name used in scenarios.
func ErrorCode(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var ce *undo.CommandError
	switch {
	case errors.As(err, &ce):
		return string(ce.Code)
	case errors.Is(err, undo.ErrNothingToUndo):
		return "NOTHING_TO_UNDO"
	case errors.Is(err, undo.ErrNothingToRedo):
		return "NOTHING_TO_REDO"
	case errors.Is(err, undo.ErrGroupOpen):
		return "GROUP_OPEN"
	case errors.Is(err, undo.ErrNoGroup):
		return "NO_GROUP"
	case errors.Is(err, undo.ErrEmptyCommand):
		return "EMPTY_COMMAND"
	case errors.Is(err, replica.ErrUnknownBlock):
		return "UNKNOWN_BLOCK"
	case errors.Is(err, block.ErrUnknownType):
		return "UNKNOWN_TYPE"
	case errors.Is(err, projection.ErrNotFound):
		return "NOT_FOUND"
	}
	return "ERROR"
}

// args reads YAML-decoded step arguments.
type args map[string]any

func (a args) str(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a args) flag(key string) bool {
	b, _ := a[key].(bool)
	return b
}

func (a args) num(key string) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// value reads a property value: a string, or a list for multi-selects.
// A missing key is the empty value, which clears the property.
func (a args) value(key string) block.Value {
	switch v := a[key].(type) {
	case string:
		return block.Text(v)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
		return block.List(items...)
	}
	return block.Value{}
}

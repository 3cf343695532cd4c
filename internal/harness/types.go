package harness

// TraceEvent records one executed flow step.
type TraceEvent struct {
	Seq     int    `json:"seq"`
	Invoke  string `json:"invoke"`
	Outcome string `json:"outcome"`

	// Result lists ids the step produced: the created block for intents
	// that create one, the evicted ids for compact.
	Result []string `json:"result,omitempty"`

	// Rebuilt lists the projections the step rebuilt, as "board/view".
	Rebuilt []string `json:"rebuilt,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every step outcome and assertion matched.
	Pass bool `json:"pass"`

	// Trace holds one event per flow step.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Projections holds the canonical JSON of every projection the
	// scenario opened, keyed by "board/view", taken after the flow.
	Projections map[string][]byte `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Trace:       []TraceEvent{},
		Errors:      []string{},
		Projections: make(map[string][]byte),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

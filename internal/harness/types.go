package harness

// TraceEvent is one delivery to one viewer, as read back from the trace store.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Viewer string `json:"viewer"`
	Kind   string `json:"kind"`
	// Line is the call rendered by testutil.Call.String.
	Line string `json:"line"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every assertion held.
	Pass bool `json:"pass"`

	// MatchID is the id the trace was written under.
	MatchID string `json:"match_id"`

	// Trace contains every delivery to every viewer in seq order.
	Trace []TraceEvent `json:"trace"`

	// Digest is the canonical graph's digest after the last step.
	Digest string `json:"digest"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// ViewerTrace returns the lines delivered to viewer, in order.
func (r *Result) ViewerTrace(viewer string) []string {
	lines := []string{}
	for _, ev := range r.Trace {
		if ev.Viewer == viewer {
			lines = append(lines, ev.Line)
		}
	}
	return lines
}

package harness

// Trace event types.
const (
	EventRecorded = "recorded"
	EventRejected = "rejected"
)

// TraceEvent is the outcome of one flow step.
type TraceEvent struct {
	Type      string  `json:"type"` // "recorded" or "rejected"
	Step      int     `json:"step"`
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Amount    string  `json:"amount"`
	Message   string  `json:"message"`
	Index     *uint64 `json:"index,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
	EventID   string  `json:"event_id,omitempty"`
	Code      string  `json:"code,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per flow step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
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

// AddRecorded appends a committed transfer to the trace.
func (r *Result) AddRecorded(ev TraceEvent) {
	ev.Type = EventRecorded
	r.Trace = append(r.Trace, ev)
}

// AddRejected appends a failed transfer to the trace.
func (r *Result) AddRejected(ev TraceEvent, code string) {
	ev.Type = EventRejected
	ev.Code = code
	r.Trace = append(r.Trace, ev)
}

// Recorded returns the committed transfers in trace order.
func (r *Result) Recorded() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventRecorded {
			out = append(out, ev)
		}
	}
	return out
}

package harness

import (
	"github.com/roach88/ownsim/internal/ir"
	"github.com/roach88/ownsim/internal/sim"
)

// TraceEvent is the part of a recorded event that scenarios assert on and
// golden files capture. Event IDs are left out: they are hashes and say
// nothing a reader can check by eye.
type TraceEvent struct {
	Seq        int64    `json:"seq"`
	Depth      int      `json:"depth"`
	Op         string   `json:"op"`
	Name       string   `json:"name,omitempty"`
	From       string   `json:"from,omitempty"`
	Outcome    string   `json:"outcome"`
	ErrorCode  string   `json:"error_code,omitempty"`
	Value      ir.Value `json:"value,omitempty"`
	RefCount   int64    `json:"refcount,omitempty"`
	Dropped    []string `json:"dropped,omitempty"`
	Released   bool     `json:"released,omitempty"`
	MaybeMoved []string `json:"maybe_moved,omitempty"`
}

func traceEventFrom(ev ir.Event) TraceEvent {
	return TraceEvent{
		Seq:        ev.Seq,
		Depth:      ev.Depth,
		Op:         string(ev.Op.Kind),
		Name:       ev.Op.Name,
		From:       ev.Op.From,
		Outcome:    ev.Outcome,
		ErrorCode:  ev.ErrorCode,
		Value:      ev.Value,
		RefCount:   ev.RefCount,
		Dropped:    ev.Dropped,
		Released:   ev.Released,
		MaybeMoved: ev.MaybeMoved,
	}
}

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	SessionID string `json:"session_id"`

	// Trace holds the recorded events in seq order, read back from the store.
	Trace []TraceEvent `json:"trace"`

	// Errors holds step mismatches and failed assertions.
	Errors []string `json:"errors,omitempty"`

	// Bindings are the bindings still visible when the program finished.
	Bindings map[string]sim.BindingInfo `json:"-"`
}

// NewResult creates a passing result with no trace.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Bindings: make(map[string]sim.BindingInfo),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends a recorded event to the trace.
func (r *Result) AddEvent(ev ir.Event) {
	r.Trace = append(r.Trace, traceEventFrom(ev))
}

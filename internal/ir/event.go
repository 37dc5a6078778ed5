package ir

// Outcome values for Event.Outcome.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Event records one executed operation.
//
// Nested steps of if/loop produce their own events one level deeper; the
// control event itself carries only the shallow op.
type Event struct {
	ID           string   `json:"id"` // Content-addressed hash
	SessionID    string   `json:"session_id"`
	Seq          int64    `json:"seq"` // Logical clock
	Depth        int      `json:"depth"`
	Op           Op       `json:"-"`
	Outcome      string   `json:"outcome"`
	ErrorCode    string   `json:"error_code,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Value        Value    `json:"-"`        // Value observed or produced, if any
	RefCount     int64    `json:"refcount"` // Count after share/drop of a handle
	Dropped      []string `json:"dropped,omitempty"`
	Released     bool     `json:"released,omitempty"` // A shared cell reached zero
	MaybeMoved   []string `json:"maybe_moved,omitempty"` // Set by if/loop
}

// OK reports whether the operation succeeded.
func (e Event) OK() bool {
	return e.Outcome == OutcomeOK
}

// identityObject is the hashed portion of an event. ErrorMessage is
// excluded: wording may change without changing behaviour.
func (e Event) identityObject() Object {
	dropped := make(Array, len(e.Dropped))
	for i, name := range e.Dropped {
		dropped[i] = String(name)
	}
	maybe := make(Array, len(e.MaybeMoved))
	for i, name := range e.MaybeMoved {
		maybe[i] = String(name)
	}
	obj := Object{
		"session_id": String(e.SessionID),
		"seq":        Int(e.Seq),
		"depth":      Int(e.Depth),
		"op":         e.Op.Shallow().ToObject(),
		"outcome":    String(e.Outcome),
		"error_code": String(e.ErrorCode),
		"refcount":   Int(e.RefCount),
		"dropped":    dropped,
		"released":   Bool(e.Released),
	}
	if len(maybe) > 0 {
		obj["maybe_moved"] = maybe
	}
	if e.Value != nil {
		obj["value"] = e.Value
	}
	return obj
}

// Session describes one recorded simulator run.
type Session struct {
	ID            string `json:"id"`
	Program       string `json:"program"`
	ProgramHash   string `json:"program_hash"`
	Shadowing     bool   `json:"shadowing"`
	MaxSteps      int    `json:"max_steps"` // 0: the simulator default
	Steps         []Step `json:"-"`
	EngineVersion string `json:"engine_version"`
	IRVersion     string `json:"ir_version"`
}

package ir

import "fmt"

// OpKind names an abstract ownership operation.
type OpKind string

const (
	OpBind   OpKind = "bind"   // introduce a binding
	OpMove   OpKind = "move"   // transfer ownership from -> name
	OpCopy   OpKind = "copy"   // duplicate a copy-kind value
	OpClone  OpKind = "clone"  // explicit deep copy
	OpRead   OpKind = "read"   // observe a binding's value
	OpAssign OpKind = "assign" // store a new value, dropping the old one
	OpMutate OpKind = "mutate" // replace a live value in place
	OpPush   OpKind = "push"   // append to an array binding
	OpShare  OpKind = "share"  // new reference-counted handle
	OpDrop   OpKind = "drop"   // end a binding
	OpBegin  OpKind = "begin"  // open a scope
	OpEnd    OpKind = "end"    // close the innermost scope
	OpIf     OpKind = "if"     // two-way branch
	OpLoop   OpKind = "loop"   // repeat a body
)

// ValidOpKinds lists every operation the simulator accepts.
var ValidOpKinds = map[OpKind]bool{
	OpBind: true, OpMove: true, OpCopy: true, OpClone: true,
	OpRead: true, OpAssign: true, OpMutate: true, OpPush: true,
	OpShare: true, OpDrop: true, OpBegin: true, OpEnd: true,
	OpIf: true, OpLoop: true,
}

// Op is one abstract operation.
//
// Field use by kind:
//
//	bind            Name, Value, Type (optional; inferred from Value)
//	move/copy/clone From -> Name
//	share           From -> Name
//	read/drop       Name
//	assign/mutate   Name, Value
//	push            Name, and exactly one of Value or From
//	begin/end       -
//	if              Cond, Then, Else
//	loop            Times, Body
type Op struct {
	Kind  OpKind
	Name  string
	From  string
	Value Value
	Type  Kind
	Cond  bool
	Times int
	Then  []Step
	Else  []Step
	Body  []Step
}

// Step is an operation plus what the program author expects it to do.
type Step struct {
	Op     Op
	Expect *Expectation
}

// Expectation describes the expected outcome of a step.
// A nil Expectation (or an empty Error) means the step must succeed.
type Expectation struct {
	Error    string // error code, e.g. "USE_AFTER_MOVE"
	Value    Value  // expected value for read-like operations
	RefCount *int64 // expected reference count after share/drop
}

// Program is a named sequence of steps.
type Program struct {
	Name        string
	Description string
	Shadowing   bool
	Steps       []Step
}

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Shallow returns the op without nested steps. Events record shallow ops;
// nested steps produce their own events.
func (op Op) Shallow() Op {
	op.Then, op.Else, op.Body = nil, nil, nil
	return op
}

// Validate checks the op's fields for its kind.
// Returns all errors (not fail-fast), including those of nested steps.
func (op Op) Validate() []ValidationError {
	return op.validate("op")
}

func (op Op) validate(path string) []ValidationError {
	var errs []ValidationError
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: path + "." + field, Message: msg})
	}

	if !ValidOpKinds[op.Kind] {
		add("op", fmt.Sprintf("unknown operation %q", op.Kind))
		return errs
	}

	needName := func() {
		if op.Name == "" {
			add("name", fmt.Sprintf("name is required for %s", op.Kind))
		}
	}
	needFrom := func() {
		if op.From == "" {
			add("from", fmt.Sprintf("from is required for %s", op.Kind))
		}
	}
	needValue := func() {
		if op.Value == nil {
			add("value", fmt.Sprintf("value is required for %s", op.Kind))
		}
	}

	switch op.Kind {
	case OpBind:
		needName()
		needValue()
		if op.Type != "" && !ValidKinds[op.Type] {
			add("kind", fmt.Sprintf("invalid kind %q", op.Type))
		}
	case OpMove, OpCopy, OpClone, OpShare:
		needName()
		needFrom()
		if op.Name != "" && op.Name == op.From {
			add("name", fmt.Sprintf("%s source and destination must differ", op.Kind))
		}
	case OpRead, OpDrop:
		needName()
	case OpAssign, OpMutate:
		needName()
		needValue()
	case OpPush:
		needName()
		if (op.Value == nil) == (op.From == "") {
			add("value", "push requires exactly one of value or from")
		}
	case OpIf:
		errs = append(errs, validateSteps(path+".then", op.Then)...)
		errs = append(errs, validateSteps(path+".else", op.Else)...)
	case OpLoop:
		if op.Times < 0 {
			add("times", "times must be non-negative")
		}
		if len(op.Body) == 0 {
			add("body", "loop body must be non-empty")
		}
		errs = append(errs, validateSteps(path+".body", op.Body)...)
	}

	return errs
}

// validateSteps checks the nested steps of a control op. Only top-level
// steps may carry expectations.
func validateSteps(path string, steps []Step) []ValidationError {
	var errs []ValidationError
	for i, s := range steps {
		p := fmt.Sprintf("%s[%d]", path, i)
		if s.Expect != nil {
			errs = append(errs, ValidationError{Field: p + ".expect", Message: "expectations are only allowed on top-level steps"})
		}
		errs = append(errs, s.Op.validate(p)...)
	}
	return errs
}

// Validate checks every step of the program.
func (p Program) Validate() []ValidationError {
	var errs []ValidationError
	if p.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "program name is required"})
	}
	if len(p.Steps) == 0 {
		errs = append(errs, ValidationError{Field: "steps", Message: "at least one step is required"})
	}
	for i, s := range p.Steps {
		errs = append(errs, s.Op.validate(fmt.Sprintf("steps[%d]", i))...)
	}
	return errs
}

// CountOps returns the number of ops in steps, nested ones included.
func CountOps(steps []Step) int {
	n := 0
	for _, s := range steps {
		n++
		n += CountOps(s.Op.Then) + CountOps(s.Op.Else) + CountOps(s.Op.Body)
	}
	return n
}

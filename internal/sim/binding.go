package sim

import "github.com/roach88/ownsim/internal/ir"

// State is the ownership state of a binding.
type State string

const (
	StateLive       State = "live"        // owns its value
	StateMoved      State = "moved"       // value moved elsewhere
	StateDropped    State = "dropped"     // value released
	StateMaybeMoved State = "maybe_moved" // moved on some control-flow path only
)

// cell is the shared storage behind shared handles. count equals the
// number of bindings that hold a handle to it.
type cell struct {
	value    ir.Value
	count    int64
	released bool
}

// binding is one named slot. holds is the drop flag: true while the
// binding must release something when its scope ends. Live and
// maybe-moved bindings hold; moved and dropped ones do not.
type binding struct {
	id      int
	name    string
	kind    ir.Kind
	state   State
	value   ir.Value
	cell    *cell
	holds   bool
	movedTo string
}

func (b *binding) current() ir.Value {
	if b.cell != nil {
		return b.cell.value
	}
	return b.value
}

func (b *binding) clone(cells map[*cell]*cell) *binding {
	c := *b
	c.value = ir.Clone(b.value)
	if b.cell != nil {
		nc, ok := cells[b.cell]
		if !ok {
			nc = &cell{value: ir.Clone(b.cell.value), count: b.cell.count, released: b.cell.released}
			cells[b.cell] = nc
		}
		c.cell = nc
	}
	return &c
}

// scope holds bindings in declaration order. byName points at the most
// recent binding per name; shadowed bindings stay in order until the
// scope ends.
type scope struct {
	byName map[string]*binding
	order  []*binding
}

func newScope() *scope {
	return &scope{byName: make(map[string]*binding)}
}

// BindingInfo is a read-only view of a visible binding.
type BindingInfo struct {
	Name     string
	Kind     ir.Kind
	State    State
	Value    ir.Value // nil unless the binding holds a value
	RefCount int64    // handle count for shared bindings
	Depth    int      // scope depth, 0 is the outermost
}

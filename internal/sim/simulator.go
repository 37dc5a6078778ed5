package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/ownsim/internal/ir"
)

// Simulator tracks bindings and applies ownership operations.
//
// Thread-safety: every exported method takes the simulator's mutex, so a
// Simulator may be shared between goroutines. Operations are still applied
// one at a time in the order callers acquire the lock.
//
// INVARIANTS:
//   - A failed operation leaves every binding and cell unchanged, if and
//     loop included: their blocks run on a copy committed on success
//   - A cell's count equals the number of bindings holding a handle to it
//   - A cell is released exactly once, when its count reaches zero
//   - Scopes drop their bindings in reverse declaration order
type Simulator struct {
	mu sync.Mutex

	scopes []*scope
	floor  int // scopes at or below this count cannot be closed by end
	nextID int

	shadowing bool
	sessionID string
	clock     SeqSource
	recorder  Recorder
	maxSteps  int
	quota     *QuotaEnforcer
	analysis  *QuotaEnforcer // shared by all snapshots, see snapshot
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithShadowing allows bind to reuse a name the current scope still owns.
// The older binding is hidden but keeps its value until the scope ends.
func WithShadowing(enabled bool) Option {
	return func(s *Simulator) {
		s.shadowing = enabled
	}
}

// WithMaxSteps sets the maximum number of operations, nested ones included.
// Checking if and loop blocks before they run draws on a separate budget
// of the same size.
//
// Default: 10000 steps (DefaultMaxSteps)
func WithMaxSteps(maxSteps int) Option {
	return func(s *Simulator) {
		s.maxSteps = maxSteps
	}
}

// WithClock sets the seq source used to stamp events.
func WithClock(clock SeqSource) Option {
	return func(s *Simulator) {
		s.clock = clock
	}
}

// WithRecorder sets where events go. Default: discarded.
func WithRecorder(r Recorder) Option {
	return func(s *Simulator) {
		s.recorder = r
	}
}

// WithSessionID sets the session ID stamped on every event.
func WithSessionID(id string) Option {
	return func(s *Simulator) {
		s.sessionID = id
	}
}

// New creates a Simulator with a single outermost scope.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		scopes:   []*scope{newScope()},
		floor:    1,
		clock:    NewClock(),
		recorder: Discard,
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.quota = NewQuotaEnforcer(s.maxSteps)
	s.analysis = NewQuotaEnforcer(s.maxSteps)
	return s
}

// SessionID returns the session ID stamped on events.
func (s *Simulator) SessionID() string {
	return s.sessionID
}

// Apply validates and applies one operation, records its event and returns
// it. The returned error is the operation's failure (see CodeOf), a context
// error, or a recorder failure.
func (s *Simulator) Apply(ctx context.Context, op ir.Op) (ir.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, op, 0)
}

// result is what an operation reports back into its event.
type result struct {
	value      ir.Value
	refCount   int64
	dropped    []string
	released   bool
	maybeMoved []string
}

func (r *result) merge(other result) {
	r.dropped = append(r.dropped, other.dropped...)
	r.released = r.released || other.released
}

func (s *Simulator) apply(ctx context.Context, op ir.Op, depth int) (ir.Event, error) {
	if err := ctx.Err(); err != nil {
		return ir.Event{}, err
	}

	// Seq is taken before dispatch so control events precede their children.
	seq := s.clock.Next()

	var res result
	var opErr error
	if err := s.quota.Check(s.sessionID); err != nil {
		slog.Error("max steps quota exceeded",
			"session", s.sessionID,
			"steps", s.quota.Current(),
			"limit", s.quota.MaxSteps())
		opErr = err
	} else if errs := op.Validate(); len(errs) > 0 {
		opErr = opError(ErrCodeInvalidOp, op.Name, "%s", errs[0].Error())
	} else {
		res, opErr = s.dispatch(ctx, op, depth)
	}

	return s.emit(ctx, seq, depth, op, res, opErr)
}

// emit builds, hashes and records the event for an applied operation.
func (s *Simulator) emit(ctx context.Context, seq int64, depth int, op ir.Op, res result, opErr error) (ir.Event, error) {
	ev := ir.Event{
		SessionID:  s.sessionID,
		Seq:        seq,
		Depth:      depth,
		Op:         op.Shallow(),
		Outcome:    ir.OutcomeOK,
		Value:      res.value,
		RefCount:   res.refCount,
		Dropped:    res.dropped,
		Released:   res.released,
		MaybeMoved: res.maybeMoved,
	}
	if opErr != nil {
		ev.Outcome = ir.OutcomeError
		ev.ErrorCode = string(CodeOf(opErr))
		ev.ErrorMessage = opErr.Error()
	}

	id, err := ir.EventID(ev)
	if err != nil {
		return ev, fmt.Errorf("compute event ID: %w", err)
	}
	ev.ID = id

	if err := s.recorder.Record(ctx, ev); err != nil {
		return ev, fmt.Errorf("record event seq=%d: %w", seq, err)
	}

	slog.Debug("op applied",
		"session", s.sessionID,
		"seq", seq,
		"depth", depth,
		"op", op.Kind,
		"outcome", ev.Outcome,
		"error_code", ev.ErrorCode)

	return ev, opErr
}

func (s *Simulator) dispatch(ctx context.Context, op ir.Op, depth int) (result, error) {
	switch op.Kind {
	case ir.OpBind:
		return s.bind(op)
	case ir.OpMove:
		return s.move(op)
	case ir.OpCopy:
		return s.copyValue(op)
	case ir.OpClone:
		return s.cloneValue(op)
	case ir.OpRead:
		return s.read(op)
	case ir.OpAssign:
		return s.assign(op)
	case ir.OpMutate:
		return s.mutate(op)
	case ir.OpPush:
		return s.push(op)
	case ir.OpShare:
		return s.share(op)
	case ir.OpDrop:
		return s.drop(op)
	case ir.OpBegin:
		s.scopes = append(s.scopes, newScope())
		return result{}, nil
	case ir.OpEnd:
		if len(s.scopes) <= s.floor {
			return result{}, opError(ErrCodeScopeUnderflow, "", "end without matching begin")
		}
		return s.popScope(), nil
	case ir.OpIf:
		return s.applyIf(ctx, op, depth)
	case ir.OpLoop:
		return s.applyLoop(ctx, op, depth)
	}
	return result{}, opError(ErrCodeInvalidOp, op.Name, "unknown operation %q", op.Kind)
}

// lookup resolves name from the innermost scope outwards.
func (s *Simulator) lookup(name string) (*binding, int, error) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if b, ok := s.scopes[i].byName[name]; ok {
			return b, i, nil
		}
	}
	return nil, 0, opError(ErrCodeUnbound, name, "not bound in any scope")
}

// live resolves name and requires that it still owns its value.
func (s *Simulator) live(name string) (*binding, error) {
	b, _, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if b.state != StateLive {
		return nil, &UseAfterMoveError{Name: name, State: b.state, MovedTo: b.movedTo}
	}
	return b, nil
}

// checkBindable fails when the current scope still owns name and
// shadowing is off.
func (s *Simulator) checkBindable(name string) error {
	top := s.scopes[len(s.scopes)-1]
	if b, ok := top.byName[name]; ok && b.holds && !s.shadowing {
		return &RedefinitionError{Name: name, Depth: len(s.scopes) - 1}
	}
	return nil
}

func (s *Simulator) declare(name string, kind ir.Kind) *binding {
	s.nextID++
	b := &binding{id: s.nextID, name: name, kind: kind, state: StateLive, holds: true}
	top := s.scopes[len(s.scopes)-1]
	top.byName[name] = b
	top.order = append(top.order, b)
	return b
}

// release gives up b's ownership. Returns true if a shared cell reached zero.
func (s *Simulator) release(b *binding, state State) bool {
	released := false
	if b.holds && b.cell != nil {
		b.cell.count--
		if b.cell.count == 0 {
			b.cell.released = true
			b.cell.value = nil
			released = true
		}
	}
	b.value = nil
	b.cell = nil
	b.holds = false
	b.state = state
	return released
}

func (s *Simulator) popScope() result {
	var res result
	top := s.scopes[len(s.scopes)-1]
	for i := len(top.order) - 1; i >= 0; i-- {
		b := top.order[i]
		if !b.holds {
			continue
		}
		if s.release(b, StateDropped) {
			res.released = true
		}
		res.dropped = append(res.dropped, b.name)
	}
	s.scopes = s.scopes[:len(s.scopes)-1]
	return res
}

func (s *Simulator) bind(op ir.Op) (result, error) {
	kind := op.Type
	if kind == "" {
		kind = ir.InferKind(op.Value)
	}
	if err := s.checkBindable(op.Name); err != nil {
		return result{}, err
	}

	b := s.declare(op.Name, kind)
	res := result{value: ir.Clone(op.Value)}
	if kind == ir.KindShared {
		b.cell = &cell{value: ir.Clone(op.Value), count: 1}
		res.refCount = 1
	} else {
		b.value = ir.Clone(op.Value)
	}
	return res, nil
}

func (s *Simulator) move(op ir.Op) (result, error) {
	src, err := s.live(op.From)
	if err != nil {
		return result{}, err
	}
	if err := s.checkBindable(op.Name); err != nil {
		return result{}, err
	}

	dst := s.declare(op.Name, src.kind)
	dst.value, dst.cell = src.value, src.cell
	src.value, src.cell, src.holds = nil, nil, false
	src.state, src.movedTo = StateMoved, op.Name

	var res result
	if dst.cell != nil {
		res.refCount = dst.cell.count
	}
	return res, nil
}

func (s *Simulator) copyValue(op ir.Op) (result, error) {
	src, err := s.live(op.From)
	if err != nil {
		return result{}, err
	}
	if src.kind != ir.KindCopy {
		hint := "use clone"
		if src.kind == ir.KindShared {
			hint = "use share"
		}
		return result{}, opError(ErrCodeNotCopyable, op.From, "%s value is not copyable (%s)", src.kind, hint)
	}
	if err := s.checkBindable(op.Name); err != nil {
		return result{}, err
	}

	dst := s.declare(op.Name, ir.KindCopy)
	dst.value = ir.Clone(src.value)
	return result{value: ir.Clone(src.value)}, nil
}

func (s *Simulator) cloneValue(op ir.Op) (result, error) {
	src, err := s.live(op.From)
	if err != nil {
		return result{}, err
	}
	// Cloning a handle clones the handle, not the value behind it.
	if src.kind == ir.KindShared {
		return s.share(op)
	}
	if err := s.checkBindable(op.Name); err != nil {
		return result{}, err
	}

	dst := s.declare(op.Name, src.kind)
	dst.value = ir.Clone(src.value)
	return result{value: ir.Clone(src.value)}, nil
}

func (s *Simulator) read(op ir.Op) (result, error) {
	b, err := s.live(op.Name)
	if err != nil {
		return result{}, err
	}
	res := result{value: ir.Clone(b.current())}
	if b.cell != nil {
		res.refCount = b.cell.count
	}
	return res, nil
}

// assign stores a new value. A binding that still holds a value drops it
// first; a moved or dropped binding is reinitialised.
func (s *Simulator) assign(op ir.Op) (result, error) {
	b, _, err := s.lookup(op.Name)
	if err != nil {
		return result{}, err
	}

	var res result
	if b.holds {
		res.released = s.release(b, StateDropped)
		res.dropped = []string{b.name}
	}
	if b.kind == ir.KindShared {
		b.cell = &cell{value: ir.Clone(op.Value), count: 1}
		res.refCount = 1
	} else {
		b.value = ir.Clone(op.Value)
	}
	b.state, b.holds, b.movedTo = StateLive, true, ""
	res.value = ir.Clone(op.Value)
	return res, nil
}

func (s *Simulator) mutate(op ir.Op) (result, error) {
	b, err := s.live(op.Name)
	if err != nil {
		return result{}, err
	}
	if b.kind == ir.KindShared {
		return result{}, opError(ErrCodeSharedMutation, op.Name, "cannot mutate through a shared handle")
	}
	b.value = ir.Clone(op.Value)
	return result{value: ir.Clone(op.Value)}, nil
}

func (s *Simulator) push(op ir.Op) (result, error) {
	target, err := s.live(op.Name)
	if err != nil {
		return result{}, err
	}
	if target.kind == ir.KindShared {
		return result{}, opError(ErrCodeSharedMutation, op.Name, "cannot push through a shared handle")
	}
	arr, ok := target.value.(ir.Array)
	if !ok {
		return result{}, opError(ErrCodeNotArray, op.Name, "cannot push onto %s", ir.TypeName(target.value))
	}

	var src *binding
	elem := ir.Clone(op.Value)
	if op.From != "" {
		if src, err = s.live(op.From); err != nil {
			return result{}, err
		}
		if src == target {
			return result{}, opError(ErrCodeInvalidOp, op.Name, "cannot push an array into itself")
		}
		if src.kind == ir.KindShared {
			return result{}, opError(ErrCodeInvalidOp, op.From, "shared handles cannot be stored in arrays")
		}
		elem = src.value
	}

	// Fresh backing array: snapshots must never alias live storage.
	next := make(ir.Array, len(arr), len(arr)+1)
	copy(next, arr)
	next = append(next, elem)
	target.value = next

	if src != nil {
		src.value, src.holds = nil, false
		src.state, src.movedTo = StateMoved, fmt.Sprintf("%s[%d]", target.name, len(arr))
	}
	return result{value: ir.Clone(next)}, nil
}

// share creates another handle to from's value. An owned or copy binding
// is promoted to a shared cell first; its own handle then counts as one.
func (s *Simulator) share(op ir.Op) (result, error) {
	src, err := s.live(op.From)
	if err != nil {
		return result{}, err
	}
	if err := s.checkBindable(op.Name); err != nil {
		return result{}, err
	}

	if src.cell == nil {
		src.cell = &cell{value: src.value, count: 1}
		src.value = nil
		src.kind = ir.KindShared
	}
	src.cell.count++

	dst := s.declare(op.Name, ir.KindShared)
	dst.cell = src.cell
	return result{refCount: src.cell.count}, nil
}

func (s *Simulator) drop(op ir.Op) (result, error) {
	b, err := s.live(op.Name)
	if err != nil {
		return result{}, err
	}
	c := b.cell
	res := result{dropped: []string{b.name}}
	res.released = s.release(b, StateDropped)
	if c != nil {
		res.refCount = c.count
	}
	return res, nil
}

// Bind introduces name holding value. An empty kind is inferred.
func (s *Simulator) Bind(name string, value ir.Value, kind ir.Kind) error {
	return s.applyBackground(ir.Op{Kind: ir.OpBind, Name: name, Value: value, Type: kind})
}

// Move transfers from's value to a new binding to. from becomes dead.
func (s *Simulator) Move(from, to string) error {
	return s.applyBackground(ir.Op{Kind: ir.OpMove, From: from, Name: to})
}

// Copy duplicates a copy-kind value into a new binding. from stays live.
func (s *Simulator) Copy(from, to string) error {
	return s.applyBackground(ir.Op{Kind: ir.OpCopy, From: from, Name: to})
}

// Clone deep-copies from's value into a new binding.
func (s *Simulator) Clone(from, to string) error {
	return s.applyBackground(ir.Op{Kind: ir.OpClone, From: from, Name: to})
}

// Read returns a copy of name's current value.
func (s *Simulator) Read(name string) (ir.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, err := s.apply(context.Background(), ir.Op{Kind: ir.OpRead, Name: name}, 0)
	if err != nil {
		return nil, err
	}
	return ev.Value, nil
}

// Assign stores value in name, dropping whatever name held.
func (s *Simulator) Assign(name string, value ir.Value) error {
	return s.applyBackground(ir.Op{Kind: ir.OpAssign, Name: name, Value: value})
}

// Mutate replaces name's value in place.
func (s *Simulator) Mutate(name string, value ir.Value) error {
	return s.applyBackground(ir.Op{Kind: ir.OpMutate, Name: name, Value: value})
}

// Push appends value to the array held by name.
func (s *Simulator) Push(name string, value ir.Value) error {
	return s.applyBackground(ir.Op{Kind: ir.OpPush, Name: name, Value: value})
}

// PushFrom moves from's value onto the end of the array held by name.
func (s *Simulator) PushFrom(name, from string) error {
	return s.applyBackground(ir.Op{Kind: ir.OpPush, Name: name, From: from})
}

// Share creates a new shared handle to from's value.
func (s *Simulator) Share(from, to string) error {
	return s.applyBackground(ir.Op{Kind: ir.OpShare, From: from, Name: to})
}

// Drop releases name. A shared handle decrements its cell's count.
func (s *Simulator) Drop(name string) error {
	return s.applyBackground(ir.Op{Kind: ir.OpDrop, Name: name})
}

// Begin opens a nested scope.
func (s *Simulator) Begin() error {
	return s.applyBackground(ir.Op{Kind: ir.OpBegin})
}

// End closes the innermost scope, dropping its bindings in reverse order.
func (s *Simulator) End() error {
	return s.applyBackground(ir.Op{Kind: ir.OpEnd})
}

func (s *Simulator) applyBackground(op ir.Op) error {
	_, err := s.Apply(context.Background(), op)
	return err
}

// RefCount returns the number of handles to name's shared cell.
// It is a query: no event is recorded.
func (s *Simulator) RefCount(name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.live(name)
	if err != nil {
		return 0, err
	}
	if b.cell == nil {
		return 0, opError(ErrCodeNotShared, name, "%s binding has no reference count", b.kind)
	}
	return b.cell.count, nil
}

// StateOf returns the ownership state of the binding name resolves to.
func (s *Simulator) StateOf(name string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, _, err := s.lookup(name)
	if err != nil {
		return "", err
	}
	return b.state, nil
}

// Depth returns the number of open scopes beyond the outermost.
func (s *Simulator) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scopes) - 1
}

// Bindings lists visible bindings, outermost scope first and in
// declaration order within a scope. Shadowed bindings are omitted.
func (s *Simulator) Bindings() []BindingInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := []BindingInfo{}
	for depth, sc := range s.scopes {
		for _, b := range sc.order {
			if sc.byName[b.name] != b || s.hidden(b.name, depth) {
				continue
			}
			info := BindingInfo{Name: b.name, Kind: b.kind, State: b.state, Depth: depth}
			if b.holds {
				info.Value = ir.Clone(b.current())
			}
			if b.cell != nil {
				info.RefCount = b.cell.count
			}
			infos = append(infos, info)
		}
	}
	return infos
}

// hidden reports whether an inner scope rebinds name.
func (s *Simulator) hidden(name string, depth int) bool {
	for i := depth + 1; i < len(s.scopes); i++ {
		if _, ok := s.scopes[i].byName[name]; ok {
			return true
		}
	}
	return false
}

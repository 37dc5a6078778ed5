package sim

import (
	"context"
	"errors"

	"github.com/roach88/ownsim/internal/ir"
)

// applyIf checks both branches on snapshots, then runs the taken branch.
// Bindings that only the untaken branch would move become maybe-moved.
// The taken branch runs on a working copy that is committed only if the
// whole branch succeeds.
func (s *Simulator) applyIf(ctx context.Context, op ir.Op, depth int) (result, error) {
	taken, untaken := op.Then, op.Else
	if !op.Cond {
		taken, untaken = op.Else, op.Then
	}

	if _, err := s.snapshot().check(ctx, taken); err != nil {
		return result{}, err
	}
	other, err := s.snapshot().check(ctx, untaken)
	if err != nil {
		return result{}, err
	}

	work := s.fork()
	if err := work.runBlock(ctx, taken, depth+1); err != nil {
		return result{}, err
	}
	s.commit(work)
	return result{maybeMoved: s.weaken(other)}, nil
}

// applyLoop checks the body over two iterations on a snapshot, so a value
// moved in one iteration and used in the next is caught before anything
// runs. The body then runs op.Times times on a working copy, committed only
// if every iteration succeeds. Events of a failed run stay in the trace.
func (s *Simulator) applyLoop(ctx context.Context, op ir.Op, depth int) (result, error) {
	snap := s.snapshot()
	after, err := snap.check(ctx, op.Body)
	if err != nil {
		return result{}, err
	}
	if _, err := snap.check(ctx, op.Body); err != nil {
		var ue *UseAfterMoveError
		if errors.As(err, &ue) {
			return result{}, &UseAfterMoveError{
				Name:    ue.Name,
				State:   ue.State,
				MovedTo: ue.MovedTo,
				Reason:  "value moved in previous iteration of loop",
			}
		}
		return result{}, err
	}

	work := s.fork()
	for i := 0; i < op.Times; i++ {
		if err := work.runBlock(ctx, op.Body, depth+1); err != nil {
			return result{}, err
		}
	}
	s.commit(work)
	// The loop may run zero times, so moves in the body are uncertain.
	return result{maybeMoved: s.weaken(after)}, nil
}

// weaken marks live bindings as maybe-moved when another path leaves them
// without a value. Returns the affected names in scope order.
func (s *Simulator) weaken(other map[int]State) []string {
	var names []string
	for _, sc := range s.scopes {
		for _, b := range sc.order {
			if b.state != StateLive {
				continue
			}
			if st, ok := other[b.id]; ok && st != StateLive {
				b.state = StateMaybeMoved
				names = append(names, b.name)
			}
		}
	}
	return names
}

// runBlock runs steps inside an implicit scope. Scopes the block opens and
// does not close are closed with it. If closing the block drops anything,
// an end event is recorded after the block's own events.
func (s *Simulator) runBlock(ctx context.Context, steps []ir.Step, depth int) error {
	base := len(s.scopes)
	savedFloor := s.floor
	s.scopes = append(s.scopes, newScope())
	s.floor = len(s.scopes)

	var runErr error
	for _, step := range steps {
		if _, err := s.apply(ctx, step.Op, depth); err != nil {
			runErr = err
			break
		}
	}

	s.floor = savedFloor
	var res result
	for len(s.scopes) > base {
		res.merge(s.popScope())
	}
	if runErr != nil {
		return runErr
	}
	if len(res.dropped) == 0 {
		return nil
	}
	_, err := s.emit(ctx, s.clock.Next(), depth, ir.Op{Kind: ir.OpEnd}, res, nil)
	return err
}

// check runs steps as a block and returns the resulting state of every
// binding by ID. Only called on snapshots.
func (s *Simulator) check(ctx context.Context, steps []ir.Step) (map[int]State, error) {
	if err := s.runBlock(ctx, steps, 0); err != nil {
		return nil, err
	}
	states := make(map[int]State)
	for _, sc := range s.scopes {
		for _, b := range sc.order {
			states[b.id] = b.state
		}
	}
	return states, nil
}

// snapshot deep-copies the binding state for checking a path. The copy
// records nothing and has its own clock. Every snapshot of a simulator
// draws on the same analysis budget, so nested control flow cannot check
// more operations in total than the step limit.
func (s *Simulator) snapshot() *Simulator {
	c := s.copyState()
	c.clock = NewClock()
	c.recorder = Discard
	c.quota = s.analysis
	return c
}

// fork deep-copies the binding state for a real run. The copy shares the
// clock, recorder and step quota, so its events and steps count as the
// simulator's own. See commit.
func (s *Simulator) fork() *Simulator {
	c := s.copyState()
	c.clock = s.clock
	c.recorder = s.recorder
	c.quota = s.quota
	return c
}

// commit adopts the binding state of a fork.
func (s *Simulator) commit(work *Simulator) {
	s.scopes = work.scopes
	s.floor = work.floor
	s.nextID = work.nextID
}

func (s *Simulator) copyState() *Simulator {
	cells := make(map[*cell]*cell)
	scopes := make([]*scope, len(s.scopes))
	for i, sc := range s.scopes {
		ns := newScope()
		for _, b := range sc.order {
			nb := b.clone(cells)
			ns.order = append(ns.order, nb)
			if sc.byName[b.name] == b {
				ns.byName[b.name] = nb
			}
		}
		scopes[i] = ns
	}
	return &Simulator{
		scopes:    scopes,
		floor:     s.floor,
		nextID:    s.nextID,
		shadowing: s.shadowing,
		sessionID: s.sessionID,
		maxSteps:  s.maxSteps,
		analysis:  s.analysis,
	}
}

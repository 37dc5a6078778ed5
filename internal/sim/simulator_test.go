package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ownsim/internal/ir"
)

func newRecorded(t *testing.T, opts ...Option) (*Simulator, *MemoryRecorder) {
	t.Helper()
	rec := NewMemoryRecorder()
	all := append([]Option{WithSessionID("test-session"), WithRecorder(rec)}, opts...)
	return New(all...), rec
}

func lastEvent(t *testing.T, rec *MemoryRecorder) ir.Event {
	t.Helper()
	events := rec.Sorted()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

// TestScenario_MoveChain: a vector moved twice leaves only the last owner live.
func TestScenario_MoveChain(t *testing.T) {
	s, _ := newRecorded(t)
	require.NoError(t, s.Bind("s", ir.Strings("udon", "ramen", "soba"), ""))
	require.NoError(t, s.Move("s", "t"))
	require.NoError(t, s.Move("t", "u"))

	_, err := s.Read("s")
	require.Error(t, err)
	var ue *UseAfterMoveError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "s", ue.Name)
	assert.Equal(t, StateMoved, ue.State)
	assert.Equal(t, "t", ue.MovedTo)

	_, err = s.Read("t")
	assert.True(t, IsUseAfterMove(err))

	v, err := s.Read("u")
	require.NoError(t, err)
	assert.Equal(t, ir.Strings("udon", "ramen", "soba"), v)
}

// TestScenario_CopyIsIndependent: mutating a copy leaves the original alone.
func TestScenario_CopyIsIndependent(t *testing.T) {
	s, _ := newRecorded(t)
	require.NoError(t, s.Bind("s", ir.String("Govinda"), ir.KindCopy))
	require.NoError(t, s.Copy("s", "t"))
	require.NoError(t, s.Mutate("t", ir.String("Siddhartha")))

	v, err := s.Read("s")
	require.NoError(t, err)
	assert.Equal(t, ir.String("Govinda"), v)

	v, err = s.Read("t")
	require.NoError(t, err)
	assert.Equal(t, ir.String("Siddhartha"), v)
}

// TestScenario_SharedCountsAndRelease: two shares make three handles; the
// value is released when the last one drops.
func TestScenario_SharedCountsAndRelease(t *testing.T) {
	s, rec := newRecorded(t)
	require.NoError(t, s.Bind("s", ir.Strings("udon", "ramen", "soba"), ir.KindShared))
	require.NoError(t, s.Share("s", "t"))
	require.NoError(t, s.Share("s", "u"))

	n, err := s.RefCount("s")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, s.Drop("s"))
	n, err = s.RefCount("u")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.False(t, lastEvent(t, rec).Released)

	require.NoError(t, s.Drop("t"))
	assert.Equal(t, int64(1), lastEvent(t, rec).RefCount)

	require.NoError(t, s.Drop("u"))
	ev := lastEvent(t, rec)
	assert.Equal(t, int64(0), ev.RefCount)
	assert.True(t, ev.Released)
	assert.Equal(t, []string{"u"}, ev.Dropped)

	released := 0
	for _, e := range rec.Sorted() {
		if e.Released {
			released++
		}
	}
	assert.Equal(t, 1, released, "a cell is released exactly once")
}

func TestMove_KillsCopyKindSource(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("n", ir.Int(1), ""))
	require.NoError(t, s.Move("n", "m"))

	st, err := s.StateOf("n")
	require.NoError(t, err)
	assert.Equal(t, StateMoved, st)
}

func TestCopy_NotCopyable(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("s", ir.Strings("udon"), ""))

	err := s.Copy("s", "t")
	assert.Equal(t, ErrCodeNotCopyable, CodeOf(err))
	assert.Contains(t, err.Error(), "clone")

	_, err = s.StateOf("t")
	assert.Equal(t, ErrCodeUnbound, CodeOf(err), "failed copy creates nothing")
}

func TestClone_OwnedIsDeep(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("v", ir.Strings("a"), ""))
	require.NoError(t, s.Clone("v", "w"))
	require.NoError(t, s.Push("w", ir.String("b")))

	v, err := s.Read("v")
	require.NoError(t, err)
	assert.Equal(t, ir.Strings("a"), v)

	w, err := s.Read("w")
	require.NoError(t, err)
	assert.Equal(t, ir.Strings("a", "b"), w)
}

func TestClone_SharedClonesHandle(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("rc", ir.Int(7), ir.KindShared))
	require.NoError(t, s.Clone("rc", "rc2"))

	n, err := s.RefCount("rc2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestShare_PromotesOwned(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("s", ir.String("Govinda"), ""))
	require.NoError(t, s.Share("s", "t"))

	n, err := s.RefCount("s")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	err = s.Mutate("s", ir.String("Siddhartha"))
	assert.Equal(t, ErrCodeSharedMutation, CodeOf(err))

	v, err := s.Read("t")
	require.NoError(t, err)
	assert.Equal(t, ir.String("Govinda"), v, "failed mutate leaves the value")
}

func TestMove_HandleKeepsCount(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("a", ir.Int(1), ir.KindShared))
	require.NoError(t, s.Share("a", "b"))
	require.NoError(t, s.Move("b", "c"))

	n, err := s.RefCount("c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "moving a handle neither adds nor removes one")
}

func TestRefCount_NotShared(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("n", ir.Int(1), ""))
	_, err := s.RefCount("n")
	assert.Equal(t, ErrCodeNotShared, CodeOf(err))
}

func TestRead_Unbound(t *testing.T) {
	s := New()
	_, err := s.Read("ghost")
	assert.Equal(t, ErrCodeUnbound, CodeOf(err))
}

func TestRead_AfterDrop(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("s", ir.String("x"), ""))
	require.NoError(t, s.Drop("s"))

	_, err := s.Read("s")
	var ue *UseAfterMoveError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, StateDropped, ue.State)
	assert.Contains(t, err.Error(), "dropped")

	assert.True(t, IsUseAfterMove(s.Drop("s")), "double drop is a use after drop")
}

func TestBind_Redefinition(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("x", ir.Int(1), ""))

	err := s.Bind("x", ir.Int(2), "")
	require.Error(t, err)
	assert.True(t, IsRedefinition(err))

	v, err := s.Read("x")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), v)
}

func TestBind_AfterDropOrMove(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("x", ir.Int(1), ""))
	require.NoError(t, s.Drop("x"))
	require.NoError(t, s.Bind("x", ir.Int(2), ""))

	require.NoError(t, s.Move("x", "y"))
	require.NoError(t, s.Bind("x", ir.Int(3), ""))

	v, err := s.Read("x")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(3), v)
}

func TestMove_IntoOwnedNameFails(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("s", ir.String("a"), ""))
	require.NoError(t, s.Bind("t", ir.String("b"), ""))

	err := s.Move("s", "t")
	assert.True(t, IsRedefinition(err))

	st, err := s.StateOf("s")
	require.NoError(t, err)
	assert.Equal(t, StateLive, st, "failed move leaves the source live")
}

func TestShadowing_KeepsOldValueUntilScopeEnd(t *testing.T) {
	s, rec := newRecorded(t, WithShadowing(true))
	require.NoError(t, s.Begin())
	require.NoError(t, s.Bind("x", ir.String("a"), ""))
	require.NoError(t, s.Bind("x", ir.String("b"), ""))

	v, err := s.Read("x")
	require.NoError(t, err)
	assert.Equal(t, ir.String("b"), v)

	require.NoError(t, s.End())
	assert.Equal(t, []string{"x", "x"}, lastEvent(t, rec).Dropped)
}

func TestInnerScopeHidesOuter(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("x", ir.Int(1), ""))
	require.NoError(t, s.Begin())
	require.NoError(t, s.Bind("x", ir.Int(2), ""), "a new scope may rebind")

	v, err := s.Read("x")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(2), v)

	infos := s.Bindings()
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].Depth)

	require.NoError(t, s.End())
	v, err = s.Read("x")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), v)
}

func TestEnd_DropsInReverseOrder(t *testing.T) {
	s, rec := newRecorded(t)
	require.NoError(t, s.Begin())
	require.NoError(t, s.Bind("a", ir.Int(1), ""))
	require.NoError(t, s.Bind("b", ir.String("x"), ""))
	require.NoError(t, s.Bind("c", ir.Strings("y"), ""))
	require.NoError(t, s.Move("b", "d"))
	require.NoError(t, s.End())

	assert.Equal(t, []string{"d", "c", "a"}, lastEvent(t, rec).Dropped, "moved-out b is skipped")
	assert.Equal(t, 0, s.Depth())
}

func TestEnd_ReleasesSharedCell(t *testing.T) {
	s, rec := newRecorded(t)
	require.NoError(t, s.Bind("outer", ir.Int(1), ir.KindShared))
	require.NoError(t, s.Begin())
	require.NoError(t, s.Share("outer", "inner"))
	require.NoError(t, s.End())
	assert.False(t, lastEvent(t, rec).Released)

	n, err := s.RefCount("outer")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.Begin())
	require.NoError(t, s.Move("outer", "moved"))
	require.NoError(t, s.End())
	assert.True(t, lastEvent(t, rec).Released)
}

func TestEnd_Underflow(t *testing.T) {
	s := New()
	err := s.End()
	assert.Equal(t, ErrCodeScopeUnderflow, CodeOf(err))
}

func TestAssign_DropsPreviousValue(t *testing.T) {
	s, rec := newRecorded(t)
	require.NoError(t, s.Bind("s", ir.String("Govinda"), ""))
	require.NoError(t, s.Assign("s", ir.String("Siddhartha")))
	assert.Equal(t, []string{"s"}, lastEvent(t, rec).Dropped)

	require.NoError(t, s.Move("s", "t"))
	require.NoError(t, s.Assign("s", ir.String("Vasudeva")))
	assert.Empty(t, lastEvent(t, rec).Dropped, "a moved binding has nothing to drop")

	v, err := s.Read("s")
	require.NoError(t, err)
	assert.Equal(t, ir.String("Vasudeva"), v)
}

func TestAssign_SharedReplacesHandle(t *testing.T) {
	s, rec := newRecorded(t)
	require.NoError(t, s.Bind("a", ir.Int(1), ir.KindShared))
	require.NoError(t, s.Assign("a", ir.Int(2)))

	ev := lastEvent(t, rec)
	assert.True(t, ev.Released, "old cell lost its only handle")
	assert.Equal(t, int64(1), ev.RefCount)
}

func TestPush(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("v", ir.Array{}, ""))
	require.NoError(t, s.Bind("p", ir.String("Palestrina"), ""))
	require.NoError(t, s.Push("v", ir.String("Dowland")))
	require.NoError(t, s.PushFrom("v", "p"))

	v, err := s.Read("v")
	require.NoError(t, err)
	assert.Equal(t, ir.Strings("Dowland", "Palestrina"), v)

	_, err = s.Read("p")
	var ue *UseAfterMoveError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "v[1]", ue.MovedTo)
}

func TestPush_Errors(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("str", ir.String("x"), ""))
	require.NoError(t, s.Bind("v", ir.Array{}, ""))
	require.NoError(t, s.Bind("rc", ir.Array{}, ir.KindShared))

	assert.Equal(t, ErrCodeNotArray, CodeOf(s.Push("str", ir.Int(1))))
	assert.Equal(t, ErrCodeSharedMutation, CodeOf(s.Push("rc", ir.Int(1))))
	assert.Equal(t, ErrCodeInvalidOp, CodeOf(s.PushFrom("v", "v")))
	assert.Equal(t, ErrCodeInvalidOp, CodeOf(s.PushFrom("v", "rc")))

	st, err := s.StateOf("rc")
	require.NoError(t, err)
	assert.Equal(t, StateLive, st)
}

func TestApply_InvalidOp(t *testing.T) {
	s, rec := newRecorded(t)
	ev, err := s.Apply(context.Background(), ir.Op{Kind: ir.OpMove, Name: "t"})
	assert.Equal(t, ErrCodeInvalidOp, CodeOf(err))
	assert.Equal(t, ir.OutcomeError, ev.Outcome)
	assert.Equal(t, string(ErrCodeInvalidOp), ev.ErrorCode)
	assert.Equal(t, 1, rec.Len(), "failed ops are still recorded")
}

func TestApply_EventFields(t *testing.T) {
	s, _ := newRecorded(t)
	ev, err := s.Apply(context.Background(), ir.Op{Kind: ir.OpBind, Name: "s", Value: ir.String("x")})
	require.NoError(t, err)

	assert.Equal(t, "test-session", ev.SessionID)
	assert.Equal(t, int64(1), ev.Seq)
	assert.Equal(t, 0, ev.Depth)
	assert.Equal(t, ir.OutcomeOK, ev.Outcome)
	assert.Equal(t, ir.String("x"), ev.Value)
	assert.Equal(t, ir.MustEventID(ev), ev.ID)
}

func TestApply_CancelledContext(t *testing.T) {
	s, rec := newRecorded(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Apply(ctx, ir.Op{Kind: ir.OpBegin})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ErrorCode(""), CodeOf(err))
	assert.Equal(t, 0, rec.Len())
}

func TestApply_RecorderFailure(t *testing.T) {
	boom := RecorderFunc(func(context.Context, ir.Event) error { return assert.AnError })
	s := New(WithRecorder(boom))

	_, err := s.Apply(context.Background(), ir.Op{Kind: ir.OpBegin})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestBindings_View(t *testing.T) {
	s := New()
	require.NoError(t, s.Bind("a", ir.Int(1), ""))
	require.NoError(t, s.Bind("b", ir.String("x"), ir.KindShared))
	require.NoError(t, s.Move("a", "c"))

	infos := s.Bindings()
	require.Len(t, infos, 3)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, StateMoved, infos[0].State)
	assert.Nil(t, infos[0].Value)
	assert.Equal(t, int64(1), infos[1].RefCount)
	assert.Equal(t, ir.Int(1), infos[2].Value)
	assert.Equal(t, ir.KindCopy, infos[2].Kind)
}

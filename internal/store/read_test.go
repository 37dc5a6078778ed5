package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ownsim/internal/ir"
	"github.com/roach88/ownsim/internal/sim"
)

func TestReadSession_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := createTestSession("session-1")
	sess.Shadowing = true
	sess.MaxSteps = 40
	require.NoError(t, s.WriteSession(ctx, sess))

	got, err := s.ReadSession(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, sess.Program, got.Program)
	assert.Equal(t, sess.ProgramHash, got.ProgramHash)
	assert.True(t, got.Shadowing)
	assert.Equal(t, 40, got.MaxSteps)
	assert.Equal(t, ir.StepsToArray(sess.Steps), ir.StepsToArray(got.Steps))
	assert.Equal(t, ir.EngineVersion, got.EngineVersion)
}

func TestReadSession_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReadEvents_EmptySliceNotNil(t *testing.T) {
	s := createTestStore(t)
	events, err := s.ReadEvents(context.Background(), "nope")
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestReadEvents_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteSession(ctx, createTestSession("session-1")))

	for _, seq := range []int64{3, 1, 2} {
		require.NoError(t, s.WriteEvent(ctx, createTestEvent("session-1", seq, ir.Op{Kind: ir.OpBegin})))
	}

	events, err := s.ReadEvents(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

// TestSimulatorRoundTrip records a real run and checks that every stored
// event reads back with the same content-addressed ID.
func TestSimulatorRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	program := ir.Program{Name: "shared", Steps: []ir.Step{
		{Op: ir.Op{Kind: ir.OpBind, Name: "s", Value: ir.Strings("udon", "ramen", "soba"), Type: ir.KindShared}},
		{Op: ir.Op{Kind: ir.OpShare, From: "s", Name: "t"}},
		{Op: ir.Op{Kind: ir.OpIf, Cond: false, Then: []ir.Step{{Op: ir.Op{Kind: ir.OpDrop, Name: "t"}}}}},
		{Op: ir.Op{Kind: ir.OpDrop, Name: "s"}},
		{Op: ir.Op{Kind: ir.OpRead, Name: "s"}, Expect: &ir.Expectation{Error: "USE_AFTER_MOVE"}},
	}}
	hash, err := ir.ProgramHash(program)
	require.NoError(t, err)
	require.NoError(t, s.WriteSession(ctx, ir.Session{
		ID: "session-1", Program: program.Name, ProgramHash: hash, Steps: program.Steps,
		EngineVersion: ir.EngineVersion, IRVersion: ir.IRVersion,
	}))

	simulator := sim.New(sim.WithSessionID("session-1"), sim.WithRecorder(s))
	report, err := simulator.Execute(ctx, program)
	require.NoError(t, err)
	require.True(t, report.Passed, report.Failure())

	events, err := s.ReadEvents(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, events, 5)
	for _, e := range events {
		assert.Equal(t, e.ID, ir.MustEventID(e), "seq %d", e.Seq)
	}
	assert.Equal(t, []string{"t"}, events[2].MaybeMoved)
	assert.Equal(t, ir.OutcomeError, events[4].Outcome)

	drops, err := s.ReadEventsByOp(ctx, "session-1", ir.OpDrop)
	require.NoError(t, err)
	require.Len(t, drops, 1)
	assert.Equal(t, []string{"s"}, drops[0].Dropped)

	result, err := sim.Replay(ctx, s, "session-1")
	require.NoError(t, err)
	assert.True(t, result.Deterministic, "%+v", result.Mismatches)
}

func TestListSessions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	summaries, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, summaries)
	assert.Empty(t, summaries)

	require.NoError(t, s.WriteSession(ctx, createTestSession("b-session")))
	require.NoError(t, s.WriteSession(ctx, createTestSession("a-session")))
	require.NoError(t, s.WriteEvent(ctx, createTestEvent("b-session", 1, ir.Op{Kind: ir.OpBegin})))
	failed := ir.Event{SessionID: "b-session", Seq: 2, Op: ir.Op{Kind: ir.OpEnd}, Outcome: ir.OutcomeError, ErrorCode: "SCOPE_UNDERFLOW"}
	failed.ID = ir.MustEventID(failed)
	require.NoError(t, s.WriteEvent(ctx, failed))

	summaries, err = s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "a-session", summaries[0].ID)
	assert.Equal(t, 0, summaries[0].Events)
	assert.Equal(t, "b-session", summaries[1].ID)
	assert.Equal(t, 2, summaries[1].Events)
	assert.Equal(t, 1, summaries[1].Errors)
	assert.Equal(t, int64(2), summaries[1].LastSeq)
}

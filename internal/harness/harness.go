package harness

import (
	"context"
	"fmt"

	"github.com/roach88/ownsim/internal/ir"
	"github.com/roach88/ownsim/internal/sim"
	"github.com/roach88/ownsim/internal/store"
	"github.com/roach88/ownsim/internal/testutil"
)

// Harness runs one scenario against its own store.
type Harness struct {
	store    *store.Store
	clock    *testutil.DeterministicClock
	sessions sim.SessionIDGenerator
}

// Run executes a scenario and evaluates its assertions.
//
// Each run gets a fresh in-memory store, a clock starting at zero and the
// scenario's fixed session ID, so running a scenario twice yields the same
// trace. The returned error is for problems running the scenario at all
// (bad program, store failure); a scenario that runs but fails its checks
// returns a Result with Pass false.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	prog, err := scenario.LoadProgram()
	if err != nil {
		return nil, fmt.Errorf("load program: %w", err)
	}

	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		clock:    testutil.NewDeterministicClock(),
		sessions: testutil.NewFixedSessionGenerator(scenario.SessionID),
	}

	result := NewResult()
	if err := h.execute(ctx, scenario, prog, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// execute records the session, runs the program and fills in the trace
// and final bindings.
func (h *Harness) execute(ctx context.Context, scenario *Scenario, prog ir.Program, result *Result) error {
	sessionID := h.sessions.Generate()
	result.SessionID = sessionID

	hash, err := ir.ProgramHash(prog)
	if err != nil {
		return fmt.Errorf("hash program: %w", err)
	}
	session := ir.Session{
		ID:            sessionID,
		Program:       prog.Name,
		ProgramHash:   hash,
		Shadowing:     prog.Shadowing,
		MaxSteps:      scenario.MaxSteps,
		Steps:         prog.Steps,
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}
	if err := h.store.WriteSession(ctx, session); err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	opts := []sim.Option{
		sim.WithSessionID(sessionID),
		sim.WithClock(h.clock),
		sim.WithRecorder(h.store),
		sim.WithShadowing(prog.Shadowing),
	}
	if scenario.MaxSteps > 0 {
		opts = append(opts, sim.WithMaxSteps(scenario.MaxSteps))
	}
	s := sim.New(opts...)

	report, err := s.Execute(ctx, prog)
	if err != nil {
		return fmt.Errorf("execute program: %w", err)
	}
	if !report.Passed {
		result.AddError(fmt.Sprintf("step %d: %s", report.FailedAt, report.Failure()))
	}

	// Read back from the store so the trace is what was persisted.
	events, err := h.store.ReadEvents(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	for _, ev := range events {
		result.AddEvent(ev)
	}

	for _, b := range s.Bindings() {
		result.Bindings[b.Name] = b
	}
	return nil
}

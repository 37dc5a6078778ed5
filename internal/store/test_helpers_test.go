package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/roach88/ownsim/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession creates a session with a two-step move program.
func createTestSession(id string) ir.Session {
	return ir.Session{
		ID:          id,
		Program:     "move",
		ProgramHash: "test-hash",
		Steps: []ir.Step{
			{Op: ir.Op{Kind: ir.OpBind, Name: "s", Value: ir.Strings("udon", "ramen", "soba")}},
			{Op: ir.Op{Kind: ir.OpMove, From: "s", Name: "t"}},
		},
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}
}

// createTestEvent creates an event with its content-addressed ID filled in.
func createTestEvent(sessionID string, seq int64, op ir.Op) ir.Event {
	e := ir.Event{
		SessionID: sessionID,
		Seq:       seq,
		Op:        op,
		Outcome:   ir.OutcomeOK,
	}
	e.ID = ir.MustEventID(e)
	return e
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

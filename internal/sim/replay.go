package sim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/ownsim/internal/ir"
)

// Replay and determinism
//
// A session stores its program's steps alongside its events. Replay runs
// the stored steps again on a fresh simulator with the same session ID and
// shadowing setting, then compares event IDs seq by seq. Event IDs are
// content-addressed (canonical JSON + SHA-256), so equal IDs mean equal
// events: same op, same outcome, same drops, same counts.
//
// Replay never writes. A mismatch means the simulator's behaviour changed
// between the recording and now (or the stored data was altered).

// SessionSource reads recorded sessions. Implemented by store.Store.
type SessionSource interface {
	ReadSession(ctx context.Context, id string) (ir.Session, error)
	ReadEvents(ctx context.Context, sessionID string) ([]ir.Event, error)
}

// ReplayMismatch describes one diverging event.
type ReplayMismatch struct {
	Seq        int64
	StoredID   string
	ReplayedID string
	Reason     string
}

// ReplayResult is the outcome of replaying a session.
type ReplayResult struct {
	SessionID     string
	Program       string
	StoredCount   int
	ReplayedCount int
	Deterministic bool
	Mismatches    []ReplayMismatch
}

// Replay re-executes a recorded session and compares the events. The
// session's shadowing flag and step limit are restored first; opts are
// applied after them.
func Replay(ctx context.Context, src SessionSource, sessionID string, opts ...Option) (*ReplayResult, error) {
	session, err := src.ReadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	stored, err := src.ReadEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	rec := NewMemoryRecorder()
	all := append([]Option{
		WithSessionID(session.ID),
		WithShadowing(session.Shadowing),
		WithRecorder(rec),
	}, opts...)
	if session.MaxSteps > 0 {
		all = append([]Option{WithMaxSteps(session.MaxSteps)}, all...)
	}
	s := New(all...)

	program := ir.Program{Name: session.Program, Shadowing: session.Shadowing, Steps: session.Steps}
	if _, err := s.Execute(ctx, program); err != nil {
		return nil, fmt.Errorf("re-execute: %w", err)
	}

	replayed := rec.Sorted()
	SortEvents(stored)
	result := &ReplayResult{
		SessionID:     session.ID,
		Program:       session.Program,
		StoredCount:   len(stored),
		ReplayedCount: len(replayed),
		Mismatches:    []ReplayMismatch{},
	}

	n := max(len(stored), len(replayed))
	for i := 0; i < n; i++ {
		switch {
		case i >= len(stored):
			result.Mismatches = append(result.Mismatches, ReplayMismatch{
				Seq: replayed[i].Seq, ReplayedID: replayed[i].ID, Reason: "extra event on replay",
			})
		case i >= len(replayed):
			result.Mismatches = append(result.Mismatches, ReplayMismatch{
				Seq: stored[i].Seq, StoredID: stored[i].ID, Reason: "event missing on replay",
			})
		case stored[i].ID != replayed[i].ID:
			result.Mismatches = append(result.Mismatches, ReplayMismatch{
				Seq:        stored[i].Seq,
				StoredID:   stored[i].ID,
				ReplayedID: replayed[i].ID,
				Reason:     describeDivergence(stored[i], replayed[i]),
			})
		}
	}
	result.Deterministic = len(result.Mismatches) == 0

	slog.Info("session replayed",
		"session", session.ID,
		"events", len(stored),
		"deterministic", result.Deterministic)

	return result, nil
}

func describeDivergence(stored, replayed ir.Event) string {
	switch {
	case stored.Seq != replayed.Seq:
		return fmt.Sprintf("seq %d replayed as %d", stored.Seq, replayed.Seq)
	case stored.Op.Kind != replayed.Op.Kind:
		return fmt.Sprintf("op %s replayed as %s", stored.Op.Kind, replayed.Op.Kind)
	case stored.Outcome != replayed.Outcome:
		return fmt.Sprintf("outcome %s replayed as %s", stored.Outcome, replayed.Outcome)
	case stored.ErrorCode != replayed.ErrorCode:
		return fmt.Sprintf("error %s replayed as %s", stored.ErrorCode, replayed.ErrorCode)
	default:
		return "event content differs"
	}
}

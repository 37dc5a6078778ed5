package store

import (
	"context"
	"fmt"

	"github.com/roach88/ownsim/internal/ir"
)

// WriteSession inserts a session record.
// Uses ON CONFLICT(id) DO NOTHING: rewriting a session is a no-op.
//
// The program's steps are stored as canonical JSON so the session can be
// replayed without the original source file.
func (s *Store) WriteSession(ctx context.Context, sess ir.Session) error {
	stepsJSON, err := marshalSteps(sess.Steps)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions
		(id, program, program_hash, shadowing, max_steps, steps, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sess.ID,
		sess.Program,
		sess.ProgramHash,
		boolToInt(sess.Shadowing),
		sess.MaxSteps,
		stepsJSON,
		sess.EngineVersion,
		sess.IRVersion,
	)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	return nil
}

// WriteEvent inserts an event record.
// Uses ON CONFLICT DO NOTHING for idempotency: event IDs are content
// addressed, so a duplicate write is the same event.
//
// Note: The session referenced by SessionID must exist (foreign key constraint).
func (s *Store) WriteEvent(ctx context.Context, e ir.Event) error {
	opJSON, err := marshalOp(e.Op)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	value, err := marshalValue(e.Value)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	dropped, err := marshalNames(e.Dropped)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	maybe, err := marshalNames(e.MaybeMoved)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events
		(id, session_id, seq, depth, op_kind, op, outcome, error_code, error_message,
		 value, refcount, dropped, released, maybe_moved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		e.ID,
		e.SessionID,
		e.Seq,
		e.Depth,
		string(e.Op.Kind),
		opJSON,
		e.Outcome,
		e.ErrorCode,
		e.ErrorMessage,
		value,
		e.RefCount,
		dropped,
		boolToInt(e.Released),
		maybe,
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return nil
}

// Record writes e. It lets a Store serve as the simulator's recorder.
func (s *Store) Record(ctx context.Context, e ir.Event) error {
	return s.WriteEvent(ctx, e)
}

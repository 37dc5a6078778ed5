package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ownsim/internal/ir"
)

// ErrSessionNotFound is returned when a session ID has no record.
var ErrSessionNotFound = errors.New("session not found")

// ReadSession returns the session record, steps included.
// Returns an error wrapping ErrSessionNotFound if the ID is unknown.
func (s *Store) ReadSession(ctx context.Context, id string) (ir.Session, error) {
	var sess ir.Session
	var shadowing int
	var stepsJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, program, program_hash, shadowing, max_steps, steps, engine_version, ir_version
		FROM sessions
		WHERE id = ?
	`, id).Scan(
		&sess.ID,
		&sess.Program,
		&sess.ProgramHash,
		&shadowing,
		&sess.MaxSteps,
		&stepsJSON,
		&sess.EngineVersion,
		&sess.IRVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return ir.Session{}, fmt.Errorf("read session: %w", err)
	}

	sess.Shadowing = shadowing != 0
	if sess.Steps, err = unmarshalSteps(stepsJSON); err != nil {
		return ir.Session{}, fmt.Errorf("read session %s: %w", id, err)
	}
	return sess, nil
}

// ReadEvents returns every event of a session.
// Results are ordered deterministically: ORDER BY seq ASC, id COLLATE BINARY ASC.
//
// Returns an empty slice (not nil) if the session has no events.
func (s *Store) ReadEvents(ctx context.Context, sessionID string) ([]ir.Event, error) {
	return s.queryEvents(ctx, `
		SELECT id, session_id, seq, depth, op, outcome, error_code, error_message,
		       value, refcount, dropped, released, maybe_moved
		FROM events
		WHERE session_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, sessionID)
}

// ReadEventsByOp returns a session's events for one operation kind, in
// the same order as ReadEvents.
func (s *Store) ReadEventsByOp(ctx context.Context, sessionID string, kind ir.OpKind) ([]ir.Event, error) {
	return s.queryEvents(ctx, `
		SELECT id, session_id, seq, depth, op, outcome, error_code, error_message,
		       value, refcount, dropped, released, maybe_moved
		FROM events
		WHERE session_id = ? AND op_kind = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, sessionID, string(kind))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// scanEvent scans one events row in the column order used by ReadEvents.
func scanEvent(rows *sql.Rows) (ir.Event, error) {
	var e ir.Event
	var opJSON, droppedJSON, maybeJSON string
	var value sql.NullString
	var released int

	if err := rows.Scan(
		&e.ID,
		&e.SessionID,
		&e.Seq,
		&e.Depth,
		&opJSON,
		&e.Outcome,
		&e.ErrorCode,
		&e.ErrorMessage,
		&value,
		&e.RefCount,
		&droppedJSON,
		&released,
		&maybeJSON,
	); err != nil {
		return ir.Event{}, fmt.Errorf("scan event: %w", err)
	}

	var err error
	if e.Op, err = unmarshalOp(opJSON); err != nil {
		return ir.Event{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	if e.Value, err = unmarshalValue(value); err != nil {
		return ir.Event{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	if e.Dropped, err = unmarshalNames(droppedJSON); err != nil {
		return ir.Event{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	if e.MaybeMoved, err = unmarshalNames(maybeJSON); err != nil {
		return ir.Event{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	e.Released = released != 0
	return e, nil
}

// SessionSummary is one line of `ownsim sessions`.
type SessionSummary struct {
	ID          string `json:"id"`
	Program     string `json:"program"`
	ProgramHash string `json:"program_hash"`
	Shadowing   bool   `json:"shadowing"`
	MaxSteps    int    `json:"max_steps"`
	Events      int    `json:"events"`
	Errors      int    `json:"errors"`
	LastSeq     int64  `json:"last_seq"`
}

// ListSessions summarises every session. Session IDs are UUIDv7, so
// ordering by ID lists sessions oldest first.
//
// Returns an empty slice (not nil) if there are no sessions.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.program, s.program_hash, s.shadowing, s.max_steps,
		       COUNT(e.id),
		       COALESCE(SUM(CASE WHEN e.outcome = 'error' THEN 1 ELSE 0 END), 0),
		       COALESCE(MAX(e.seq), 0)
		FROM sessions s
		LEFT JOIN events e ON e.session_id = s.id
		GROUP BY s.id
		ORDER BY s.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	summaries := []SessionSummary{}
	for rows.Next() {
		var sum SessionSummary
		var shadowing int
		if err := rows.Scan(
			&sum.ID,
			&sum.Program,
			&sum.ProgramHash,
			&shadowing,
			&sum.MaxSteps,
			&sum.Events,
			&sum.Errors,
			&sum.LastSeq,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.Shadowing = shadowing != 0
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return summaries, nil
}

// Package store provides SQLite-backed durable storage for ownsim sessions.
//
// The store is an append-only log with two tables:
//   - sessions: one row per run, carrying the program's steps for replay
//   - events: one row per applied operation, nested ones included
//
// # Critical Patterns
//
// Logical time:
//   - All ordering uses seq INTEGER (logical clock), NEVER timestamps
//   - Every event query ends in ORDER BY seq ASC, id COLLATE BINARY ASC
//
// Idempotent writes:
//   - Event IDs are content-addressed, so writing the same event twice is a
//     no-op (ON CONFLICT DO NOTHING)
//
// Canonical storage:
//   - Values, ops and steps are stored as RFC 8785 canonical JSON
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Every event must belong to a written session
package store

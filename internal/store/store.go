package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath opens a private in-memory store. The harness records every
// scenario into one and reads the trace back before closing it.
const MemoryPath = ":memory:"

// Store is the session and event log of ownsim.
//
// A Store holds exactly one connection. SQLite allows a single writer, and
// an in-memory database lives only as long as the connection that created
// it, so the pool must never open a second one or recycle the first.
type Store struct {
	db *sql.DB
}

// Open creates or opens the log at path and brings its schema up to date.
// Opening the same file again is safe. Use MemoryPath for a throwaway log.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// dsn adds the connection settings to path. go-sqlite3 applies them to
// each connection it opens, before the schema is touched.
//
// Events must not outlive their session (foreign keys). trace and replay
// may read a file while a run is still appending to it (WAL, busy
// timeout). A lost tail of events after a crash only shortens the trace
// (synchronous NORMAL).
func dsn(path string) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")
	if path != MemoryPath {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// Close closes the database connection. An in-memory log is gone after it.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying connection for tests and tooling that need
// raw SQL.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migration upgrades a log written by an older ownsim. Each one must also
// be a no-op on a database schema.sql has just created.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

// migrations are applied in order; PRAGMA user_version records the last.
var migrations = []migration{
	{1, "index events by op for trace --op", addOpIndex},
	{2, "record max_steps per session for replay", addSessionMaxSteps},
}

// schemaVersion is the user_version of an up-to-date log.
var schemaVersion = migrations[len(migrations)-1].version

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema v%d is newer than this ownsim (v%d)", version, schemaVersion)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// applyMigration runs m and bumps user_version in one transaction, so an
// interrupted upgrade is retried whole on the next Open.
func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.apply(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

func addOpIndex(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_session_op
		ON events(session_id, op_kind)
	`)
	return err
}

// addSessionMaxSteps adds sessions.max_steps. Sessions recorded before it
// read back as 0, which replay treats as the default limit.
func addSessionMaxSteps(tx *sql.Tx) error {
	ok, err := hasColumn(tx, "sessions", "max_steps")
	if err != nil || ok {
		return err
	}
	_, err = tx.Exec(`ALTER TABLE sessions ADD COLUMN max_steps INTEGER NOT NULL DEFAULT 0`)
	return err
}

func hasColumn(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

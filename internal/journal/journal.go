// Package journal keeps an append-only history of lock transitions in a
// SQLite database next to the lock records. It is informational: the lock
// record file stays the source of truth for recovery.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the journal database inside the state directory.
const FileName = "journal.db"

// Actions written by the engine.
const (
	ActionLock    = "lock"
	ActionUnlock  = "unlock"
	ActionAdopt   = "adopt"
	ActionForget  = "forget"
	ActionFail    = "fail"
	ActionSummary = "summary"
)

// Entry is one journal row.
type Entry struct {
	ID     int64     `json:"id" yaml:"id"`
	RunID  string    `json:"run_id" yaml:"run_id"`
	At     time.Time `json:"at" yaml:"at"`
	Action string    `json:"action" yaml:"action"`
	NodeID string    `json:"node_id,omitempty" yaml:"node_id,omitempty"`
	Target string    `json:"target,omitempty" yaml:"target,omitempty"`
	Path   string    `json:"path,omitempty" yaml:"path,omitempty"`
	Detail string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id  TEXT NOT NULL,
	at      INTEGER NOT NULL,
	action  TEXT NOT NULL,
	node_id TEXT NOT NULL DEFAULT '',
	target  TEXT NOT NULL DEFAULT '',
	path    TEXT NOT NULL DEFAULT '',
	detail  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS events_run ON events(run_id);
`

// DB is an open journal.
type DB struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Append writes e. A zero At is stamped with the current time.
func (j *DB) Append(e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.Exec(
		"INSERT INTO events (run_id, at, action, node_id, target, path, detail) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.RunID, e.At.UnixNano(), e.Action, e.NodeID, e.Target, e.Path, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *DB) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return j.query(selectEntries+" ORDER BY id DESC LIMIT ?", limit)
}

// Run returns the entries of one run in the order they were written.
func (j *DB) Run(runID string) ([]Entry, error) {
	return j.query(selectEntries+" WHERE run_id = ? ORDER BY id", runID)
}

const selectEntries = "SELECT id, run_id, at, action, node_id, target, path, detail FROM events"

func (j *DB) query(q string, args ...any) ([]Entry, error) {
	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &e.RunID, &at, &e.Action, &e.NodeID, &e.Target, &e.Path, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than cutoff and returns how many were removed.
func (j *DB) Prune(cutoff time.Time) (int64, error) {
	res, err := j.db.Exec("DELETE FROM events WHERE at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (j *DB) Close() error {
	return j.db.Close()
}

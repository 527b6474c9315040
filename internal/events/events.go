// Package events keeps a per-task audit trail in SQLite. The filesystem
// store stays the system of record for task state; this log is an index the
// status commands and dashboard read, and cleanup deletes rows by exact task
// id alongside the task's file artifacts.
package events

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Event records something that happened to a task.
type Event struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Actor     string    `json:"actor,omitempty"` // "orchestrator", "agent", "user", tracker name
	Kind      string    `json:"kind"`            // imported, dispatched, state_changed, stale, rejected, deleted, ...
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Log provides access to the relay event database.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite event log at the given path.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open event db: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id         TEXT PRIMARY KEY,
		task_id    TEXT NOT NULL,
		actor      TEXT DEFAULT '',
		kind       TEXT NOT NULL,
		content    TEXT DEFAULT '',
		timestamp  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Add records an event for a task.
func (l *Log) Add(taskID, actor, kind, content string) error {
	now := time.Now().UTC()
	_, err := l.db.Exec(
		`INSERT INTO events (id, task_id, actor, kind, content, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), taskID, actor, kind, content, now,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns all events for a task in chronological order.
func (l *Log) List(taskID string) ([]Event, error) {
	rows, err := l.db.Query(
		`SELECT id, task_id, actor, kind, content, timestamp FROM events WHERE task_id = ? ORDER BY timestamp, id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Actor, &e.Kind, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteForTask removes every event row belonging to exactly this task id
// and returns how many were deleted. No rows is not an error.
func (l *Log) DeleteForTask(taskID string) (int64, error) {
	res, err := l.db.Exec(`DELETE FROM events WHERE task_id = ?`, taskID)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

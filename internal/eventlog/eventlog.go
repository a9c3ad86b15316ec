// Package eventlog persists monitor events to a local SQLite database so
// past runs can be inspected after the fact.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/prwatch/prwatch/internal/forge"
	"github.com/prwatch/prwatch/internal/monitor"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	pr               TEXT NOT NULL,
	type             TEXT NOT NULL,
	message          TEXT NOT NULL,
	suggested_action TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_pr ON events(pr, created_at);
`

// Log is a SQLite-backed event sink. Safe for concurrent use; database/sql
// serializes access to the single connection.
type Log struct {
	db *sql.DB
}

// Entry is one recorded event.
type Entry struct {
	ID              int64
	PR              string
	Type            monitor.EventType
	Message         string
	SuggestedAction string
	CreatedAt       time.Time
}

// DefaultPath returns the default database location.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "prwatch", "events.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "prwatch", "events.db")
	}
	return filepath.Join(home, ".local", "share", "prwatch", "events.db")
}

// Open opens (creating if needed) the event database at path. An empty path
// selects DefaultPath.
func Open(path string) (*Log, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening event log %s: %w", path, err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing event log schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Record implements monitor.EventSink.
func (l *Log) Record(ctx context.Context, pr forge.PR, ev monitor.Event) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (pr, type, message, suggested_action, created_at) VALUES (?, ?, ?, ?, ?)`,
		pr.String(), ev.Type.String(), ev.Message, ev.SuggestedAction,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// List returns the most recent events, newest first. pr filters to one pull
// request when non-empty; limit <= 0 means 50.
func (l *Log) List(ctx context.Context, pr string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, pr, type, message, suggested_action, created_at FROM events`
	args := []any{}
	if pr != "" {
		query += ` WHERE pr = ?`
		args = append(args, pr)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var typ, createdAt string
		if err := rows.Scan(&e.ID, &e.PR, &typ, &e.Message, &e.SuggestedAction, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.Type = monitor.ParseEventType(typ)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

var _ monitor.EventSink = (*Log)(nil)

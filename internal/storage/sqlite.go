package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazz-dev/servwatch/internal/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    kind        TEXT    NOT NULL,
    status      TEXT    NOT NULL,
    detail      TEXT    NOT NULL DEFAULT '',
    error       TEXT    NOT NULL DEFAULT '',
    occurred_at TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
CREATE INDEX IF NOT EXISTS idx_events_kind_id ON events(kind, id DESC);
`

// Event is a stored journal row.
type Event struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DB wraps a SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	// Writers are the monitor loop and the restart timer; one connection
	// keeps them serialized and makes ":memory:" databases usable.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertEvent appends an event to the journal.
func (d *DB) InsertEvent(ctx context.Context, e event.Event) error {
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO events (kind, status, detail, error, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		string(e.Kind),
		e.Status,
		e.Detail,
		e.Error,
		occurred.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting %s event: %w", e.Kind, err)
	}
	return nil
}

// LatestEvent returns the most recent event of kind, or nil if none.
func (d *DB) LatestEvent(ctx context.Context, kind event.Kind) (*Event, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, kind, status, detail, error, occurred_at FROM events WHERE kind = ? ORDER BY id DESC LIMIT 1`,
		string(kind),
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest %s event: %w", kind, err)
	}
	return e, nil
}

// RecentEvents returns up to limit events, newest first. An empty kind
// matches every kind.
func (d *DB) RecentEvents(ctx context.Context, kind event.Kind, limit int) ([]Event, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = d.db.QueryContext(ctx,
			`SELECT id, kind, status, detail, error, occurred_at FROM events ORDER BY id DESC LIMIT ?`,
			limit,
		)
	} else {
		rows, err = d.db.QueryContext(ctx,
			`SELECT id, kind, status, detail, error, occurred_at FROM events WHERE kind = ? ORDER BY id DESC LIMIT ?`,
			string(kind), limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*Event, error) {
	var e Event
	var occurredAt string
	err := row.Scan(&e.ID, &e.Kind, &e.Status, &e.Detail, &e.Error, &occurredAt)
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, occurredAt)
	if err != nil {
		return nil, fmt.Errorf("parsing occurred_at %q: %w", occurredAt, err)
	}
	e.OccurredAt = t
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}

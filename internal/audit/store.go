// Package audit persists an append-only record of mount transitions and
// deletions, kept outside any monitored directory so it never trips the
// "no hidden state files" rule that governs those directories themselves.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Kind identifies the type of audit event.
type Kind string

const (
	Mount   Kind = "mount"
	Unmount Kind = "unmount"
	Delete  Kind = "delete"
	Arm     Kind = "arm"
	Disarm  Kind = "disarm"
)

// Event is one row in the audit log.
type Event struct {
	ID        string
	Kind      Kind
	Directory string
	Filename  string
	Detail    string
	At        time.Time
}

// Store is a SQLite-backed append-only log.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory if needed and opens (creating if
// absent) the audit database at path, enabling WAL mode for concurrent
// readers while the daemon keeps writing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			directory TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating audit schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new event with a generated ID and the current UTC time.
// Callers treat a Record error as diagnostic: log and continue, matching
// the "the audit log is never load-bearing" error policy.
func (s *Store) Record(ctx context.Context, kind Kind, directory, filename, detail string) error {
	ev := Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Directory: directory,
		Filename:  filename,
		Detail:    detail,
		At:        time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, kind, directory, filename, detail, at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Kind, ev.Directory, ev.Filename, ev.Detail, ev.At,
	)
	if err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	return nil
}

// Recent returns the most recent n events, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, directory, filename, detail, at FROM events ORDER BY at DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Directory, &ev.Filename, &ev.Detail, &ev.At); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return events, nil
}

// LatestMountTransition returns the most recent mount or unmount event, if
// any, for the status CLI subcommand's offline read.
func (s *Store) LatestMountTransition(ctx context.Context) (*Event, error) {
	var ev Event
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, directory, filename, detail, at FROM events
		 WHERE kind IN ('mount', 'unmount') ORDER BY at DESC LIMIT 1`,
	).Scan(&ev.ID, &ev.Kind, &ev.Directory, &ev.Filename, &ev.Detail, &ev.At)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest mount transition: %w", err)
	}
	return &ev, nil
}

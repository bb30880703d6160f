// Package audit persists a journal of admin actions so operators can answer
// "who switched the model and when" after the fact.
package audit

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Switch outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
)

// Event records one attempt to switch the active version.
type Event struct {
	At      time.Time
	From    string
	To      string
	Outcome string
}

// Journal is a sqlite-backed event log. A nil *Journal is a valid no-op
// journal, so callers need no auditing branch.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`
CREATE TABLE IF NOT EXISTS switch_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  at DATETIME NOT NULL,
  from_version TEXT NOT NULL,
  to_version TEXT NOT NULL,
  outcome TEXT NOT NULL
);
`)
	return err
}

// Record appends an event.
func (j *Journal) Record(ctx context.Context, e Event) error {
	if j == nil {
		return nil
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO switch_events (at, from_version, to_version, outcome) VALUES (?, ?, ?, ?);",
		at.UTC(), e.From, e.To, e.Outcome)
	return err
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		"SELECT at, from_version, to_version, outcome FROM switch_events ORDER BY id DESC LIMIT ?;",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.At, &e.From, &e.To, &e.Outcome); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

package runtimelog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteEventStore mirrors the per-thread event log into a SQLite database,
// giving deployments a queryable archive alongside the flat-file log the
// Manager replays from. The driver is selected at build time: the pure-Go
// driver by default, the cgo driver under the cgo_sqlite tag.
type SQLiteEventStore struct {
	db *sql.DB
}

// OpenSQLiteEventStore opens (or creates) the archive database at path.
func OpenSQLiteEventStore(path string) (*SQLiteEventStore, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite event store: %w", err)
	}
	// The archive has one writer (the manager's per-thread append path), so a
	// single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS events (
	thread_id  TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	turn_id    TEXT    NOT NULL DEFAULT '',
	item_id    TEXT    NOT NULL DEFAULT '',
	event_type TEXT    NOT NULL,
	timestamp  TEXT    NOT NULL,
	payload    TEXT    NOT NULL DEFAULT '{}',
	PRIMARY KEY (thread_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_thread_type ON events (thread_id, event_type);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create event archive schema: %w", err)
	}
	return &SQLiteEventStore{db: db}, nil
}

// Append records one event. Duplicate (thread_id, seq) pairs are ignored so
// a replayed flat-file log can be re-archived idempotently.
func (s *SQLiteEventStore) Append(ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO events (thread_id, seq, turn_id, item_id, event_type, timestamp, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ThreadID, ev.Seq, ev.TurnID, ev.ItemID, ev.EventType, ev.Timestamp.Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("archive event: %w", err)
	}
	return nil
}

// EventsSince returns archived events for threadID with seq > sinceSeq, in
// seq order.
func (s *SQLiteEventStore) EventsSince(threadID string, sinceSeq uint64) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT seq, turn_id, item_id, event_type, timestamp, payload
		 FROM events WHERE thread_id = ? AND seq > ? ORDER BY seq`,
		threadID, sinceSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("query event archive: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev      Event
			ts      string
			payload string
		)
		ev.ThreadID = threadID
		ev.SchemaVersion = schemaVersion
		if err := rows.Scan(&ev.Seq, &ev.TurnID, &ev.ItemID, &ev.EventType, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan archived event: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Timestamp = parsed
		}
		if payload != "" && payload != "null" {
			_ = json.Unmarshal([]byte(payload), &ev.Payload)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteEventStore) Close() error {
	return s.db.Close()
}

// Package storage holds the supporting persistence around the session store:
// a queryable SQLite index of session states, optional Google Drive export of
// final transcripts, and the scratch directory janitor. The filesystem stays
// the source of truth; the index only exists so status queries don't have to
// walk every session directory.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/meeting-corpus/internal/types"
)

// IndexEntry is one indexed session row.
type IndexEntry struct {
	Session    string       `json:"session"`
	SourceFile string       `json:"source_file"`
	Status     types.Status `json:"status"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Index is the SQLite session index.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if needed) the session index database.
func OpenIndex(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL UNIQUE,
		source_file TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_updated_at ON sessions(updated_at);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create table: %v", err)
	}

	return &Index{db: db}, nil
}

// Upsert records a session's current status, replacing any previous row.
func (ix *Index) Upsert(session, sourceFile string, status types.Status, updatedAt time.Time) error {
	query := `
	INSERT INTO sessions (session, source_file, status, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session) DO UPDATE SET
		source_file = excluded.source_file,
		status = excluded.status,
		updated_at = excluded.updated_at
	`

	if _, err := ix.db.Exec(query, session, sourceFile, string(status), updatedAt); err != nil {
		return fmt.Errorf("failed to index session: %v", err)
	}
	return nil
}

// Get returns one indexed session.
func (ix *Index) Get(session string) (*IndexEntry, error) {
	row := ix.db.QueryRow(
		`SELECT session, source_file, status, updated_at FROM sessions WHERE session = ?`, session)

	var e IndexEntry
	var status string
	if err := row.Scan(&e.Session, &e.SourceFile, &status, &e.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to get session: %v", err)
	}
	e.Status = types.Status(status)
	return &e, nil
}

// List returns indexed sessions, most recently updated first. A non-empty
// status filters the result.
func (ix *Index) List(status types.Status, limit int) ([]IndexEntry, error) {
	query := `SELECT session, source_file, status, updated_at FROM sessions`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %v", err)
	}
	defer rows.Close()

	var entries []IndexEntry
	for rows.Next() {
		var e IndexEntry
		var st string
		if err := rows.Scan(&e.Session, &e.SourceFile, &st, &e.UpdatedAt); err != nil {
			continue
		}
		e.Status = types.Status(st)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

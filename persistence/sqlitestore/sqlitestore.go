// Package sqlitestore implements persistence.Snapshotter on top of
// database/sql with the github.com/mattn/go-sqlite3 driver, for
// single-process local/dev deployments where a Mongo instance is
// unavailable: WAL journal mode, a bounded single connection, and pragma
// setup via Exec rather than DSN query parameters.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"goa.design/taskorchestrator/persistence"
)

// Store persists persistence.Snapshot documents as JSON blobs in a single
// SQLite table.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) a SQLite database at dsn, applies
// the pragma set, and ensures the snapshot table exists.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlitestore: dsn is required")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", dsn, err)
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitestore: set pragma %q: %w", p, err)
		}
	}
	// SQLite handles concurrent writers poorly even under WAL; a single
	// connection avoids SQLITE_BUSY under this package's own load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS project_snapshots (
	project_id TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	stored_at  TIMESTAMP NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save implements persistence.Snapshotter.
func (s *Store) Save(ctx context.Context, snap persistence.Snapshot) error {
	if snap.ProjectID == "" {
		return fmt.Errorf("sqlitestore: project id is required")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode snapshot: %w", err)
	}
	const stmt = `
INSERT INTO project_snapshots (project_id, payload, stored_at)
VALUES (?, ?, ?)
ON CONFLICT(project_id) DO UPDATE SET payload = excluded.payload, stored_at = excluded.stored_at`
	if _, err := s.db.ExecContext(ctx, stmt, snap.ProjectID, string(payload), time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlitestore: save %s: %w", snap.ProjectID, err)
	}
	return nil
}

// Load implements persistence.Snapshotter.
func (s *Store) Load(ctx context.Context, projectID string) (persistence.Snapshot, error) {
	if projectID == "" {
		return persistence.Snapshot{}, fmt.Errorf("sqlitestore: project id is required")
	}
	const stmt = `SELECT payload FROM project_snapshots WHERE project_id = ?`
	var payload string
	if err := s.db.QueryRowContext(ctx, stmt, projectID).Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return persistence.Snapshot{}, fmt.Errorf("sqlitestore: no snapshot for %s", projectID)
		}
		return persistence.Snapshot{}, fmt.Errorf("sqlitestore: load %s: %w", projectID, err)
	}
	var snap persistence.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return persistence.Snapshot{}, fmt.Errorf("sqlitestore: decode snapshot: %w", err)
	}
	return snap, nil
}

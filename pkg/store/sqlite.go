package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages the SQLite connection and schema.
type Store struct {
	db *sql.DB
}

var _ LeaseStore = (*Store)(nil)

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS passes (
		pass_id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		host TEXT,
		started_at DATETIME NOT NULL,
		duration_ns INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		structure_changed INTEGER NOT NULL DEFAULT 0,
		added INTEGER NOT NULL DEFAULT 0,
		removed INTEGER NOT NULL DEFAULT 0,
		reparented INTEGER NOT NULL DEFAULT 0,
		edges INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		warnings JSON
	);

	CREATE INDEX IF NOT EXISTS idx_passes_started_at ON passes(started_at);

	CREATE TABLE IF NOT EXISTS snapshots (
		snapshot_id TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		ts_snapshot DATETIME NOT NULL,
		last_pass_id TEXT,
		payload JSON NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leases (
		name TEXT PRIMARY KEY,
		holder_id TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		version INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// Package store is the local bookkeeping database: deployment history (each
// row carrying its coverage percentage and bypass flag) and the orchestrator
// phase-event log. It is separate
// from the target database (internal/execsql) — this one lives alongside
// the CLI, not in the deployment target.
//
// Grounded on internal/db/db.go: same Open/Migrate/Reset lifecycle,
// versioned schema table, WAL journal mode, single-connection SQLite pool.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the local SQLite bookkeeping database.
type Store struct {
	conn *sql.DB
	path string
}

// DefaultPath returns ~/.data-deploy/history.db, creating the directory if
// needed.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".data-deploy")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &Store{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.conn.Close() }

// Conn returns the underlying *sql.DB for advanced queries.
func (s *Store) Conn() *sql.DB { return s.conn }

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS deployments (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    migration_id   TEXT NOT NULL,
    environment    TEXT NOT NULL,
    tag            TEXT NOT NULL,
    phase          TEXT NOT NULL,
    operations     INTEGER NOT NULL DEFAULT 0,
    coverage_pct   INTEGER,
    bypassed       BOOLEAN NOT NULL DEFAULT FALSE,
    outcome        TEXT NOT NULL CHECK(outcome IN ('success','failed','rolled_back')),
    duration_ms    INTEGER,
    started_at     TEXT NOT NULL DEFAULT (datetime('now')),
    finished_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_deployments_env ON deployments(environment, started_at DESC);

CREATE TABLE IF NOT EXISTS phase_events (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    deployment_id  INTEGER NOT NULL REFERENCES deployments(id),
    phase          TEXT NOT NULL,
    kind           TEXT NOT NULL,
    message        TEXT,
    detail         TEXT,
    timestamp      TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_phase_events_deployment ON phase_events(deployment_id, timestamp);
`

// Migrate applies the database schema.
func (s *Store) Migrate() error {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (s *Store) Reset() error {
	tables := []string{"phase_events", "deployments", "schema_version"}
	for _, t := range tables {
		if _, err := s.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return s.Migrate()
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS turns (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	agent_label TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);
CREATE TABLE IF NOT EXISTS steps (
	id TEXT NOT NULL,
	session_id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	phase INTEGER NOT NULL,
	level TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	deliverable_title TEXT NOT NULL DEFAULT '',
	document_key TEXT NOT NULL DEFAULT '',
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_steps_project ON steps(project_id, phase)
`

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = "./data/eden.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, dialect{name: "sqlite", schema: sqliteSchema})
}

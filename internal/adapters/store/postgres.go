package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS turns (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	agent_label TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
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
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_steps_project ON steps(project_id, phase)
`

// OpenPostgres connects through pgx's database/sql driver and ensures the
// schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	return newSQLStore(ctx, db, dialect{name: "postgres", numbered: true, schema: postgresSchema})
}

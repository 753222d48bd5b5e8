// Package db provides PostgreSQL persistence for research jobs, their
// event logs, and compiled reports. The database is optional: the
// orchestrator runs fully in memory when no DATABASE_URL is configured.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// schema creates the research tables when they do not exist yet.
const schema = `
CREATE TABLE IF NOT EXISTS research_jobs (
	id          TEXT PRIMARY KEY,
	company     TEXT NOT NULL,
	company_url TEXT,
	industry    TEXT,
	hq_location TEXT,
	phase       TEXT NOT NULL,
	error       TEXT,
	counts      JSONB,
	briefs      JSONB,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS research_events (
	job_id     TEXT NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
	seq        BIGINT NOT NULL,
	event_type TEXT NOT NULL,
	event      JSONB NOT NULL,
	PRIMARY KEY (job_id, seq)
);

CREATE TABLE IF NOT EXISTS research_reports (
	job_id     TEXT PRIMARY KEY REFERENCES research_jobs(id) ON DELETE CASCADE,
	report     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the research tables if they are missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

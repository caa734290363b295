package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/queuepro/queuepro/internal/dbconfig"
	"github.com/rs/zerolog/log"
)

// The participants table never carries a position column: position is always
// derived from the WAITING set ordered by token. UNIQUE(queue_id, token)
// backs the never-reused, never-reassigned token invariant at the storage
// level as well.
const schema = `
CREATE TABLE IF NOT EXISTS queues (
	id         UUID PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	flavor     TEXT NOT NULL,
	title      TEXT NOT NULL,
	join_code  TEXT UNIQUE,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS participants (
	id        UUID PRIMARY KEY,
	queue_id  UUID NOT NULL REFERENCES queues(id),
	name      TEXT NOT NULL,
	phone     TEXT NOT NULL DEFAULT '',
	token     INTEGER NOT NULL CHECK (token > 0),
	status    TEXT NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	served_at TIMESTAMPTZ,
	UNIQUE (queue_id, token)
);

CREATE INDEX IF NOT EXISTS idx_participants_queue_status_token
	ON participants (queue_id, status, token);
`

// setupDatabase verifies connectivity, applies the schema, and returns the
// pgx pool the repositories run on.
func setupDatabase(ctx context.Context, cfg dbconfig.Config) (*pgxpool.Pool, error) {
	// Bootstrap through database/sql: ping and DDL, then hand the runtime
	// path over to pgx.
	bootstrap, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer bootstrap.Close()

	if err := bootstrap.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := bootstrap.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	pool, err := cfg.OpenPool(ctx)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("database", cfg.Database).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Msg("connected to database")

	return pool, nil
}

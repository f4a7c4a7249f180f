package postgres

import (
	"context"
	"fmt"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS generation_jobs (
	id         UUID PRIMARY KEY,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    JSONB NOT NULL,
	output     JSONB,
	error      TEXT NOT NULL DEFAULT '',
	remote_id  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS generation_jobs_status_updated_idx ON generation_jobs (status, updated_at);
`

// EnsureSchema creates the job table and its index when missing.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("op=postgres.EnsureSchema: %w", err)
	}
	return nil
}

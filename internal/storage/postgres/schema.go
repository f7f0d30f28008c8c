// internal/storage/postgres/schema.go
package postgres

import (
	"context"
	"fmt"
)

// executions.pattern_id deliberately carries no foreign key: deleting a
// pattern orphans its execution history instead of cascading into it.
const schema = `
CREATE TABLE IF NOT EXISTS patterns (
	pattern_id   TEXT PRIMARY KEY,
	pattern_type TEXT NOT NULL,
	config       JSONB NOT NULL,
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pattern_relationships (
	from_id    TEXT NOT NULL REFERENCES patterns(pattern_id) ON DELETE CASCADE,
	to_id      TEXT NOT NULL REFERENCES patterns(pattern_id) ON DELETE CASCADE,
	rel_type   TEXT NOT NULL,
	properties JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (from_id, to_id, rel_type)
);

CREATE TABLE IF NOT EXISTS pattern_versions (
	pattern_id      TEXT NOT NULL REFERENCES patterns(pattern_id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	version_tag     TEXT NOT NULL,
	config_snapshot JSONB NOT NULL,
	metadata        JSONB,
	created_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pattern_id, seq)
);

CREATE TABLE IF NOT EXISTS executions (
	execution_id TEXT PRIMARY KEY,
	pattern_id   TEXT NOT NULL,
	status       TEXT NOT NULL,
	graph_state  JSONB NOT NULL,
	metrics      JSONB,
	created_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS executions_pattern_recency_idx
	ON executions (pattern_id, completed_at DESC);

CREATE INDEX IF NOT EXISTS patterns_type_idx
	ON patterns (pattern_type, created_at DESC);
`

// InitSchema creates the tables and indexes if they do not exist yet. Called
// once at daemon startup.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

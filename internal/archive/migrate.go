package archive

import (
	"context"
	"fmt"
)

// Column types are chosen to be valid on both SQLite and PostgreSQL.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		total INTEGER NOT NULL,
		requested INTEGER NOT NULL,
		effective INTEGER NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		started_at BIGINT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_batches_started ON batches(started_at);`,
	`CREATE TABLE IF NOT EXISTS outcomes (
		batch_id TEXT NOT NULL,
		completed_index INTEGER NOT NULL,
		respondent_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		prefecture TEXT NOT NULL,
		answer TEXT NOT NULL,
		failure TEXT NOT NULL,
		diagnostic TEXT NOT NULL,
		duration_ms BIGINT NOT NULL,
		recorded_at BIGINT NOT NULL,
		PRIMARY KEY (batch_id, completed_index)
	);`,
}

// Migrate ensures the required database tables exist.
func (a *Archive) Migrate(ctx context.Context) error {
	if err := a.ready(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, stmt := range schemaStatements {
		if _, err := a.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("archive migration failed: %w", err)
		}
	}
	return nil
}

package store

import (
	"context"
	"fmt"
)

// EnsureSchema creates the events and failed_events tables if they do not
// exist. On partition-capable stores the events table is a range-partitioned
// parent; monthly partitions are managed separately.
func (a *Adapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range a.schemaStatements() {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func (a *Adapter) schemaStatements() []string {
	if a.dialect.PartitionSupported() {
		return []string{
			`CREATE TABLE IF NOT EXISTS events (
				user_ref VARCHAR(255) NOT NULL,
				plugin_id VARCHAR(255) NOT NULL,
				action VARCHAR(255) NOT NULL,
				context JSONB,
				subject TEXT,
				attributes JSONB,
				value DOUBLE PRECISION,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			) PARTITION BY RANGE (created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_events_user_ref ON events (user_ref)`,
			`CREATE INDEX IF NOT EXISTS idx_events_plugin_id ON events (plugin_id)`,
			`CREATE TABLE IF NOT EXISTS failed_events (
				id BIGSERIAL PRIMARY KEY,
				event_data TEXT,
				error_message TEXT,
				retry_attempts INTEGER,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			)`,
		}
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS events (
			user_ref TEXT NOT NULL,
			plugin_id TEXT NOT NULL,
			action TEXT NOT NULL,
			context TEXT,
			subject TEXT,
			attributes TEXT,
			value REAL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_ref ON events (user_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_events_plugin_id ON events (plugin_id)`,
		`CREATE TABLE IF NOT EXISTS failed_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_data TEXT,
			error_message TEXT,
			retry_attempts INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}
}

package sqlite

import (
	"context"
	"fmt"
)

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			token TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			sale_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			params_json TEXT NOT NULL DEFAULT '{}',
			state TEXT NOT NULL,
			fire_at INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		// At most one non-terminal task per sale.
		`CREATE UNIQUE INDEX IF NOT EXISTS tasks_active_sale
			ON tasks (sale_id) WHERE state IN ('new', 'in_progress', 'retried');`,
		`CREATE INDEX IF NOT EXISTS tasks_due ON tasks (state, fire_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

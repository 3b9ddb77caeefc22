package database

import (
	"fmt"

	"campus-courier/utilities"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		firebase_uid TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		campus TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'student',
		credit_score {{float}} NOT NULL DEFAULT 3.5,
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		pickup_location_name TEXT NOT NULL,
		pickup_lat {{float}},
		pickup_lng {{float}},
		dropoff_location_name TEXT NOT NULL,
		dropoff_lat {{float}},
		dropoff_lng {{float}},
		reward_amount {{money}} NOT NULL,
		category TEXT NOT NULL DEFAULT 'other',
		urgency TEXT NOT NULL DEFAULT 'medium',
		status TEXT NOT NULL DEFAULT 'pending',
		grab_expires_at {{timestamp}},
		cancelled_by TEXT,
		creator_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		assignee_id TEXT REFERENCES users(id) ON DELETE SET NULL,
		accepted_at {{timestamp}},
		created_at {{timestamp}} NOT NULL,
		updated_at {{timestamp}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_tasks_status_created_at ON tasks (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS ix_tasks_grab_expires_at ON tasks (grab_expires_at)`,
	`CREATE INDEX IF NOT EXISTS ix_tasks_assignee_id ON tasks (assignee_id)`,
	`CREATE INDEX IF NOT EXISTS ix_tasks_creator_id ON tasks (creator_id)`,
	`CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		evaluator_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		evaluatee_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		score INTEGER NOT NULL CHECK (score BETWEEN 1 AND 5),
		comment TEXT NOT NULL DEFAULT '',
		created_at {{timestamp}} NOT NULL,
		UNIQUE (task_id, evaluator_id)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_evaluations_evaluatee_id ON evaluations (evaluatee_id)`,
	`CREATE TABLE IF NOT EXISTS appeals (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		creator_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		reason TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		admin_reply TEXT NOT NULL DEFAULT '',
		handled_by TEXT NOT NULL DEFAULT '',
		created_at {{timestamp}} NOT NULL,
		updated_at {{timestamp}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_appeals_creator_id ON appeals (creator_id)`,
}

// Migrate creates the tables when they do not exist yet.
func (s *SQLStore) Migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(s.dialect.types.Replace(stmt)); err != nil {
			return fmt.Errorf("failed to apply schema on %s: %w", s.dialect.Name, err)
		}
	}
	utilities.LogDebug("Schema ready on %s", s.dialect.Name)
	return nil
}

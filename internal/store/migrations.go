package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per pipeline run
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			backend TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			port TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK(status IN ('running', 'stopped', 'failed')),
			error TEXT NOT NULL DEFAULT '',
			cycles INTEGER NOT NULL DEFAULT 0,
			commands INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,

		// Every command handed to the actuator link
		`CREATE TABLE IF NOT EXISTS actuations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			current_x INTEGER NOT NULL,
			current_y INTEGER NOT NULL,
			target_x INTEGER NOT NULL,
			target_y INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			sent_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_actuations_run_id ON actuations(run_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}

package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Runs table - one row per streaming session
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			variant TEXT NOT NULL CHECK(variant IN ('raw', 'landmarks')),
			destination TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			frames_sent INTEGER NOT NULL DEFAULT 0,
			avg_fps REAL NOT NULL DEFAULT 0
		)`,

		// Frame stats table - sampled loop statistics within a run
		`CREATE TABLE IF NOT EXISTS frame_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			frame_id INTEGER NOT NULL,
			recorded_at DATETIME NOT NULL,
			fps REAL NOT NULL,
			num_hands INTEGER NOT NULL,
			num_joints INTEGER NOT NULL
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_frame_stats_run_id ON frame_stats(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}

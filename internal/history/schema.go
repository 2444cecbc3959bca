package history

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		spec_path TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS story_results (
		run_id TEXT NOT NULL,
		story_id TEXT NOT NULL,
		batch_index INTEGER NOT NULL,
		status TEXT NOT NULL,
		files TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (run_id, story_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS commits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		story_id TEXT NOT NULL,
		hash TEXT NOT NULL,
		subject TEXT NOT NULL,
		files TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_story_results_run ON story_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_commits_run ON commits(run_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Package history persists run outcomes to SQLite so past runs can be
// inspected after the process exits.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord summarizes one orchestration run.
type RunRecord struct {
	ID         string
	SpecPath   string
	Status     string // "running", "success", "partial", "failed"
	StartedAt  time.Time
	FinishedAt time.Time
}

// ResultRecord is one story's final execution result within a run.
type ResultRecord struct {
	RunID      string
	BatchIndex int
	StoryID    string
	Status     string
	Files      []string
	Error      string
	DurationMS int64
	Attempts   int
}

// CommitRecord is one created commit within a run.
type CommitRecord struct {
	RunID   string
	StoryID string
	Hash    string
	Subject string
	Files   []string
}

// Store is a SQLite-backed run-history store.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the store at dbPath with WAL mode and a busy
// timeout, creating parent directories if needed.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory store for tests. The shared cache
// lets multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*Store, error) {
	return open(ctx, "file::memory:?mode=memory&cache=shared")
}

func open(ctx context.Context, connStr string) (*Store, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run in "running" state.
func (s *Store) CreateRun(ctx context.Context, runID, specPath string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, spec_path, status, started_at)
		VALUES (?, ?, 'running', ?)
	`, runID, specPath, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun records the run's final status and finish time.
func (s *Store) FinishRun(ctx context.Context, runID, status string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ? WHERE id = ?
	`, status, finishedAt.UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// encodeFiles serializes a path list as JSON so paths with arbitrary
// characters round-trip intact. An empty list is stored as the empty string.
func encodeFiles(files []string) (string, error) {
	if len(files) == 0 {
		return "", nil
	}
	data, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("failed to encode file list: %w", err)
	}
	return string(data), nil
}

func decodeFiles(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var files []string
	if err := json.Unmarshal([]byte(s), &files); err != nil {
		return nil, fmt.Errorf("failed to decode file list: %w", err)
	}
	return files, nil
}

// SaveResult upserts a story's result for the run. A retry or fallback
// re-execution supersedes the previous row for the same story.
func (s *Store) SaveResult(ctx context.Context, r ResultRecord) error {
	files, err := encodeFiles(r.Files)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO story_results (run_id, batch_index, story_id, status, files, error, duration_ms, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, story_id) DO UPDATE SET
			batch_index = excluded.batch_index,
			status = excluded.status,
			files = excluded.files,
			error = excluded.error,
			duration_ms = excluded.duration_ms,
			attempts = excluded.attempts
	`, r.RunID, r.BatchIndex, r.StoryID, r.Status, files, r.Error, r.DurationMS, r.Attempts)
	if err != nil {
		return fmt.Errorf("failed to upsert result for %s: %w", r.StoryID, err)
	}
	return nil
}

// SaveCommit records one created commit.
func (s *Store) SaveCommit(ctx context.Context, c CommitRecord) error {
	files, err := encodeFiles(c.Files)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commits (run_id, story_id, hash, subject, files)
		VALUES (?, ?, ?, ?, ?)
	`, c.RunID, c.StoryID, c.Hash, c.Subject, files)
	if err != nil {
		return fmt.Errorf("failed to insert commit for %s: %w", c.StoryID, err)
	}
	return nil
}

// LastRun returns the most recently started run, or nil if the store is
// empty.
func (s *Store) LastRun(ctx context.Context) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, spec_path, status, started_at, COALESCE(finished_at, started_at)
		FROM runs ORDER BY started_at DESC LIMIT 1
	`)

	var r RunRecord
	if err := row.Scan(&r.ID, &r.SpecPath, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query last run: %w", err)
	}
	return &r, nil
}

// ListRuns returns up to limit runs, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, spec_path, status, started_at, COALESCE(finished_at, started_at)
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.SpecPath, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Results returns the run's story results ordered by batch then story ID.
func (s *Store) Results(ctx context.Context, runID string) ([]ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, batch_index, story_id, status, files, error, duration_ms, attempts
		FROM story_results WHERE run_id = ? ORDER BY batch_index, story_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var records []ResultRecord
	for rows.Next() {
		var r ResultRecord
		var files string
		if err := rows.Scan(&r.RunID, &r.BatchIndex, &r.StoryID, &r.Status, &files, &r.Error, &r.DurationMS, &r.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if r.Files, err = decodeFiles(files); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Commits returns the run's commits ordered by story ID.
func (s *Store) Commits(ctx context.Context, runID string) ([]CommitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, story_id, hash, subject, files
		FROM commits WHERE run_id = ? ORDER BY story_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query commits: %w", err)
	}
	defer rows.Close()

	var records []CommitRecord
	for rows.Next() {
		var c CommitRecord
		var files string
		if err := rows.Scan(&c.RunID, &c.StoryID, &c.Hash, &c.Subject, &files); err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}
		if c.Files, err = decodeFiles(files); err != nil {
			return nil, err
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

// Package eventstore persists the step audit trail: one append-only record
// per dispatcher step, queryable per story. The trail lives in its own SQLite
// database so audit growth never contends with the artifact store.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// StepRecord is one persisted dispatcher step.
type StepRecord struct {
	ID        int64
	StepID    string
	StoryID   int64
	Stage     string
	Outcome   string
	FromStage string
	ToStage   string
	Detail    string
	Timestamp time.Time
}

// SQLiteStore records step events in SQLite. Use ":memory:" for tests.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (or creates) the audit database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dbPath)
	if dbPath == ":memory:" {
		dsn = "file::memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS step_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		step_id TEXT NOT NULL,
		story_id INTEGER NOT NULL,
		stage TEXT NOT NULL,
		outcome TEXT NOT NULL,
		from_stage TEXT NOT NULL,
		to_stage TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_step_events_story ON step_events(story_id);
	CREATE INDEX IF NOT EXISTS idx_step_events_stage ON step_events(stage);
	CREATE INDEX IF NOT EXISTS idx_step_events_timestamp ON step_events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append records one step event.
func (s *SQLiteStore) Append(ctx context.Context, rec StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO step_events (step_id, story_id, stage, outcome, from_stage, to_stage, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		rec.StepID, rec.StoryID, rec.Stage, rec.Outcome, rec.FromStage, rec.ToStage, rec.Detail, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert step event: %w", err)
	}
	return nil
}

// GetByStoryID returns the full step history of one story in append order.
func (s *SQLiteStore) GetByStoryID(ctx context.Context, storyID int64) ([]StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, step_id, story_id, stage, outcome, from_stage, to_stage, detail, timestamp FROM step_events WHERE story_id = ? ORDER BY id",
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query step events: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetRange returns step events within a time range in append order.
func (s *SQLiteStore) GetRange(ctx context.Context, start, end time.Time) ([]StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, step_id, story_id, stage, outcome, from_stage, to_stage, detail, timestamp FROM step_events WHERE timestamp >= ? AND timestamp <= ? ORDER BY id",
		start.Unix(), end.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query step events: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]StepRecord, error) {
	var out []StepRecord
	for rows.Next() {
		var rec StepRecord
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.StepID, &rec.StoryID, &rec.Stage, &rec.Outcome, &rec.FromStage, &rec.ToStage, &rec.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scan step event: %w", err)
		}
		rec.Timestamp = time.Unix(ts, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step events: %w", err)
	}
	return out, nil
}

// Close closes the audit database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

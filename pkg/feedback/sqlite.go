package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zen-systems/toolcascade/pkg/schema"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteStore keeps records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("feedback: create data dir: %w", err)
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("feedback: open database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("feedback: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("feedback: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS feedback (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			schema_ver  TEXT NOT NULL,
			task_id     TEXT NOT NULL DEFAULT '',
			tool_id     TEXT NOT NULL,
			category    TEXT NOT NULL,
			succeeded   INTEGER NOT NULL,
			confidence  REAL NOT NULL,
			canceled    INTEGER NOT NULL DEFAULT 0,
			recorded_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_feedback_tool_category ON feedback(tool_id, category, canceled, id);
	`)
	return err
}

// Append inserts one record.
func (s *SQLiteStore) Append(ctx context.Context, rec schema.FeedbackRecord) error {
	if rec.Schema == "" {
		rec.Schema = schema.SchemaFeedbackV1
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (schema_ver, task_id, tool_id, category, succeeded, confidence, canceled, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Schema, rec.TaskID, rec.ToolID, string(rec.Category),
		boolToInt(rec.Succeeded), rec.Confidence, boolToInt(rec.Canceled),
		rec.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("feedback: insert: %w", err)
	}
	return nil
}

// Recent returns the newest non-canceled records for the pair, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, toolID string, category schema.Category, limit int) ([]schema.FeedbackRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT schema_ver, task_id, tool_id, category, succeeded, confidence, canceled, recorded_at
		FROM (
			SELECT * FROM feedback
			WHERE tool_id = ? AND category = ? AND canceled = 0
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC`, toolID, string(category), limit)
	if err != nil {
		return nil, fmt.Errorf("feedback: query recent: %w", err)
	}
	return scanRecords(rows)
}

// List returns every record in append order.
func (s *SQLiteStore) List(ctx context.Context) ([]schema.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT schema_ver, task_id, tool_id, category, succeeded, confidence, canceled, recorded_at
		FROM feedback ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("feedback: query all: %w", err)
	}
	return scanRecords(rows)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]schema.FeedbackRecord, error) {
	defer rows.Close()
	var out []schema.FeedbackRecord
	for rows.Next() {
		var (
			rec                 schema.FeedbackRecord
			category            string
			succeeded, canceled int
			recordedAt          string
		)
		if err := rows.Scan(&rec.Schema, &rec.TaskID, &rec.ToolID, &category, &succeeded, &rec.Confidence, &canceled, &recordedAt); err != nil {
			return nil, fmt.Errorf("feedback: scan: %w", err)
		}
		rec.Category = schema.Category(category)
		rec.Succeeded = succeeded != 0
		rec.Canceled = canceled != 0
		if ts, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			rec.RecordedAt = ts
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("feedback: rows: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

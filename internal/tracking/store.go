// Package tracking is the durable task-status store. A task record is
// created before a document is enqueued and updated as the stage chain
// progresses; failures carry the verbatim stage error as their detail.
package tracking

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Task statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrTaskNotFound = errors.New("task not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tasks (
	document_id TEXT PRIMARY KEY,
	media_type  TEXT NOT NULL,
	status      TEXT NOT NULL,
	detail      TEXT,
	result      TEXT,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
`

// Task is one ingestion run's status record.
type Task struct {
	DocumentID string         `json:"document_id"`
	MediaType  string         `json:"media_type"`
	Status     string         `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Store persists task records in SQLite. The driver serializes access;
// multiple worker goroutines update different documents concurrently.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the task database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create task db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open task db: %w", err)
	}

	// WAL allows status reads while a worker is writing.
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create task schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create registers a queued task. Re-ingestion under the same id resets the
// existing record.
func (s *Store) Create(documentID, mediaType string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO tasks (document_id, media_type, status, detail, result, created_at, updated_at)
		VALUES (?, ?, ?, '', '', ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			media_type = excluded.media_type,
			status     = excluded.status,
			detail     = '',
			result     = '',
			updated_at = excluded.updated_at`,
		documentID, mediaType, StatusQueued, now, now)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// SetRunning marks the task as in progress.
func (s *Store) SetRunning(documentID string) error {
	return s.setStatus(documentID, StatusRunning, "", nil)
}

// Complete marks the task finished and attaches the result payload.
func (s *Store) Complete(documentID string, result map[string]any) error {
	return s.setStatus(documentID, StatusCompleted, "", result)
}

// Fail marks the task failed with the surfaced stage error.
func (s *Store) Fail(documentID, detail string) error {
	return s.setStatus(documentID, StatusFailed, detail, nil)
}

func (s *Store) setStatus(documentID, status, detail string, result map[string]any) error {
	resultJSON := ""
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode task result: %w", err)
		}
		resultJSON = string(data)
	}
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, detail = ?, result = ?, updated_at = ?
		WHERE document_id = ?`,
		status, detail, resultJSON, time.Now().UTC(), documentID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, documentID)
	}
	return nil
}

// Get returns the task record for a document id.
func (s *Store) Get(documentID string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT document_id, media_type, status, detail, result, created_at, updated_at
		FROM tasks WHERE document_id = ?`, documentID)

	var task Task
	var resultJSON string
	err := row.Scan(&task.DocumentID, &task.MediaType, &task.Status, &task.Detail,
		&resultJSON, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	if resultJSON != "" {
		if err := json.Unmarshal([]byte(resultJSON), &task.Result); err != nil {
			return nil, fmt.Errorf("decode task result: %w", err)
		}
	}
	return &task, nil
}

package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/raphaelgruber/taskbridge/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id             TEXT PRIMARY KEY,
	filename           TEXT NOT NULL,
	user_id            TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	started_at         TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	upload_progress    INTEGER,
	description        TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT '',
	processed_filename TEXT
);`

// Store persists job records in an embedded sqlite database. Every write is
// flushed before the call returns; there is no write-behind window between an
// acknowledged mutation and the on-disk state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("jobstore path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single writer keeps sqlite happy and matches the engine's
	// serialization of mutations.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load reads every persisted record into memory, keyed by job id.
func (s *Store) Load(ctx context.Context) (map[string]models.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT job_id, filename, user_id, status, started_at, progress, upload_progress, description, error_message, processed_filename
FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	jobs := make(map[string]models.JobRecord)
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs[rec.JobID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return jobs, nil
}

// Upsert writes or replaces the record keyed by its job id.
func (s *Store) Upsert(ctx context.Context, rec models.JobRecord) error {
	query := `
INSERT INTO jobs (job_id, filename, user_id, status, started_at, progress, upload_progress, description, error_message, processed_filename)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
	filename = excluded.filename,
	user_id = excluded.user_id,
	status = excluded.status,
	started_at = excluded.started_at,
	progress = excluded.progress,
	upload_progress = excluded.upload_progress,
	description = excluded.description,
	error_message = excluded.error_message,
	processed_filename = excluded.processed_filename`
	_, err := s.db.ExecContext(ctx, query,
		rec.JobID,
		rec.Filename,
		rec.UserID,
		string(rec.Status),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.Progress,
		nullInt(rec.UploadProgress),
		rec.Description,
		rec.ErrorMessage,
		nullString(rec.ProcessedFilename),
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", rec.JobID, err)
	}
	return nil
}

// Delete removes the record for the given job id.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return nil
}

// Truncate removes all persisted records.
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return fmt.Errorf("truncate jobs: %w", err)
	}
	return nil
}

func scanJob(rows *sql.Rows) (models.JobRecord, error) {
	var (
		rec            models.JobRecord
		status         string
		startedAt      string
		uploadProgress sql.NullInt64
		processedName  sql.NullString
	)
	if err := rows.Scan(
		&rec.JobID,
		&rec.Filename,
		&rec.UserID,
		&status,
		&startedAt,
		&rec.Progress,
		&uploadProgress,
		&rec.Description,
		&rec.ErrorMessage,
		&processedName,
	); err != nil {
		return models.JobRecord{}, fmt.Errorf("scan job: %w", err)
	}

	parsed, err := models.ParseStatus(status)
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("%w: job %s: %v", ErrCorruptRecord, rec.JobID, err)
	}
	rec.Status = parsed

	ts, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("%w: job %s: bad started_at %q", ErrCorruptRecord, rec.JobID, startedAt)
	}
	rec.StartedAt = ts

	if uploadProgress.Valid {
		v := int(uploadProgress.Int64)
		rec.UploadProgress = &v
	}
	if processedName.Valid {
		v := processedName.String
		rec.ProcessedFilename = &v
	}
	return rec, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

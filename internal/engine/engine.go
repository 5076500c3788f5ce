// Package engine implements the job lifecycle engine: the concurrent state
// machine that owns all job records and writes every mutation through to the
// durable store before acknowledging it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/taskbridge/internal/jobstore"
	"github.com/raphaelgruber/taskbridge/internal/models"
)

// ErrAlreadyTerminal indicates an update targeted a job that has already
// reached Completed or Failed. The reference behavior allowed such writes;
// rejecting them is a deliberate hardening deviation.
var ErrAlreadyTerminal = errors.New("job already terminal")

// Store is the persistence delegate the engine writes through to.
type Store interface {
	Load(ctx context.Context) (map[string]models.JobRecord, error)
	Upsert(ctx context.Context, rec models.JobRecord) error
	Delete(ctx context.Context, jobID string) error
	Truncate(ctx context.Context) error
}

// Engine owns the in-memory job collection, the mutation API, and the
// process-wide change flag sampled by the broadcaster.
//
// One mutex guards the map, each store write, and the flag. The lock is held
// only for the duration of a single read/mutate/persist operation, never
// across stream reads or pipeline delays.
type Engine struct {
	mu      sync.RWMutex
	jobs    map[string]*models.JobRecord
	changed bool

	store  Store
	logger *slog.Logger
}

// New creates an engine and loads all persisted records into memory.
func New(ctx context.Context, store Store, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load job store: %w", err)
	}
	jobs := make(map[string]*models.JobRecord, len(loaded))
	for id, rec := range loaded {
		r := rec.Clone()
		jobs[id] = &r
	}
	logger.Info("job store loaded", "jobs", len(jobs))
	return &Engine{jobs: jobs, store: store, logger: logger}, nil
}

// Create allocates a new job in status Queued and persists it.
func (e *Engine) Create(ctx context.Context, filename, userID, description string) (models.JobRecord, error) {
	rec := models.JobRecord{
		JobID:       uuid.New().String(),
		Filename:    filename,
		UserID:      userID,
		Status:      models.StatusQueued,
		StartedAt:   time.Now().UTC(),
		Description: description,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Upsert(ctx, rec); err != nil {
		return models.JobRecord{}, err
	}
	r := rec.Clone()
	e.jobs[rec.JobID] = &r

	e.logger.Info("job created", "job_id", rec.JobID, "filename", filename, "user_id", userID)
	return rec, nil
}

// Get returns a copy of the record for the given job id.
func (e *Engine) Get(jobID string) (models.JobRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.jobs[jobID]
	if !ok {
		return models.JobRecord{}, fmt.Errorf("%w: %s", jobstore.ErrNotFound, jobID)
	}
	return rec.Clone(), nil
}

// Update applies a partial set of field changes, persists the merged record,
// and raises the change flag. Updates to terminal jobs are rejected.
func (e *Engine) Update(ctx context.Context, jobID string, changes models.FieldChanges) (models.JobRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.jobs[jobID]
	if !ok {
		return models.JobRecord{}, fmt.Errorf("%w: %s", jobstore.ErrNotFound, jobID)
	}
	if rec.IsComplete() {
		return models.JobRecord{}, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, jobID, rec.Status)
	}

	merged := rec.Clone()
	changes.Apply(&merged)
	if err := e.store.Upsert(ctx, merged); err != nil {
		return models.JobRecord{}, err
	}
	*rec = merged
	e.changed = true

	return merged.Clone(), nil
}

// Delete removes a job from memory and the store.
func (e *Engine) Delete(ctx context.Context, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.jobs[jobID]; !ok {
		return fmt.Errorf("%w: %s", jobstore.ErrNotFound, jobID)
	}
	if err := e.store.Delete(ctx, jobID); err != nil {
		return err
	}
	delete(e.jobs, jobID)
	e.changed = true
	return nil
}

// List returns point-in-time copies of all jobs, oldest first.
func (e *Engine) List() []models.JobRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	jobs := make([]models.JobRecord, 0, len(e.jobs))
	for _, rec := range e.jobs {
		jobs = append(jobs, rec.Clone())
	}
	slices.SortFunc(jobs, func(a, b models.JobRecord) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return jobs
}

// Reset clears all in-memory records and truncates the durable store.
// Staging and results directories are the caller's responsibility.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Truncate(ctx); err != nil {
		return err
	}
	e.jobs = make(map[string]*models.JobRecord)
	e.changed = true
	e.logger.Info("job store reset")
	return nil
}

// HasChanged reports whether any update happened since the flag was last
// cleared. The flag is process-wide; the broadcaster always pushes a full
// snapshot, so no per-job change log is kept.
func (e *Engine) HasChanged() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.changed
}

// ClearChanged atomically reads and clears the change flag.
func (e *Engine) ClearChanged() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	was := e.changed
	e.changed = false
	return was
}

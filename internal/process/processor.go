// Package process runs the asynchronous pipeline that turns a staged upload
// into a processed artifact.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/taskbridge/internal/engine"
	"github.com/raphaelgruber/taskbridge/internal/fsutil"
	"github.com/raphaelgruber/taskbridge/internal/models"
)

// runningProgress is where overall progress lands when processing begins;
// the remaining share is split evenly across the steps.
const runningProgress = 50

// Step is a single unit of processing work. A step returning an error fails
// the whole job.
type Step interface {
	Name() string
	Run(ctx context.Context, job models.JobRecord, stagedPath string) error
}

// Runner drives a job through its processing steps to a terminal state.
type Runner struct {
	engine     *engine.Engine
	resultsDir string
	steps      []Step
	logger     *slog.Logger
}

// New creates a runner with the given steps. With no steps it defaults to
// the simulated five-step pipeline.
func New(eng *engine.Engine, resultsDir string, steps []Step, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if len(steps) == 0 {
		steps = SimulatedSteps(5, 2*time.Second)
	}
	return &Runner{engine: eng, resultsDir: resultsDir, steps: steps, logger: logger}
}

// Process marks the job Running and executes each step in order. The first
// step is preceded by copying the staged file into the results area and
// recording the processed filename. Every failure path, panics included, ends
// with the job marked Failed rather than stuck in Running.
func (r *Runner) Process(ctx context.Context, jobID, stagedPath string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("processing panicked", "job_id", jobID, "panic", rec)
			r.fail(jobID, fmt.Errorf("internal panic: %v", rec))
		}
	}()

	job, err := r.engine.Update(ctx, jobID, models.FieldChanges{
		Status:      models.StatusPtr(models.StatusRunning),
		Progress:    models.IntPtr(runningProgress),
		Description: models.StrPtr("Processing file..."),
	})
	if err != nil {
		r.logger.Error("failed to mark job running", "job_id", jobID, "error", err)
		return
	}

	total := len(r.steps)
	for i, step := range r.steps {
		if err := step.Run(ctx, job, stagedPath); err != nil {
			r.fail(jobID, fmt.Errorf("step %q: %w", step.Name(), err))
			return
		}

		if i == 0 {
			resultPath := filepath.Join(r.resultsDir, job.Filename)
			if err := fsutil.CopyFile(stagedPath, resultPath); err != nil {
				r.fail(jobID, fmt.Errorf("copy artifact: %w", err))
				return
			}
			if _, err := r.engine.Update(ctx, jobID, models.FieldChanges{
				ProcessedFilename: models.StrPtr(job.Filename),
			}); err != nil {
				r.logger.Error("failed to record artifact", "job_id", jobID, "error", err)
				return
			}
		}

		progress := runningProgress + (i+1)*(100-runningProgress)/total
		if _, err := r.engine.Update(ctx, jobID, models.FieldChanges{
			Progress:    models.IntPtr(progress),
			Description: models.StrPtr(fmt.Sprintf("Processing step %d of %d", i+1, total)),
		}); err != nil {
			r.logger.Error("failed to update progress", "job_id", jobID, "error", err)
			return
		}
	}

	if _, err := r.engine.Update(ctx, jobID, models.FieldChanges{
		Status:      models.StatusPtr(models.StatusCompleted),
		Progress:    models.IntPtr(100),
		Description: models.StrPtr("Processing complete"),
	}); err != nil {
		r.logger.Error("failed to complete job", "job_id", jobID, "error", err)
		return
	}
	r.logger.Info("job completed", "job_id", jobID)
}

// fail records the terminal failure on the job. A fresh context is used so a
// canceled request context cannot block the write.
func (r *Runner) fail(jobID string, cause error) {
	r.logger.Error("job failed", "job_id", jobID, "error", cause)
	if _, err := r.engine.Update(context.Background(), jobID, models.FieldChanges{
		Status:       models.StatusPtr(models.StatusFailed),
		ErrorMessage: models.StrPtr(cause.Error()),
		Description:  models.StrPtr("Processing failed"),
	}); err != nil {
		r.logger.Error("failed to record job failure", "job_id", jobID, "error", err)
	}
}

// SimulatedSteps returns count fixed-delay steps standing in for real work.
func SimulatedSteps(count int, delay time.Duration) []Step {
	steps := make([]Step, count)
	for i := range steps {
		steps[i] = delayStep{name: fmt.Sprintf("simulate-%d", i+1), delay: delay}
	}
	return steps
}

type delayStep struct {
	name  string
	delay time.Duration
}

func (s delayStep) Name() string { return s.name }

func (s delayStep) Run(ctx context.Context, _ models.JobRecord, _ string) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

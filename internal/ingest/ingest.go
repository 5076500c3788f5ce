// Package ingest streams an inbound upload to the staging area while driving
// job progress updates.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/raphaelgruber/taskbridge/internal/engine"
	"github.com/raphaelgruber/taskbridge/internal/models"
)

// TransferProgressShare is the slice of overall progress the transfer phase
// occupies. Upload completion lands the job at this value; processing carries
// it on to 100.
const TransferProgressShare = 10

// updateInterval throttles progress updates so a fast chunk stream cannot
// overwhelm the engine's write-through path.
const updateInterval = time.Second

const chunkSize = 64 * 1024

// Pipeline copies upload streams into the staging directory.
type Pipeline struct {
	engine     *engine.Engine
	stagingDir string
	logger     *slog.Logger
}

// New creates an ingestion pipeline writing into stagingDir.
func New(eng *engine.Engine, stagingDir string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{engine: eng, stagingDir: stagingDir, logger: logger}
}

// Run streams body into the staging file for the job and emits throttled
// progress updates. totalSize may be <= 0 when the stream length is unknown.
// It returns the staged file path. The staged name is prefixed with the job
// id so concurrent uploads of the same filename do not share a file.
func (p *Pipeline) Run(ctx context.Context, jobID, filename string, body io.Reader, totalSize int64) (string, error) {
	path := filepath.Join(p.stagingDir, jobID+"_"+filename)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer out.Close()

	if _, err := p.engine.Update(ctx, jobID, models.FieldChanges{
		Status: models.StatusPtr(models.StatusDataTransfer),
	}); err != nil {
		return "", err
	}

	var total int64
	lastUpdate := time.Now()
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("ingestion aborted: %w", err)
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("write staging file: %w", err)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("read upload stream: %w", readErr)
		}

		if now := time.Now(); now.Sub(lastUpdate) > updateInterval {
			if _, err := p.engine.Update(ctx, jobID, transferChanges(total, totalSize)); err != nil {
				return "", err
			}
			lastUpdate = now
		}
	}

	if err := out.Sync(); err != nil {
		return "", fmt.Errorf("sync staging file: %w", err)
	}

	// The final chunk always produces a final update regardless of the
	// throttle window.
	if _, err := p.engine.Update(ctx, jobID, models.FieldChanges{
		Progress:       models.IntPtr(TransferProgressShare),
		UploadProgress: models.IntPtr(100),
		Description:    models.StrPtr("Upload complete. Starting processing..."),
	}); err != nil {
		return "", err
	}

	p.logger.Info("upload staged", "job_id", jobID, "filename", filename, "bytes", total)
	return path, nil
}

// transferChanges computes the throttled mid-transfer update. With a known
// total, upload_progress tracks bytes 0-100 and overall progress is scaled
// into the transfer share. With an unknown total, progress is estimated at
// one percent per megabyte and upload_progress stays unset.
func transferChanges(received, totalSize int64) models.FieldChanges {
	if totalSize > 0 {
		progress := int(received * int64(TransferProgressShare) / totalSize)
		if progress > TransferProgressShare {
			progress = TransferProgressShare
		}
		uploadProgress := int(received * 100 / totalSize)
		if uploadProgress > 100 {
			uploadProgress = 100
		}
		return models.FieldChanges{
			Progress:       models.IntPtr(progress),
			UploadProgress: models.IntPtr(uploadProgress),
			Description: models.StrPtr(fmt.Sprintf("Uploading (%s / %s)",
				humanize.IBytes(uint64(received)), humanize.IBytes(uint64(totalSize)))),
		}
	}

	progress := int(received / 1_000_000)
	if progress > TransferProgressShare {
		progress = TransferProgressShare
	}
	return models.FieldChanges{
		Progress:    models.IntPtr(progress),
		Description: models.StrPtr(fmt.Sprintf("Uploading (%s)", humanize.IBytes(uint64(received)))),
	}
}

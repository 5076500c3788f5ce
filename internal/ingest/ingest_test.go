package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/taskbridge/internal/engine"
	"github.com/raphaelgruber/taskbridge/internal/jobstore"
	"github.com/raphaelgruber/taskbridge/internal/models"
)

func newTestPipeline(t *testing.T) (*Pipeline, *engine.Engine, string) {
	t.Helper()
	store, err := jobstore.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	eng, err := engine.New(context.Background(), store, slog.Default())
	require.NoError(t, err)

	staging := t.TempDir()
	return New(eng, staging, slog.Default()), eng, staging
}

func TestRunKnownLength(t *testing.T) {
	ctx := context.Background()
	pipe, eng, staging := newTestPipeline(t)

	job, err := eng.Create(ctx, "a.bin", "u1", "Uploading started...")
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xAB}, 1_000_000)
	path, err := pipe.Run(ctx, job.JobID, "a.bin", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(staging, job.JobID+"_a.bin"), path)

	staged, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, staged)

	got, err := eng.Get(job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDataTransfer, got.Status)
	require.Equal(t, TransferProgressShare, got.Progress)
	require.NotNil(t, got.UploadProgress)
	require.Equal(t, 100, *got.UploadProgress)
}

func TestRunSameFilenameStagedSeparately(t *testing.T) {
	ctx := context.Background()
	pipe, eng, _ := newTestPipeline(t)

	first, err := eng.Create(ctx, "same.bin", "", "")
	require.NoError(t, err)
	second, err := eng.Create(ctx, "same.bin", "", "")
	require.NoError(t, err)

	pathA, err := pipe.Run(ctx, first.JobID, "same.bin", bytes.NewReader([]byte("first-payload")), 13)
	require.NoError(t, err)
	pathB, err := pipe.Run(ctx, second.JobID, "same.bin", bytes.NewReader([]byte("second-payload")), 14)
	require.NoError(t, err)
	require.NotEqual(t, pathA, pathB)

	gotA, err := os.ReadFile(pathA)
	require.NoError(t, err)
	require.Equal(t, "first-payload", string(gotA))
	gotB, err := os.ReadFile(pathB)
	require.NoError(t, err)
	require.Equal(t, "second-payload", string(gotB))
}

func TestRunUnknownLength(t *testing.T) {
	ctx := context.Background()
	pipe, eng, _ := newTestPipeline(t)

	job, err := eng.Create(ctx, "b.bin", "", "")
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0x01}, 4096)
	_, err = pipe.Run(ctx, job.JobID, "b.bin", bytes.NewReader(payload), -1)
	require.NoError(t, err)

	// The final update still reports completion even without a declared total.
	got, err := eng.Get(job.JobID)
	require.NoError(t, err)
	require.Equal(t, TransferProgressShare, got.Progress)
	require.Equal(t, 100, *got.UploadProgress)
}

func TestRunSetsChangeFlag(t *testing.T) {
	ctx := context.Background()
	pipe, eng, _ := newTestPipeline(t)

	job, err := eng.Create(ctx, "c.bin", "", "")
	require.NoError(t, err)
	eng.ClearChanged()

	_, err = pipe.Run(ctx, job.JobID, "c.bin", bytes.NewReader([]byte("data")), 4)
	require.NoError(t, err)
	require.True(t, eng.HasChanged())
}

func TestRunAbortsOnCanceledContext(t *testing.T) {
	pipe, eng, _ := newTestPipeline(t)

	job, err := eng.Create(context.Background(), "d.bin", "", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pipe.Run(ctx, job.JobID, "d.bin", bytes.NewReader([]byte("data")), 4)
	require.Error(t, err)
}

func TestTransferChanges(t *testing.T) {
	tests := []struct {
		name         string
		received     int64
		total        int64
		wantProgress int
		wantUpload   *int
	}{
		{"half of known total", 500_000, 1_000_000, 5, models.IntPtr(50)},
		{"complete known total", 1_000_000, 1_000_000, 10, models.IntPtr(100)},
		{"progress bounded during transfer", 2_000_000, 1_000_000, 10, models.IntPtr(100)},
		{"unknown total estimates from bytes", 3_000_000, 0, 3, nil},
		{"unknown total capped at boundary", 50_000_000, 0, 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := transferChanges(tt.received, tt.total)
			require.NotNil(t, changes.Progress)
			require.Equal(t, tt.wantProgress, *changes.Progress)
			if tt.wantUpload == nil {
				require.Nil(t, changes.UploadProgress)
			} else {
				require.NotNil(t, changes.UploadProgress)
				require.Equal(t, *tt.wantUpload, *changes.UploadProgress)
			}
			require.NotNil(t, changes.Description)
		})
	}
}

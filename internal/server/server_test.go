package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/taskbridge/internal/broadcast"
	"github.com/raphaelgruber/taskbridge/internal/engine"
	"github.com/raphaelgruber/taskbridge/internal/ingest"
	"github.com/raphaelgruber/taskbridge/internal/jobstore"
	"github.com/raphaelgruber/taskbridge/internal/models"
	"github.com/raphaelgruber/taskbridge/internal/process"
)

type fixture struct {
	srv        *Server
	eng        *engine.Engine
	hub        *broadcast.Hub
	ts         *httptest.Server
	stagingDir string
	resultsDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := jobstore.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.Default()
	eng, err := engine.New(context.Background(), store, logger)
	require.NoError(t, err)

	stagingDir := t.TempDir()
	resultsDir := t.TempDir()

	hub := broadcast.New(eng, 10*time.Millisecond, logger)
	pipe := ingest.New(eng, stagingDir, logger)
	runner := process.New(eng, resultsDir, process.SimulatedSteps(5, time.Millisecond), logger)
	srv := New(eng, hub, pipe, runner, stagingDir, resultsDir, logger)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &fixture{srv: srv, eng: eng, hub: hub, ts: ts, stagingDir: stagingDir, resultsDir: resultsDir}
}

func (f *fixture) waitForStatus(t *testing.T, jobID string, want models.Status) models.JobRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := f.eng.Get(jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		if job.IsComplete() && job.Status != want {
			t.Fatalf("job reached terminal status %s, want %s (error: %s)", job.Status, want, job.ErrorMessage)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for job %s to reach %s", jobID, want)
	return models.JobRecord{}
}

func uploadFile(t *testing.T, f *fixture, filename, content, userID string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost,
		f.ts.URL+"/start_job_upload/?filename="+filename, strings.NewReader(content))
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "upload_complete", out.Status)
	require.NotEmpty(t, out.JobID)
	return out.JobID
}

func TestUploadToCompletion(t *testing.T) {
	f := newFixture(t)

	jobID := uploadFile(t, f, "report.bin", "file-contents", "u1")

	staged, err := os.ReadFile(filepath.Join(f.stagingDir, jobID+"_report.bin"))
	require.NoError(t, err)
	require.Equal(t, "file-contents", string(staged))

	job := f.waitForStatus(t, jobID, models.StatusCompleted)
	require.Equal(t, 100, job.Progress)
	require.Equal(t, "u1", job.UserID)
	require.NotNil(t, job.ProcessedFilename)

	artifact, err := os.ReadFile(filepath.Join(f.resultsDir, "report.bin"))
	require.NoError(t, err)
	require.Equal(t, "file-contents", string(artifact))
}

func TestUploadRequiresFilename(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/start_job_upload/", strings.NewReader("x"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJobs(t *testing.T) {
	f := newFixture(t)

	jobID := uploadFile(t, f, "a.bin", "data", "")
	f.waitForStatus(t, jobID, models.StatusCompleted)

	resp, err := http.Get(f.ts.URL + "/get_jobs/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var jobs []models.JobRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	require.Len(t, jobs, 1)
	require.Equal(t, jobID, jobs[0].JobID)
	require.Equal(t, models.StatusCompleted, jobs[0].Status)
}

func TestDownload(t *testing.T) {
	f := newFixture(t)

	jobID := uploadFile(t, f, "a.bin", "artifact-bytes", "")
	f.waitForStatus(t, jobID, models.StatusCompleted)

	resp, err := http.Get(f.ts.URL + "/download/" + jobID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	require.Contains(t, resp.Header.Get("Content-Disposition"), "a.bin")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "artifact-bytes", string(body))
}

func TestDownloadUnknownJob(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/download/unknown-id")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadIncompleteJob(t *testing.T) {
	f := newFixture(t)

	job, err := f.eng.Create(context.Background(), "pending.bin", "", "")
	require.NoError(t, err)

	resp, err := http.Get(f.ts.URL + "/download/" + job.JobID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDownloadMissingArtifact(t *testing.T) {
	f := newFixture(t)

	jobID := uploadFile(t, f, "a.bin", "data", "")
	f.waitForStatus(t, jobID, models.StatusCompleted)

	require.NoError(t, os.Remove(filepath.Join(f.resultsDir, "a.bin")))

	resp, err := http.Get(f.ts.URL + "/download/" + jobID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClearJobs(t *testing.T) {
	f := newFixture(t)

	jobID := uploadFile(t, f, "a.bin", "data", "")
	f.waitForStatus(t, jobID, models.StatusCompleted)

	req, err := http.NewRequest(http.MethodDelete, f.ts.URL+"/clear_jobs/", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "cleared", out["status"])

	require.Empty(t, f.eng.List())
	stagingEntries, err := os.ReadDir(f.stagingDir)
	require.NoError(t, err)
	require.Empty(t, stagingEntries)
	resultEntries, err := os.ReadDir(f.resultsDir)
	require.NoError(t, err)
	require.Empty(t, resultEntries)
}

func TestWebSocketReceivesSnapshot(t *testing.T) {
	f := newFixture(t)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go f.hub.Run(hubCtx)

	wsURL := strings.Replace(f.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	jobID := uploadFile(t, f, "a.bin", "data", "")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var jobs []models.JobRecord
	require.NoError(t, json.Unmarshal(data, &jobs))
	require.Len(t, jobs, 1)
	require.Equal(t, jobID, jobs[0].JobID)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/get_jobs/", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestUploadRejectsPathTraversal(t *testing.T) {
	f := newFixture(t)

	// filepath.Base strips the directory part; the upload lands flat in
	// staging under the job-prefixed base name.
	jobID := uploadFile(t, f, "..%2F..%2Fetc%2Fpasswd", "x", "")
	_, statErr := os.Stat(filepath.Join(f.stagingDir, jobID+"_passwd"))
	require.NoError(t, statErr)
}

func TestUploadsWithSameFilenameDoNotCollide(t *testing.T) {
	f := newFixture(t)

	first := uploadFile(t, f, "same.bin", "first-payload", "")
	second := uploadFile(t, f, "same.bin", "second-payload", "")
	require.NotEqual(t, first, second)

	stagedA, err := os.ReadFile(filepath.Join(f.stagingDir, first+"_same.bin"))
	require.NoError(t, err)
	require.Equal(t, "first-payload", string(stagedA))
	stagedB, err := os.ReadFile(filepath.Join(f.stagingDir, second+"_same.bin"))
	require.NoError(t, err)
	require.Equal(t, "second-payload", string(stagedB))

	f.waitForStatus(t, first, models.StatusCompleted)
	f.waitForStatus(t, second, models.StatusCompleted)
}

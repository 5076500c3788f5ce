// Package server exposes the TaskBridge HTTP and WebSocket surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/taskbridge/internal/broadcast"
	"github.com/raphaelgruber/taskbridge/internal/engine"
	"github.com/raphaelgruber/taskbridge/internal/fsutil"
	"github.com/raphaelgruber/taskbridge/internal/ingest"
	"github.com/raphaelgruber/taskbridge/internal/jobstore"
	"github.com/raphaelgruber/taskbridge/internal/models"
	"github.com/raphaelgruber/taskbridge/internal/process"
)

// Server wires the lifecycle engine, pipelines, and broadcaster behind the
// HTTP endpoints.
type Server struct {
	engine     *engine.Engine
	hub        *broadcast.Hub
	ingest     *ingest.Pipeline
	runner     *process.Runner
	stagingDir string
	resultsDir string
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// New creates a server around its collaborators.
func New(eng *engine.Engine, hub *broadcast.Hub, ing *ingest.Pipeline, runner *process.Runner, stagingDir, resultsDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:     eng,
		hub:        hub,
		ingest:     ing,
		runner:     runner,
		stagingDir: stagingDir,
		resultsDir: resultsDir,
		upgrader: websocket.Upgrader{
			// The dashboard is served from a separate origin.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Routes builds the HTTP handler with logging and CORS middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start_job_upload/", s.handleStartJobUpload)
	mux.HandleFunc("GET /get_jobs/", s.handleGetJobs)
	mux.HandleFunc("GET /download/{job_id}", s.handleDownload)
	mux.HandleFunc("DELETE /clear_jobs/", s.handleClearJobs)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return CORSMiddleware(LoggingMiddleware(s.logger)(mux))
}

// handleStartJobUpload creates a job, streams the request body into staging,
// and schedules background processing.
func (s *Server) handleStartJobUpload(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		http.Error(w, "filename query parameter is required", http.StatusBadRequest)
		return
	}
	// Uploads are stored flat under the staging dir; reject path traversal.
	filename = filepath.Base(filename)
	if filename == "." || filename == ".." || filename == string(filepath.Separator) {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}
	userID := r.Header.Get("X-User-ID")

	job, err := s.engine.Create(r.Context(), filename, userID, "Uploading started...")
	if err != nil {
		s.logger.Error("failed to create job", "error", err)
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}

	stagedPath, err := s.ingest.Run(r.Context(), job.JobID, filename, r.Body, r.ContentLength)
	if err != nil {
		s.failJob(job.JobID, fmt.Errorf("upload: %w", err))
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	// Processing runs detached from the request lifetime, once per job.
	go s.runner.Process(context.Background(), job.JobID, stagedPath)

	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": job.JobID,
		"status": "upload_complete",
	})
}

// handleGetJobs returns the full job list as a JSON array.
func (s *Server) handleGetJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.List())
}

// handleDownload streams the processed artifact of a completed job.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	job, err := s.engine.Get(jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		http.Error(w, fmt.Sprintf("job %s not found", jobID), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if job.Status != models.StatusCompleted || job.ProcessedFilename == nil {
		http.Error(w, "job not completed", http.StatusForbidden)
		return
	}

	path := filepath.Join(s.resultsDir, *job.ProcessedFilename)
	if _, err := os.Stat(path); err != nil {
		http.Error(w, fmt.Sprintf("file %s not found", *job.ProcessedFilename), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", *job.ProcessedFilename))
	http.ServeFile(w, r, path)
}

// handleClearJobs clears all job records plus the staging and results areas.
func (s *Server) handleClearJobs(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reset(r.Context()); err != nil {
		s.logger.Error("failed to reset job store", "error", err)
		http.Error(w, "failed to clear jobs", http.StatusInternalServerError)
		return
	}
	for _, dir := range []string{s.stagingDir, s.resultsDir} {
		if err := fsutil.ClearDir(dir); err != nil {
			s.logger.Warn("failed to clear directory", "dir", dir, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleWebSocket upgrades the connection and registers it with the hub. The
// read pump only exists to notice the peer going away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.Subscribe(conn)
	defer func() {
		s.hub.Unsubscribe(conn)
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// failJob marks a job Failed outside the processing pipeline (upload errors).
func (s *Server) failJob(jobID string, cause error) {
	s.logger.Error("job failed", "job_id", jobID, "error", cause)
	if _, err := s.engine.Update(context.Background(), jobID, models.FieldChanges{
		Status:       models.StatusPtr(models.StatusFailed),
		ErrorMessage: models.StrPtr(cause.Error()),
		Description:  models.StrPtr("Upload failed"),
	}); err != nil {
		s.logger.Error("failed to record job failure", "job_id", jobID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

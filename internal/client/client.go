// Package client provides a REST/WebSocket client for the TaskBridge server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/taskbridge/internal/models"
)

// Client talks to a running taskbridge-server.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// New creates a client. If baseURL is empty, TASKBRIDGE_SERVER_URL is used,
// defaulting to localhost:8000.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("TASKBRIDGE_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	timeout := 10 * time.Minute // uploads of large files take a while
	if t := os.Getenv("TASKBRIDGE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  os.Getenv("TASKBRIDGE_USER_ID"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// UploadResponse is the server's reply to a completed upload.
type UploadResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Upload streams the file at path to the server and returns the created job id.
func (c *Client) Upload(ctx context.Context, path string) (*UploadResponse, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	endpoint := fmt.Sprintf("%s/start_job_upload/?filename=%s",
		c.baseURL, url.QueryEscape(filepath.Base(path)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, file)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	var out UploadResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs fetches all job records.
func (c *Client) ListJobs(ctx context.Context) ([]models.JobRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_jobs/", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var jobs []models.JobRecord
	if err := c.do(req, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Download writes the processed artifact of a job to destPath.
func (c *Client) Download(ctx context.Context, jobID, destPath string) error {
	endpoint := fmt.Sprintf("%s/download/%s", c.baseURL, url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write destination: %w", err)
	}
	return out.Close()
}

// Clear removes all jobs and truncates the server's storage areas.
func (c *Client) Clear(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/clear_jobs/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, nil)
}

// Watch subscribes to the push channel and invokes fn for every snapshot
// until the context is canceled or the connection drops.
func (c *Client) Watch(ctx context.Context, fn func([]models.JobRecord)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read snapshot: %w", err)
		}
		var jobs []models.JobRecord
		if err := json.Unmarshal(data, &jobs); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		fn(jobs)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

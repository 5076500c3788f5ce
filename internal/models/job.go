// Package models defines the data structures for TaskBridge jobs.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidField indicates a partial update referenced a field that does not
// exist on a job record.
var ErrInvalidField = errors.New("invalid job field")

// Status represents the lifecycle stage of a job.
type Status string

const (
	StatusQueued       Status = "Queued"
	StatusDataTransfer Status = "Data Transfer"
	StatusRunning      Status = "Running"
	StatusCompleted    Status = "Completed"
	StatusFailed       Status = "Failed"
)

// ParseStatus converts a persisted status label back into a Status.
// Unknown labels are rejected so corrupt records surface instead of
// silently defaulting.
func ParseStatus(label string) (Status, error) {
	switch s := Status(label); s {
	case StatusQueued, StatusDataTransfer, StatusRunning, StatusCompleted, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown job status %q", label)
	}
}

// UnmarshalJSON validates the status label on decode.
func (s *Status) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	parsed, err := ParseStatus(label)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// JobRecord is the central entity tracked by the lifecycle engine.
// It is persisted in full on every mutation.
type JobRecord struct {
	JobID             string    `json:"job_id"`
	Filename          string    `json:"filename"`
	UserID            string    `json:"user_id"`
	Status            Status    `json:"status"`
	StartedAt         time.Time `json:"started_at"`
	Progress          int       `json:"progress"`
	UploadProgress    *int      `json:"upload_progress,omitempty"`
	Description       string    `json:"description"`
	ErrorMessage      string    `json:"error_message"`
	ProcessedFilename *string   `json:"processed_filename,omitempty"`
}

// IsComplete reports whether the job reached a terminal state.
func (j *JobRecord) IsComplete() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Clone returns a copy of the record safe to hand out to callers.
func (j *JobRecord) Clone() JobRecord {
	c := *j
	if j.UploadProgress != nil {
		v := *j.UploadProgress
		c.UploadProgress = &v
	}
	if j.ProcessedFilename != nil {
		v := *j.ProcessedFilename
		c.ProcessedFilename = &v
	}
	return c
}

// FieldChanges is a partial update to a job record. Nil fields are left
// untouched. This replaces dynamic attribute-name updates with a value
// object that is checked at compile time.
type FieldChanges struct {
	Status            *Status `json:"status,omitempty"`
	Progress          *int    `json:"progress,omitempty"`
	UploadProgress    *int    `json:"upload_progress,omitempty"`
	Description       *string `json:"description,omitempty"`
	ErrorMessage      *string `json:"error_message,omitempty"`
	ProcessedFilename *string `json:"processed_filename,omitempty"`
}

// Apply merges the changes into the record.
func (c FieldChanges) Apply(rec *JobRecord) {
	if c.Status != nil {
		rec.Status = *c.Status
	}
	if c.Progress != nil {
		rec.Progress = *c.Progress
	}
	if c.UploadProgress != nil {
		v := *c.UploadProgress
		rec.UploadProgress = &v
	}
	if c.Description != nil {
		rec.Description = *c.Description
	}
	if c.ErrorMessage != nil {
		rec.ErrorMessage = *c.ErrorMessage
	}
	if c.ProcessedFilename != nil {
		v := *c.ProcessedFilename
		rec.ProcessedFilename = &v
	}
}

// changeFields is the set of JSON keys FieldChanges accepts.
var changeFields = map[string]bool{
	"status":             true,
	"progress":           true,
	"upload_progress":    true,
	"description":        true,
	"error_message":      true,
	"processed_filename": true,
}

// UnmarshalJSON rejects unknown field names so a malformed update surfaces
// as ErrInvalidField instead of being silently dropped. This is the decode
// surface for changes arriving as JSON documents (fixtures, tooling);
// in-process callers build the struct directly.
func (c *FieldChanges) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if !changeFields[key] {
			return fmt.Errorf("%w: %q", ErrInvalidField, key)
		}
	}
	type plain FieldChanges
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = FieldChanges(p)
	return nil
}

// IntPtr returns a pointer to v, for building FieldChanges literals.
func IntPtr(v int) *int { return &v }

// StrPtr returns a pointer to s.
func StrPtr(s string) *string { return &s }

// StatusPtr returns a pointer to s.
func StatusPtr(s Status) *Status { return &s }

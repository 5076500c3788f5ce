// Package jobstore provides the embedded durable store for job records.
package jobstore

import "errors"

// Sentinel errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested job does not exist in the store.
	ErrNotFound = errors.New("job not found")

	// ErrCorruptRecord indicates a persisted record could not be restored,
	// typically because its status label is not a known value.
	ErrCorruptRecord = errors.New("corrupt job record")
)

package recorder

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a start request arrives while a session is
// already active.
var ErrBusy = errors.New("recording already in progress")

// ErrNotRecording is returned for stop requests with no active session.
var ErrNotRecording = errors.New("no recording in progress")

// ConfigurationError is fatal to starting a session: missing credentials
// or an unloadable model. Surfaced immediately, never retried.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ReconnectExhaustedError is the terminal failure after the reconnection
// budget is spent. Partial transcripts obtained before it are preserved.
type ReconnectExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("backend unreachable after %d reconnect attempts: %v", e.Attempts, e.Last)
}

func (e *ReconnectExhaustedError) Unwrap() error { return e.Last }

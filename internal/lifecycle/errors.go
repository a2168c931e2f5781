package lifecycle

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of one operation.
type Status string

const (
	StatusPending     Status = "pending"
	StatusAuthorizing Status = "authorizing"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusAborted     Status = "aborted"
)

// ErrDeviceBusy is returned when a second operation targets a device path
// that already has one in flight.
var ErrDeviceBusy = errors.New("device busy")

// ConfigError is a request rejected before any device I/O happened.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

// PermissionError is an operation refused for lack of privileges.
type PermissionError struct {
	Op string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s requires root privileges", e.Op)
}

// RuntimeError is a mid-operation failure, carrying whatever partial
// progress was made before it.
type RuntimeError struct {
	Op             string
	ExitCode       int
	Stderr         string
	Pass           int
	BytesProcessed int64
	Err            error
}

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Op)
	if e.Pass > 0 {
		msg += fmt.Sprintf(" on pass %d", e.Pass)
	}
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a referenced project or task does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyInState is returned when a lifecycle request would not change
	// anything, e.g. start on a project that is already starting or running.
	ErrAlreadyInState = errors.New("already in requested state")

	// ErrInvalidState is returned when an operation is not permitted from the
	// project's current state, e.g. delete while running.
	ErrInvalidState = errors.New("operation not permitted in current state")

	// ErrPortExhausted matches any PortExhaustedError via errors.Is.
	ErrPortExhausted = errors.New("port range exhausted")

	// ErrTimeout matches any TimeoutError via errors.Is.
	ErrTimeout = errors.New("operation timed out")
)

// FieldError names one violated field and why it was rejected.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every violated field of a request so the caller
// can report them all at once.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

// Add records a violation.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Has reports whether field has been recorded as invalid.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// OrNil returns nil when no field was recorded, so callers can write
// `return verr.OrNil()` without a typed-nil error.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// PortExhaustedError reports that no free port was left in the candidate
// range while allocating for Service.
type PortExhaustedError struct {
	Service string
	Start   int
	End     int
}

func (e *PortExhaustedError) Error() string {
	return fmt.Sprintf("no free port in range %d-%d for service %q", e.Start, e.End-1, e.Service)
}

// Is lets errors.Is(err, ErrPortExhausted) match.
func (e *PortExhaustedError) Is(target error) bool {
	return target == ErrPortExhausted
}

// ProcessSpawnError means the executable could not be started at all
// (missing binary, permission denied). No exit code exists.
type ProcessSpawnError struct {
	Command string
	Err     error
}

func (e *ProcessSpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Command, e.Err)
}

func (e *ProcessSpawnError) Unwrap() error {
	return e.Err
}

// ProcessExitError means the process ran and exited non-zero.
type ProcessExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ProcessExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// TimeoutError means the process exceeded its ceiling and was killed.
type TimeoutError struct {
	Command string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Command, e.After)
}

// Is lets errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ErrorKind classifies a process failure for logs and metrics.
func ErrorKind(err error) string {
	var (
		spawn   *ProcessSpawnError
		exit    *ProcessExitError
		timeout *TimeoutError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &spawn):
		return "spawn"
	case errors.As(err, &exit):
		return "exit"
	default:
		return "other"
	}
}

package loom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses an HTTP Retry-After header value, either a
// delay in seconds or an HTTP date. Returns 0 for empty, malformed, or
// past values.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// ValidationKind classifies graph validation failures.
type ValidationKind string

const (
	ValidationUnknownNodeType ValidationKind = "unknown_node_type"
	ValidationDanglingEdge    ValidationKind = "dangling_edge"
	ValidationCycle           ValidationKind = "cycle"
)

// ValidationError reports a structural problem in a submitted workflow.
// Validation runs before any event is emitted.
type ValidationError struct {
	Kind    ValidationKind
	NodeID  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// RecoverableError marks a node failure that degrades the node to the
// error state without aborting the run.
type RecoverableError struct {
	Err error
}

func (e *RecoverableError) Error() string { return e.Err.Error() }
func (e *RecoverableError) Unwrap() error { return e.Err }

// Recoverable wraps err so the engine records it and continues.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableError{Err: err}
}

// Recoverablef wraps a formatted error as recoverable.
func Recoverablef(format string, args ...any) error {
	return &RecoverableError{Err: fmt.Errorf(format, args...)}
}

// FatalError marks a failure that must abort the whole run.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the engine aborts the run with an error event.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsRecoverable reports whether err should fail only its node. Context
// cancellation and explicit FatalError wrappers abort the run; every other
// agent failure, including provider errors after retry exhaustion, degrades
// the node and lets the run continue.
func IsRecoverable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var f *FatalError
	return !errors.As(err, &f)
}

// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// External fetch errors. Every client converts its failures into one of
	// these so the sync engine can treat them uniformly as "no data".
	ErrAuthFailed     = errors.New("authentication failed")
	ErrTransient      = errors.New("transient network failure")
	ErrUpstreamServer = errors.New("upstream server failure")
	ErrNoData         = errors.New("no data returned")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// DataIntegrityWarning marks an expected field that was missing or
// unparseable in an otherwise-successful upstream response. It is logged at
// the fetch boundary and never treated as fatal.
type DataIntegrityWarning struct {
	Field  string
	Detail string
}

func (w *DataIntegrityWarning) Error() string {
	return fmt.Sprintf("data integrity warning: %s: %s", w.Field, w.Detail)
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrUpstreamServer) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}

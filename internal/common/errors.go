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

	// Intake errors.
	ErrValidation       = errors.New("validation failed")
	ErrAlreadyProcessed = errors.New("already processed")

	// Reference data errors. A transient gateway failure must never become a
	// terminal expense state; callers revert to pending and rely on redelivery.
	ErrTransientGateway = errors.New("reference data gateway unreachable")

	// Lifecycle errors.
	ErrInvalidTransition = errors.New("invalid status transition")

	// Feed errors.
	ErrFeedConnection = errors.New("bank feed connection failed")
	ErrFeedRateLimit  = errors.New("bank feed rate limit exceeded")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

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
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrFeedRateLimit) ||
		errors.Is(err, ErrTransientGateway) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}

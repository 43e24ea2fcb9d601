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

	// Sync errors.
	ErrSyncAlreadyRunning = errors.New("sync already running for this folder")

	// Reconciliation errors.
	ErrApprovedMatchExists = errors.New("an approved match already exists for this transaction or source item")
	ErrMatchNotApproved    = errors.New("match is not currently approved")
	ErrMatchNotSuggested   = errors.New("match is not in suggested state")

	// Matching errors.
	ErrRateNotFound = errors.New("exchange rate not found")
	ErrNoExtraction = errors.New("source item has no extraction")
	ErrNotOwner     = errors.New("caller does not own the underlying record")

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

// IsConflict reports whether an error is a synchronous conflict that should
// be rejected to the caller rather than retried.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSyncAlreadyRunning) ||
		errors.Is(err, ErrApprovedMatchExists) ||
		errors.Is(err, ErrMatchNotApproved) ||
		errors.Is(err, ErrMatchNotSuggested)
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if IsConflict(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}

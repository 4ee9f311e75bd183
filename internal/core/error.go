/*
Package core holds the aggregation orchestrator: the state machine that takes raw
domain input through normalization, one backend request and on to the result set
consumed by the renderer and the CSV exporter.
*/
package core

import (
	"errors"

	"github.com/x-stp/secagg/internal/aggregator"
)

// customError is an error type that includes a retryable flag.
// A retryable error leaves the orchestrator ready for the user to submit again
// once the condition is fixed (e.g. after typing some domains).
// It implements the standard `error` interface.
type customError struct {
	message   string // The error message.
	retryable bool   // True if the user can retry by submitting again.
}

// NewError creates a new customError with the given message and retryable status.
//
// Parameters:
//   msg: The textual description of the error.
//   retryable: A boolean indicating if the condition is transient
//              and a later submission could succeed.
//
// Returns:
//   An error of type *customError.
func NewError(msg string, retryable bool) error {
	return &customError{
		message:   msg,
		retryable: retryable,
	}
}

// Error implements the standard Go `error` interface.
func (e *customError) Error() string {
	return e.message
}

// IsRetryable returns true if the error is designated as retryable, false otherwise.
func (e *customError) IsRetryable() bool {
	return e.retryable
}

// IsRetryable reports whether err is worth a fresh user-triggered submission.
// Retryable *customError values and every *aggregator.Error qualify; nothing
// is retried automatically.
// If the error is nil, it returns false.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ce *customError
	if errors.As(err, &ce) {
		return ce.IsRetryable()
	}

	var ae *aggregator.Error
	return errors.As(err, &ae)
}

// Common error constants used within the core package.
var (
	// ErrNoDomains is returned when the input normalizes to an empty list.
	// No request is made; the user may add domains and submit again.
	ErrNoDomains = NewError("please add at least one domain", true)
	// ErrSubmissionInFlight rejects a submission while another is processing.
	ErrSubmissionInFlight = NewError("a submission is already in progress", true)
	// ErrNothingToExport is returned by Export before the first non-empty result set.
	ErrNothingToExport = NewError("nothing to export", false)
)

package service

import (
	"errors"
	"fmt"
)

// Common service errors. The API layer maps them to status codes.
var (
	// ErrInvalidRequest marks a submission that failed validation.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrProviderStart marks a submission the provider refused or could not
	// accept. API layer should map this to HTTP 502 Bad Gateway.
	ErrProviderStart = errors.New("provider failed to start generation")

	// ErrAlreadyOwned is returned when a job is already being polled by this
	// process.
	ErrAlreadyOwned = errors.New("job is already being polled")
)

// RejectedError reports a submission turned away by admission control. No
// job row exists for a rejected submission.
// API layer should map this to HTTP 503 Service Unavailable.
type RejectedError struct {
	Reason string
	Err    error
}

// Error implements the error interface for RejectedError.
func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission rejected: %s: %v", e.Reason, e.Err)
	}
	return "submission rejected: " + e.Reason
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *RejectedError) Unwrap() error {
	return e.Err
}

// IsRejected reports whether err is or wraps a *RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidJobStatus is returned when a status string is not one of the
	// known job states.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrJobNotFound is returned when no job exists for a given identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrExternalTaskIDSet is returned when an external task id is assigned to
	// a job that already has one.
	ErrExternalTaskIDSet = errors.New("external task id already set")

	// ErrEmptyPrompt is returned when neither a prompt nor a style was given.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrEmptyModel is returned when a request names no model.
	ErrEmptyModel = errors.New("model cannot be empty")

	// ErrEmptyExternalTaskID is returned when a job is created without the
	// provider's task id.
	ErrEmptyExternalTaskID = errors.New("external task id cannot be empty")
)

// IllegalTransitionError reports a status change that is not an edge of the
// job state graph.
type IllegalTransitionError struct {
	From JobStatus
	To   JobStatus
}

// Error implements the error interface.
func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal job status transition from %s to %s", e.From, e.To)
}

// IsIllegalTransition reports whether err is or wraps an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var ite *IllegalTransitionError
	return errors.As(err, &ite)
}

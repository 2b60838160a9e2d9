package generation

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the generation package
var (
	// ErrNoUsableChoices is returned when the provider reports success but
	// none of its clips could be turned into a choice. Jobs hitting it fail.
	ErrNoUsableChoices = errors.New("provider reported success without usable choices")

	// ErrUnrecognizedStatus is returned when the provider sends a status
	// string that maps to no job state. It is treated as a transient anomaly.
	ErrUnrecognizedStatus = errors.New("unrecognized provider status")

	// ErrMissingTaskID is returned when a start response carries no task id.
	ErrMissingTaskID = errors.New("provider response has no task id")
)

// ErrorClass tells retry logic whether a failed provider call may succeed
// if repeated.
type ErrorClass int

const (
	// ClassTransient covers timeouts, connection failures, rate limiting and
	// server-side errors.
	ClassTransient ErrorClass = iota
	// ClassPermanent covers rejected requests that will fail the same way again.
	ClassPermanent
)

// String returns a lowercase name for the class, used in logs and metrics.
func (c ErrorClass) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

// ProviderError is returned by Provider implementations for every failed call.
type ProviderError struct {
	Class ErrorClass
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	// Message is the provider's own explanation, stored verbatim on FAILURE.
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s error (status %d): %s", e.Class, e.StatusCode, msg)
	}
	return fmt.Sprintf("provider %s error: %s", e.Class, msg)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Reason returns the text recorded on a job that fails because of e.
func (e *ProviderError) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Error()
}

// NewTransientError wraps err as a transient provider failure.
func NewTransientError(statusCode int, message string, err error) *ProviderError {
	return &ProviderError{Class: ClassTransient, StatusCode: statusCode, Message: message, Err: err}
}

// NewPermanentError wraps err as a permanent provider failure.
func NewPermanentError(statusCode int, message string, err error) *ProviderError {
	return &ProviderError{Class: ClassPermanent, StatusCode: statusCode, Message: message, Err: err}
}

// ClassifyStatus maps an HTTP status code of a failed response to an error
// class. Rate limiting and 5xx responses are retryable; any other 4xx is not.
func ClassifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return ClassTransient
	case code >= 500:
		return ClassTransient
	case code >= 400:
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// IsTransient reports whether err is a ProviderError worth retrying.
// Errors that are not ProviderErrors are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class == ClassTransient
	}
	return !errors.Is(err, ErrNoUsableChoices)
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}

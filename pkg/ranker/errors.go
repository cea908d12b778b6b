package ranker

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidArgument reports a local precondition violation. Requests
	// failing with it never reach the service.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCancelled reports that the caller aborted a wait.
	ErrCancelled = errors.New("wait cancelled")
	// ErrWaitTimeout reports that a bounded wait ran out of attempts or time.
	ErrWaitTimeout = errors.New("ranker did not become available in time")
	// ErrNotFound matches service errors with status 404.
	ErrNotFound = errors.New("ranker not found")
	// ErrUnauthorized matches service errors with status 401 or 403.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrServiceUnavailable matches service errors with status 503.
	ErrServiceUnavailable = errors.New("service unavailable")
)

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// ServiceError is returned when the service answers with a non-2xx status.
type ServiceError struct {
	// Method and Path identify the failed request.
	Method string
	Path   string
	// StatusCode is the HTTP status code.
	StatusCode int
	// Body is the response body, verbatim.
	Body string
}

func (e *ServiceError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s failed with status %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s failed with status %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), body)
}

// Is implements error matching for ServiceError
func (e *ServiceError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrServiceUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	default:
		return false
	}
}

// DecodeError is returned when a response body does not have the expected
// shape.
type DecodeError struct {
	// Target names the record being decoded ("ranker", "ranking", ...).
	Target string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Target, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TrainingFailedError is returned by AwaitAvailable when the service reports
// a status that is neither Training nor Available.
type TrainingFailedError struct {
	RankerID string
	// Status is the raw status reported by the service.
	Status      string
	Description string
}

func (e *TrainingFailedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("training ranker %s failed (status=%s): %s", e.RankerID, e.Status, e.Description)
	}
	return fmt.Sprintf("training ranker %s failed (status=%s)", e.RankerID, e.Status)
}

// CancelledError is returned when the context of a wait is done. It matches
// ErrCancelled and unwraps to the context error.
type CancelledError struct {
	RankerID string
	Err      error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("waiting for ranker %s: %v", e.RankerID, e.Err)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// Is implements error matching for CancelledError
func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// WaitTimeoutError is returned when a bounded wait gives up while the ranker
// is still training.
type WaitTimeoutError struct {
	RankerID   string
	Attempts   int
	LastStatus string
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("ranker %s still %s after %d status checks", e.RankerID, e.LastStatus, e.Attempts)
}

// Is implements error matching for WaitTimeoutError
func (e *WaitTimeoutError) Is(target error) bool {
	return target == ErrWaitTimeout
}

package oracle

import (
	"errors"
	"fmt"
	"net/http"
)

// TransientError represents a temporary error that may succeed on a later
// cycle.
type TransientError struct {
	err error
	// Throttled is set when the service asked us to slow down.
	Throttled bool
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// FatalError represents a permanent error: bad request, auth or a malformed
// response.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// IsTransient returns true if the error is transient.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsThrottled returns true if the service rate limited the call.
func IsThrottled(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient) && transient.Throttled
}

// IsFatal returns true if the error should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

func classifyHTTPError(endpoint string, statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	err := fmt.Errorf("%s: oracle error (status %d): %s", endpoint, statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &TransientError{err: err, Throttled: true}
	case statusCode >= 500:
		return &TransientError{err: err}
	default:
		return &FatalError{err: err}
	}
}

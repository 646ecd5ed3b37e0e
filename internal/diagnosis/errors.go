package diagnosis

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError reports that the backend rejected the session (HTTP 401).
// It is never shown as a generic failure; callers hand it to the session
// refresher.
type AuthError struct {
	operation string
	message   string
}

func (e *AuthError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("%s: unauthorized: %s", e.operation, e.message)
	}
	return fmt.Sprintf("%s: unauthorized", e.operation)
}

// Operation returns a short description of the API call that failed.
func (e *AuthError) Operation() string { return e.operation }

// APIError is a failed call: a non-2xx HTTP status or a non-zero envelope code.
// Callers should prefer the predicate functions to asserting on this type.
type APIError struct {
	operation  string
	statusCode int
	code       int
	message    string
}

func (e *APIError) Error() string {
	if e.code != 0 {
		return fmt.Sprintf("%s: HTTP %d: [%d] %s", e.operation, e.statusCode, e.code, e.message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.operation, e.statusCode, e.message)
}

func newAPIError(operation string, statusCode, code int, message string) *APIError {
	return &APIError{
		operation:  operation,
		statusCode: statusCode,
		code:       code,
		message:    message,
	}
}

// StatusCode returns the HTTP status code from the response.
func (e *APIError) StatusCode() int { return e.statusCode }

// Code returns the envelope code.
func (e *APIError) Code() int { return e.code }

// Message returns the human-readable error message.
func (e *APIError) Message() string { return e.message }

// Operation returns a short description of the API call that failed.
func (e *APIError) Operation() string { return e.operation }

// IsUnauthorized reports whether err is an *AuthError.
func IsUnauthorized(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsNotFound reports whether err is an API error with HTTP 404 status.
func IsNotFound(err error) bool { return HasStatusCode(err, http.StatusNotFound) }

// HasStatusCode reports whether err is an API error whose HTTP status code matches.
func HasStatusCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.statusCode == code
}

// HasCode reports whether err is an API error whose envelope code matches.
func HasCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.code == code
}

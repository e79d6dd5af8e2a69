package catalog

import (
	"errors"
	"fmt"
)

// Code classifies a remote call failure. The coordinator never sees raw
// transport or HTTP errors, only these codes.
type Code string

const (
	// CodeUnauthorized means the bearer credential was missing or expired.
	// Terminal for the engine: surfaced as "sign in again", not retried.
	CodeUnauthorized Code = "unauthorized"

	// CodeForbidden means the caller does not own the remote object.
	CodeForbidden Code = "forbidden"

	// CodeNotFound means the remote object is gone.
	CodeNotFound Code = "not_found"

	// CodeConflict means the public identifier is already taken.
	CodeConflict Code = "conflict"

	// CodeClientError is any other 4xx.
	CodeClientError Code = "client_error"

	// CodeServerError is any 5xx. Presumed transient.
	CodeServerError Code = "server_error"

	// CodeUnreachable means no connection or timeout. Presumed transient.
	CodeUnreachable Code = "unreachable"

	// CodeInvalidResponse means a success status with a malformed body.
	// Presumed transient (a proxy or deploy hiccup, not our state).
	CodeInvalidResponse Code = "invalid_response"
)

// Error is the typed failure returned by every client method.
type Error struct {
	Code       Code
	StatusCode int // 0 when there was no HTTP response
	Message    string
	Err        error // underlying cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("catalog: %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("catalog: %s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the call can plausibly succeed.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeUnreachable, CodeServerError, CodeInvalidResponse:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable catalog error.
// Non-catalog errors are not retryable: an unclassified failure must not
// loop forever.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}

// CodeOf extracts the classification code, or "" for non-catalog errors.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// classifyStatus maps an HTTP status to a failure code.
func classifyStatus(status int) Code {
	switch status {
	case 401:
		return CodeUnauthorized
	case 403:
		return CodeForbidden
	case 404:
		return CodeNotFound
	case 409:
		return CodeConflict
	}
	if status >= 500 {
		return CodeServerError
	}
	return CodeClientError
}

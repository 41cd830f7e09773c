package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the notebook engine.
type ErrorCode string

// Provenance and execution error codes
const (
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrUnknownEntryType ErrorCode = "UNKNOWN_ENTRY_TYPE"
	ErrInvalidState     ErrorCode = "INVALID_STATE"
	ErrCycleDetected    ErrorCode = "CYCLE_DETECTED"
	ErrIntegrityFailure ErrorCode = "INTEGRITY_FAILURE"
	ErrBackendExecution ErrorCode = "BACKEND_EXECUTION"
)

// Configuration and infrastructure error codes
const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrDuplicateRegistration ErrorCode = "DUPLICATE_REGISTRATION"
	ErrStorageFailure        ErrorCode = "STORAGE_FAILURE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error carrying the same code, so that
// errors.Is(err, types.NewError(types.ErrNotFound, "")) matches any NotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NotFound builds a NOT_FOUND error for the given kind of object.
func NotFound(kind, id string) *Error {
	return Errorf(ErrNotFound, "%s not found: %s", kind, id)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, looking through wraps.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return IsCode(err, ErrNotFound) }

// IsInvalidState reports whether err is an INVALID_STATE error.
func IsInvalidState(err error) bool { return IsCode(err, ErrInvalidState) }

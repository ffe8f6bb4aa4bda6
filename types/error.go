package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Plan error codes
const (
	ErrInvalidPlan        ErrorCode = "INVALID_PLAN"
	ErrCircularDependency ErrorCode = "CIRCULAR_DEPENDENCY"
	ErrUnknownStepKind    ErrorCode = "UNKNOWN_STEP_KIND"
)

// Dependency error codes
const (
	ErrCircuitOpen   ErrorCode = "CIRCUIT_OPEN"
	ErrTimeout       ErrorCode = "TIMEOUT"
	ErrUnavailable   ErrorCode = "UNAVAILABLE"
	ErrThrottled     ErrorCode = "THROTTLED"
	ErrUpstreamError ErrorCode = "UPSTREAM_ERROR"
)

// Caller error codes
const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrAuthentication   ErrorCode = "AUTHENTICATION"
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrNotSupported     ErrorCode = "NOT_SUPPORTED"
)

// Validation and lifecycle error codes
const (
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrRetryExhausted   ErrorCode = "RETRY_EXHAUSTED"
	ErrStorage          ErrorCode = "STORAGE_ERROR"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrCancelled        ErrorCode = "CANCELLED"
)

// retryableByDefault lists codes that denote transient dependency trouble.
// Callers may still override per error via WithRetryable.
var retryableByDefault = map[ErrorCode]bool{
	ErrTimeout:       true,
	ErrUnavailable:   true,
	ErrThrottled:     true,
	ErrUpstreamError: true,
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
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

// NewError creates a new Error with the given code and message. The
// retryable flag starts from the code's default classification.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: retryableByDefault[code]}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable. Wrapped errors are searched
// for a *Error; anything outside the taxonomy is not retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
// Returns the empty code when the error carries no taxonomy code.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetErrorCodeOr extracts the error code from an error, falling back to
// the given code when the error carries none.
func GetErrorCodeOr(err error, fallback ErrorCode) ErrorCode {
	if code := GetErrorCode(err); code != "" {
		return code
	}
	return fallback
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

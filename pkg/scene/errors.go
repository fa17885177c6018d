package scene

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeNoSession    = "NO_SESSION"
	ErrCodeNoConnection = "NO_CONNECTION"
	ErrCodeQueryTimeout = "QUERY_TIMEOUT"
	ErrCodeDisconnected = "DISCONNECTED"
	ErrCodeBrowserError = "BROWSER_ERROR"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeExpression   = "EXPRESSION_ERROR"
	ErrCodeMalformed    = "MALFORMED_MESSAGE"
)

// Error is the structured error type for all scenelink operations.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// IsCode reports whether err (or any error it wraps) is an Error with the given code.
func IsCode(err error, code string) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

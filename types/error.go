package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Registry and scheduling error codes
const (
	ErrValidation       ErrorCode = "VALIDATION"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrDuplicate        ErrorCode = "DUPLICATE"
	ErrInvalidState     ErrorCode = "INVALID_STATE"
	ErrCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
)

// Execution error codes
const (
	ErrStepTimeout   ErrorCode = "STEP_TIMEOUT"
	ErrStepExecution ErrorCode = "STEP_EXECUTION"
	ErrCancelled     ErrorCode = "CANCELLED"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Workflow  string    `json:"workflow,omitempty"`
	Step      string    `json:"step,omitempty"`
	Retries   int       `json:"retries,omitempty"`
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

// Is reports whether target carries the same error code.
// Lets callers match by code with errors.Is against a bare NewError(code, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
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

// WithWorkflow records the workflow the error originated from.
func (e *Error) WithWorkflow(workflow string) *Error {
	e.Workflow = workflow
	return e
}

// WithStep records the step the error originated from.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// WithRetries records how many retries were spent before the error surfaced.
func (e *Error) WithRetries(retries int) *Error {
	e.Retries = retries
	return e
}

// IsRetryable checks if an error is retryable.
// Errors that are not *Error are treated as retryable (transient by default);
// a step runner marks fatal failures explicitly via WithRetryable(false).
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return err != nil
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode checks whether err carries the given error code.
func HasCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsNotFound checks whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return HasCode(err, ErrNotFound)
}

// IsDuplicate checks whether err is a DUPLICATE error.
func IsDuplicate(err error) bool {
	return HasCode(err, ErrDuplicate)
}

// IsCapacityExceeded checks whether err is a CAPACITY_EXCEEDED error.
func IsCapacityExceeded(err error) bool {
	return HasCode(err, ErrCapacityExceeded)
}

// IsStepTimeout checks whether err is a STEP_TIMEOUT error.
func IsStepTimeout(err error) bool {
	return HasCode(err, ErrStepTimeout)
}

package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Expression error codes
const (
	// ErrSecurityViolation marks an expression that tried to use a disallowed construct.
	// It is never downgraded to a default value.
	ErrSecurityViolation ErrorCode = "SECURITY_VIOLATION"
	// ErrEvaluation covers syntax, undefined-variable and type errors.
	ErrEvaluation ErrorCode = "EVALUATION_ERROR"
)

// Workflow error codes
const (
	ErrInvalidConfig   ErrorCode = "INVALID_CONFIG"
	ErrInvalidGraph    ErrorCode = "INVALID_GRAPH"
	ErrUnknownExecutor ErrorCode = "UNKNOWN_EXECUTOR"
	ErrNodeFailed      ErrorCode = "NODE_FAILED"
	ErrBranchFailed    ErrorCode = "BRANCH_FAILED"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrCancelled       ErrorCode = "CANCELLED"
)

// Sub-agent error codes
const (
	ErrSubAgentNotFound ErrorCode = "SUBAGENT_NOT_FOUND"
	ErrSubAgentFailed   ErrorCode = "SUBAGENT_FAILED"
)

// Error represents a structured error with code, message, and cause.
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

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the outermost error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsSecurityViolation reports whether err is a sandbox policy violation.
func IsSecurityViolation(err error) bool {
	return HasCode(err, ErrSecurityViolation)
}

// IsEvaluationError reports whether err is an expression evaluation failure.
func IsEvaluationError(err error) bool {
	return HasCode(err, ErrEvaluation)
}

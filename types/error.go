package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Registration error codes
const (
	ErrDuplicateSkill       ErrorCode = "DUPLICATE_SKILL"
	ErrSkillNotFound        ErrorCode = "SKILL_NOT_FOUND"
	ErrCircularDependency   ErrorCode = "CIRCULAR_DEPENDENCY"
	ErrMissingDependency    ErrorCode = "MISSING_DEPENDENCY"
	ErrInvalidManifest      ErrorCode = "INVALID_MANIFEST"
	ErrHandlerNotFound      ErrorCode = "HANDLER_NOT_FOUND"
	ErrInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
)

// Invocation error codes
const (
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrHandlerFailed   ErrorCode = "HANDLER_FAILED"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrPoolUnavailable ErrorCode = "POOL_UNAVAILABLE"
)

// Persistence and lifecycle error codes
const (
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrNoBaseline       ErrorCode = "NO_BASELINE"
	ErrVersionNotFound  ErrorCode = "VERSION_NOT_FOUND"
	ErrReloadFailed     ErrorCode = "RELOAD_FAILED"
	ErrTestNotFound     ErrorCode = "AB_TEST_NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	SkillID   string    `json:"skill_id,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.SkillID != "" {
		prefix = fmt.Sprintf("[%s] skill %s:", e.Code, e.SkillID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSkill attaches the skill identifier the error refers to.
func (e *Error) WithSkill(skillID string) *Error {
	e.SkillID = skillID
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

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the core.
type ErrorCode string

// Generation failure taxonomy.
const (
	ErrNoAPIKey         ErrorCode = "NO_API_KEY"
	ErrEmptyResponse    ErrorCode = "EMPTY_RESPONSE"
	ErrParse            ErrorCode = "PARSE_ERROR"
	ErrSchemaValidation ErrorCode = "SCHEMA_VALIDATION_ERROR"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrRateLimit        ErrorCode = "RATE_LIMIT"
	ErrAPI              ErrorCode = "API_ERROR"
	ErrUnknown          ErrorCode = "UNKNOWN"
)

// Severity 错误严重度，驱动重试引擎的退避倍率。
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Error represents a structured error with code, message, and metadata.
// Prefer carrying a code over free-text matching: the classifier only falls
// back to message patterns when the code is absent.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity,omitempty"`
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
// Retryability defaults from the code: NO_API_KEY is terminal, everything
// else in the taxonomy is retryable.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Severity:  SeverityMedium,
		Retryable: code != ErrNoAPIKey,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSeverity sets the severity.
func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// ErrorContext 是一次失败的分类快照：严重度、命中的症状模式与修复建议。
// 每次失败都重新推导，不持久化。
type ErrorContext struct {
	Severity        Severity `json:"severity"`
	Patterns        []string `json:"patterns,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// IsRetryable checks if an error is retryable. Untyped errors are assumed
// retryable; the engine classifies them per attempt anyway.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

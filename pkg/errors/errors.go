// Package errors provides the structured error system used across pkgfast,
// with error codes, categories, and per-error context.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// Network and transport errors
	ErrCodeNetwork           ErrorCode = "NETWORK_ERROR"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeRequestTimeout    ErrorCode = "REQUEST_TIMEOUT"
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodePoolClosed        ErrorCode = "POOL_CLOSED"

	// Payload errors
	ErrCodeParse            ErrorCode = "PARSE_ERROR"
	ErrCodeChecksumMismatch ErrorCode = "CHECKSUM_MISMATCH"

	// Cache errors
	ErrCodeCacheIO ErrorCode = "CACHE_IO"

	// Scheduler errors
	ErrCodeQueueState    ErrorCode = "QUEUE_STATE"
	ErrCodeAggregateTask ErrorCode = "AGGREGATE_TASK"

	// Registry errors
	ErrCodePackageNotFound ErrorCode = "PACKAGE_NOT_FOUND"
	ErrCodeVersionNotFound ErrorCode = "VERSION_NOT_FOUND"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Mirror errors
	ErrCodeMirrorUnavailable ErrorCode = "MIRROR_UNAVAILABLE"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups codes by subsystem.
type ErrorCategory string

const (
	CategoryNetwork       ErrorCategory = "network"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryParse         ErrorCategory = "parse"
	CategoryCache         ErrorCategory = "cache"
	CategoryScheduler     ErrorCategory = "scheduler"
	CategoryRegistry      ErrorCategory = "registry"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// Error is a structured error with a code, category, and optional context.
type Error struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on error code so sentinel comparisons work across wrapping.
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Code == other.Code
	}
	return false
}

// New creates a structured error with category and retryability derived
// from the code.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a structured error with the given cause attached.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return New(code, message).WithCause(cause)
}

// GetCategory maps an error code onto its category.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeNetwork, ErrCodeConnectionFailed, ErrCodePoolClosed:
		return CategoryNetwork
	case ErrCodeConnectionTimeout, ErrCodeRequestTimeout:
		return CategoryTimeout
	case ErrCodeParse, ErrCodeChecksumMismatch:
		return CategoryParse
	case ErrCodeCacheIO:
		return CategoryCache
	case ErrCodeQueueState, ErrCodeAggregateTask:
		return CategoryScheduler
	case ErrCodePackageNotFound, ErrCodeVersionNotFound, ErrCodeMirrorUnavailable:
		return CategoryRegistry
	case ErrCodeInvalidConfig:
		return CategoryConfiguration
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether a code is safe to retry without
// caller-side knowledge.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeNetwork, ErrCodeConnectionTimeout, ErrCodeConnectionFailed,
		ErrCodeRequestTimeout, ErrCodeMirrorUnavailable:
		return true
	}
	return false
}

// WithContext attaches a key/value pair to the error.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component that produced the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation that failed.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retryability of the code.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AggregateError carries every individual task failure from a scheduler run.
// It is produced only after all tasks have settled.
type AggregateError struct {
	Errors []error
}

// NewAggregate builds an AggregateError from the non-nil entries of errs.
// Returns nil when there are no failures.
func NewAggregate(errs []error) *AggregateError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return &AggregateError{Errors: filtered}
}

// Error implements the error interface, reporting the failure count and
// each individual message.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("1 task failed: %s", e.Errors[0].Error())
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d tasks failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Count returns the number of individual failures.
func (e *AggregateError) Count() int {
	return len(e.Errors)
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

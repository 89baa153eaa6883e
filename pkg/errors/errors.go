// Package errors provides structured error handling for nicesync
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeAuthentication represents identity-provider failures; fatal for the run
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeServer represents 5xx responses and connection failures
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeClient represents 4xx responses not covered by a narrower type
	ErrorTypeClient ErrorType = "client"
	// ErrorTypeUnauthorized represents 401 responses
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	// ErrorTypeForbidden represents 403 responses
	ErrorTypeForbidden ErrorType = "forbidden"
	// ErrorTypeRateLimit represents 429 responses
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeJobFailure represents export jobs reaching a terminal failure state
	ErrorTypeJobFailure ErrorType = "job_failure"
	// ErrorTypeJobTimeout represents export jobs exceeding the poll timeout
	ErrorTypeJobTimeout ErrorType = "job_timeout"
	// ErrorTypeSchemaMismatch represents a record field absent from the declared schema
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeState represents persisted-state errors
	ErrorTypeState ErrorType = "state"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value previously attached with WithDetail
func (e *Error) Detail(key string) (interface{}, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return Wrap(err, errType, fmt.Sprintf(format, args...))
}

// IsRetryable returns true if the error participates in the HTTP backoff
// policy. Rate limits are retryable here; the export-job driver narrows the
// condition per request.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeServer, ErrorTypeClient, ErrorTypeUnauthorized, ErrorTypeForbidden, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// IsFatal returns true for errors that must abort the run
func IsFatal(err error) bool {
	return IsType(err, ErrorTypeAuthentication) || IsType(err, ErrorTypeSchemaMismatch)
}

// AbandonsWindow returns true for errors that abort the current export
// window while keeping progress from earlier windows
func AbandonsWindow(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeForbidden, ErrorTypeRateLimit, ErrorTypeServer, ErrorTypeJobFailure, ErrorTypeJobTimeout:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// GetType returns the error's type, or an empty string for foreign errors
func GetType(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Type
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}

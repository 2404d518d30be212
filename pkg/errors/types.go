package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad  ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigSave  ErrorCode = "CONFIG_SAVE"

	// Request client errors
	ErrCodeAPIError      ErrorCode = "API_ERROR"
	ErrCodeAPITimeout    ErrorCode = "API_TIMEOUT"
	ErrCodeAPIRateLimit  ErrorCode = "API_RATE_LIMIT"
	ErrCodeRegistration  ErrorCode = "REGISTRATION_FAILED"
	ErrCodeHealthCheck   ErrorCode = "HEALTH_CHECK_FAILED"

	// Cache / sync errors
	ErrCodeFetchFailed       ErrorCode = "FETCH_FAILED"
	ErrCodeMergeInconsistent ErrorCode = "MERGE_INCONSISTENT"
	ErrCodeStaleResult       ErrorCode = "STALE_RESULT"

	// Streaming session errors
	ErrCodeStreamError     ErrorCode = "STREAM_ERROR"
	ErrCodeStreamCancelled ErrorCode = "STREAM_CANCELLED"
	ErrCodeEngineBusy      ErrorCode = "ENGINE_BUSY"

	// Push channel errors
	ErrCodePushDisconnected ErrorCode = "PUSH_DISCONNECTED"
	ErrCodePushDecode       ErrorCode = "PUSH_DECODE"

	// Local snapshot store errors
	ErrCodeSnapshotRead  ErrorCode = "SNAPSHOT_READ"
	ErrCodeSnapshotWrite ErrorCode = "SNAPSHOT_WRITE"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured Prizm client error
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Retryable  bool
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap wraps an existing error with Prizm error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	prizmErr, ok := err.(*Error)
	if !ok {
		return false
	}

	return prizmErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	prizmErr, ok := err.(*Error)
	if !ok {
		return ErrCodeInternal
	}

	return prizmErr.Code
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	prizmErr, ok := err.(*Error)
	if !ok {
		return false
	}

	return prizmErr.Retryable
}

// IsCancellation reports whether the error represents a user- or
// lifecycle-triggered stream cancellation. Cancellation is never surfaced
// to users as a failure.
func IsCancellation(err error) bool {
	return IsCode(err, ErrCodeStreamCancelled)
}

// Package errors provides unified error handling for the capture pipeline.
// Codes separate caller mistakes (configuration) from collaborator failures
// (capture, transcription) and recoverable per-frame faults (processing).
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies pipeline errors.
type Code int

const (
	Unknown Code = iota
	// Configuration covers invalid or missing config and invalid API usage
	// such as starting an already-active session. Never retried.
	Configuration
	// NotFound covers lookups of unknown session ids.
	NotFound
	// Capture covers microphone acquisition failures. Fatal to session start.
	Capture
	// Processing covers per-frame DSP faults. Counted and absorbed.
	Processing
	// Transcription covers collaborator call failures. Counted and absorbed.
	Transcription
)

func (c Code) String() string {
	switch c {
	case Configuration:
		return "configuration"
	case NotFound:
		return "not_found"
	case Capture:
		return "capture"
	case Processing:
		return "processing"
	case Transcription:
		return "transcription"
	default:
		return "unknown"
	}
}

// AppError is the base error type with a structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// IsCode checks if an error (anywhere in its chain) carries a specific code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
// Configuration and capture errors are terminal; transcription failures
// may be transient.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == Transcription
}

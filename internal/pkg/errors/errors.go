// Package errors provides coded errors for the indexer agent.
//
// Every failure that can surface to an operator (through the management
// API or an action's failureReason) carries a stable code so that
// automated clients can branch on it without parsing message text.
package errors

import (
	"errors"
	"fmt"
)

// IndexerError is an error with a stable code and an optional cause.
type IndexerError struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *IndexerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *IndexerError) Unwrap() error {
	return e.Cause
}

// New creates an IndexerError. An empty message falls back to the
// code's default message.
func New(code Code, message string) *IndexerError {
	if message == "" {
		message = messages[code]
	}
	return &IndexerError{Code: code, Message: message}
}

// Newf creates an IndexerError with a formatted message.
func Newf(code Code, format string, args ...any) *IndexerError {
	return &IndexerError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an IndexerError that wraps a cause.
func Wrap(code Code, cause error, format string, args ...any) *IndexerError {
	return &IndexerError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the code from an error chain, or CodeUnknown.
func CodeOf(err error) Code {
	var ie *IndexerError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return CodeUnknown
}

// Is reports whether the error chain contains an IndexerError with the code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

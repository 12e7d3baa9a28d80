// Package apperror defines the error taxonomy returned by workflow actions.
// Business errors carry a stable Code and a human readable message;
// infrastructure errors wrap the underlying cause so callers can retry.
package apperror

import (
	"context"
	"errors"
	"fmt"
)

// Code is the stable identifier of an error category
type Code string

const (
	CodeNotFound               Code = "NOT_FOUND"
	CodeInvalidTransition      Code = "INVALID_TRANSITION"
	CodeConflict               Code = "CONFLICT"
	CodeRelatedResourceMissing Code = "RELATED_RESOURCE_MISSING"
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeInfrastructure         Code = "INFRASTRUCTURE"
	CodeTimeout                Code = "TIMEOUT"
)

// Error is a categorized error
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Sentinels for errors.Is matching on code only
var (
	ErrNotFound               = &Error{Code: CodeNotFound}
	ErrInvalidTransition      = &Error{Code: CodeInvalidTransition}
	ErrConflict               = &Error{Code: CodeConflict}
	ErrRelatedResourceMissing = &Error{Code: CodeRelatedResourceMissing}
	ErrValidation             = &Error{Code: CodeValidation}
	ErrInfrastructure         = &Error{Code: CodeInfrastructure}
	ErrTimeout                = &Error{Code: CodeTimeout}
)

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code. A target carrying a message
// must match it too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

func newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(CodeNotFound, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return newf(CodeInvalidTransition, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newf(CodeConflict, format, args...)
}

func RelatedResourceMissing(format string, args ...interface{}) *Error {
	return newf(CodeRelatedResourceMissing, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return newf(CodeValidation, format, args...)
}

// Wrap classifies err. Errors that already carry a code pass through
// unchanged; deadline and cancellation become CodeTimeout; everything else
// is an infrastructure failure.
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}

	code := CodeInfrastructure
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		code = CodeTimeout
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code carried by err, or CodeInfrastructure for
// uncategorized errors. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInfrastructure
}

// IsRetryable is true for failures of the infrastructure rather than of a
// business rule
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeInfrastructure, CodeTimeout:
		return true
	default:
		return false
	}
}

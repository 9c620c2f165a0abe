// Package corerr defines the stable error taxonomy surfaced across the
// storage core, hierarchy engine, sync engine, and execution orchestrator.
package corerr

import (
	"errors"
	"fmt"
)

// Code is a stable, wire-visible error classification.
type Code string

const (
	CodeNotFound            Code = "NotFound"
	CodeInvalidArgument     Code = "InvalidArgument"
	CodeInvariantViolation  Code = "InvariantViolation"
	CodeInvalidTransition   Code = "InvalidTransition"
	CodeConflict            Code = "Conflict"
	CodeHasChildren         Code = "HasChildren"
	CodeEmbeddingUnavailable Code = "EmbeddingUnavailable"
	CodeIndexUnavailable    Code = "IndexUnavailable"
	CodeTimeout             Code = "Timeout"
	CodeCancelled           Code = "Cancelled"
	CodeInternal            Code = "Internal"
)

// Error is the concrete error type carried across component boundaries.
// It always resolves to one of the stable Codes above so RPC handlers can
// populate `error_code` without re-classifying.
type Error struct {
	Code    Code
	Message string
	Cause   error

	// Detail carries structured payload for codes that need it, e.g. the
	// cycle path for InvariantViolation or the diverging fields for
	// Conflict. Left nil for codes that don't need it.
	Detail any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error { return new(CodeNotFound, format, args...) }

func InvalidArgument(format string, args ...any) *Error {
	return new(CodeInvalidArgument, format, args...)
}

func InvariantViolation(format string, args ...any) *Error {
	return new(CodeInvariantViolation, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return new(CodeInvalidTransition, format, args...)
}

func Conflict(format string, args ...any) *Error { return new(CodeConflict, format, args...) }

func HasChildren(format string, args ...any) *Error { return new(CodeHasChildren, format, args...) }

func EmbeddingUnavailable(cause error) *Error {
	return &Error{Code: CodeEmbeddingUnavailable, Message: "embedding provider failed", Cause: cause}
}

func IndexUnavailable(format string, args ...any) *Error {
	return new(CodeIndexUnavailable, format, args...)
}

func Timeout(format string, args ...any) *Error { return new(CodeTimeout, format, args...) }

func Cancelled(format string, args ...any) *Error { return new(CodeCancelled, format, args...) }

func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Cause: cause}
}

// WithDetail attaches structured payload and returns the same error for
// chaining at the call site, e.g. `return corerr.InvariantViolation("cycle detected").WithDetail(path)`.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

// CodeOf extracts the stable code from any error, defaulting to Internal
// for errors that didn't originate in this package.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

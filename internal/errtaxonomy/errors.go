// Package errtaxonomy implements the error-kind taxonomy of spec §7: a
// closed set of categories every adapter-level failure is translated into
// before it is recorded on a job or surfaced over HTTP, instead of letting
// raw library errors leak across component boundaries.
package errtaxonomy

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the taxonomy's seven error categories.
type Kind string

const (
	InvalidInput Kind = "invalid_input"
	NotFound     Kind = "not_found"
	Transient    Kind = "transient"
	Quality      Kind = "quality"
	Fatal        Kind = "fatal"
	Timeout      Kind = "timeout"
	Cancelled    Kind = "cancelled"
)

// statusCodes maps each Kind to the HTTP status the API layer should use
// when the error reaches a handler directly.
var statusCodes = map[Kind]int{
	InvalidInput: http.StatusBadRequest,
	NotFound:     http.StatusNotFound,
	Transient:    http.StatusBadGateway,
	Quality:      http.StatusOK, // never fails the job — informational only
	Fatal:        http.StatusInternalServerError,
	Timeout:      http.StatusGatewayTimeout,
	Cancelled:    http.StatusConflict,
}

// AppError is a taxonomy-tagged error carrying an optional cause and free
// text details. Runners construct these at adapter boundaries and store
// their Error() string on job.Error; never store a raw library error.
type AppError struct {
	Kind       Kind
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

// New creates an AppError with no underlying cause.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, StatusCode: statusCodes[kind]}
}

// Newf creates an AppError with a formatted message.
func Newf(kind Kind, format string, args ...any) *AppError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap tags an existing error with a Kind, preserving it as Cause so
// errors.Is/errors.As still see through to the original.
func Wrap(cause error, kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause, StatusCode: statusCodes[kind]}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, kind Kind, format string, args ...any) *AppError {
	return Wrap(cause, kind, fmt.Sprintf(format, args...))
}

// WithDetails attaches extra free-text context and returns the receiver for
// chaining, modifying it in place.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is WithDetails with formatting.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// Error implements the error interface. Format: "kind: message (details)".
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes Cause to errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// KindOf extracts the Kind from err if it is (or wraps) an *AppError,
// defaulting to Fatal for unrecognized errors — an untagged error reaching
// a runner boundary is itself a defect, and Fatal is the conservative
// choice since it is never treated as retryable (see Retryable).
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Fatal
}

// Retryable reports whether a Kind is worth an automatic retry inside a
// runner (spec §7: Transient is retried up to 3x).
func (k Kind) Retryable() bool {
	return k == Transient
}

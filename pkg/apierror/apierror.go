package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable, machine-readable error code carried on every failed
// operation. Codes are part of the API contract and never change meaning.
type Code string

const (
	CodeNotFound        Code = "not_found"
	CodeInvalidArgument Code = "invalid_argument"
	CodeConflict        Code = "conflict"
	CodeCircuitOpen     Code = "circuit_open"
	CodeUnavailable     Code = "unavailable"
	CodeUnauthorized    Code = "unauthorized"
	CodeInternal        Code = "internal"
)

// Error is the error type returned across package boundaries by every
// control plane operation. Callers branch on Code, humans read Message.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause attaches an underlying error and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// HTTPStatus maps the code to its HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeCircuitOpen, CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// New creates an error with the given code.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound indicates a referenced entity does not exist.
func NotFound(format string, args ...interface{}) *Error {
	return New(CodeNotFound, format, args...)
}

// InvalidArgument indicates the request is malformed or violates a validation rule.
func InvalidArgument(format string, args ...interface{}) *Error {
	return New(CodeInvalidArgument, format, args...)
}

// Conflict indicates the operation lost a race or contradicts current state.
func Conflict(format string, args ...interface{}) *Error {
	return New(CodeConflict, format, args...)
}

// CircuitOpen indicates the target model's circuit breaker rejected the call.
func CircuitOpen(format string, args ...interface{}) *Error {
	return New(CodeCircuitOpen, format, args...)
}

// Unavailable indicates a dependency or the operation itself is temporarily unusable.
func Unavailable(format string, args ...interface{}) *Error {
	return New(CodeUnavailable, format, args...)
}

// Unauthorized indicates the caller's credentials were missing or rejected.
func Unauthorized(format string, args ...interface{}) *Error {
	return New(CodeUnauthorized, format, args...)
}

// Internal indicates an unexpected failure the caller cannot act on.
func Internal(format string, args ...interface{}) *Error {
	return New(CodeInternal, format, args...)
}

// FromError extracts an *Error from err's chain, wrapping unknown errors as internal.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	return &Error{Code: CodeInternal, Message: "internal error", Cause: err}
}

// CodeOf returns the code of err, or internal for unknown errors.
func CodeOf(err error) Code {
	return FromError(err).Code
}

// IsNotFound checks whether err carries the not_found code.
func IsNotFound(err error) bool { return isCode(err, CodeNotFound) }

// IsInvalidArgument checks whether err carries the invalid_argument code.
func IsInvalidArgument(err error) bool { return isCode(err, CodeInvalidArgument) }

// IsConflict checks whether err carries the conflict code.
func IsConflict(err error) bool { return isCode(err, CodeConflict) }

// IsCircuitOpen checks whether err carries the circuit_open code.
func IsCircuitOpen(err error) bool { return isCode(err, CodeCircuitOpen) }

// IsUnavailable checks whether err carries the unavailable code.
func IsUnavailable(err error) bool { return isCode(err, CodeUnavailable) }

// IsUnauthorized checks whether err carries the unauthorized code.
func IsUnauthorized(err error) bool { return isCode(err, CodeUnauthorized) }

func isCode(err error, code Code) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

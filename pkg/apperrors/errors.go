// Package apperrors defines the error taxonomy shared by the reconciliation and
// warehouse pipeline. Every error carries a Kind that survives wrapping, so
// callers can branch with errors.Is against the sentinels below.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error category.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindInvalidState         Kind = "invalid_state"
	KindValidation           Kind = "validation"
	KindTransientStorage     Kind = "transient_storage"
	KindConsistencyViolation Kind = "consistency_violation"
	KindForbidden            Kind = "forbidden"
	KindInternal             Kind = "internal"
)

// HTTPStatus maps a kind onto the status code used by the API layer.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindTransientStorage:
		return http.StatusServiceUnavailable
	case KindConsistencyViolation:
		return http.StatusUnprocessableEntity
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a categorized error with a human message and optional details.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// IsRetryable marks transient storage failures as retryable for pkg/retry.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindTransientStorage
}

// WithDetails returns a copy of the error carrying details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Details: details, cause: e.cause}
}

// Sentinels for errors.Is.
var (
	ErrNotFound             = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidState         = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrValidation           = &Error{Kind: KindValidation, Message: "validation error"}
	ErrTransientStorage     = &Error{Kind: KindTransientStorage, Message: "transient storage error"}
	ErrConsistencyViolation = &Error{Kind: KindConsistencyViolation, Message: "consistency violation"}
	ErrForbidden            = &Error{Kind: KindForbidden, Message: "forbidden"}
)

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func InvalidStatef(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error carrying per-field details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

func ConsistencyViolationf(format string, args ...any) *Error {
	return &Error{Kind: KindConsistencyViolation, Message: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a storage failure that may succeed if retried.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransientStorage, Message: op, cause: err}
}

// Internal wraps an unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: op, cause: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the human message of the first *Error in err's chain,
// falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

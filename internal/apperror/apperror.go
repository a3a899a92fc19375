// Package apperror implements the error taxonomy of spec.md §7: a small set
// of sentinel kinds, each mapped to an HTTP status and a retry disposition.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the taxonomy entries from spec.md §7.
type Kind string

const (
	KindAuthentication Kind = "AUTHENTICATION"
	KindAuthorization  Kind = "AUTHORIZATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindValidation     Kind = "VALIDATION_ERROR"
	KindConflict       Kind = "CONFLICT"
	KindRateLimited    Kind = "RATE_LIMIT_EXCEEDED"
	KindSuppressed     Kind = "EMAIL_SUPPRESSED"
	KindSMTPTransient  Kind = "SMTP_TRANSIENT"
	KindSMTPPermanent  Kind = "SMTP_PERMANENT"
	KindQueuePaused    Kind = "QUEUE_PAUSED"
	KindInternal       Kind = "INTERNAL"
)

// httpStatus maps each kind to the HTTP status spec.md §7 prescribes.
var httpStatus = map[Kind]int{
	KindAuthentication: http.StatusUnauthorized,
	KindAuthorization:  http.StatusForbidden,
	KindNotFound:       http.StatusNotFound,
	KindValidation:     http.StatusBadRequest,
	KindConflict:       http.StatusConflict,
	KindRateLimited:    http.StatusTooManyRequests,
	KindSuppressed:     http.StatusBadRequest,
	KindSMTPTransient:  http.StatusBadGateway,
	KindSMTPPermanent:  http.StatusBadGateway,
	KindQueuePaused:    http.StatusServiceUnavailable,
	KindInternal:       http.StatusInternalServerError,
}

// retryable reports whether the pipeline (not necessarily the HTTP caller)
// should retry an operation that failed with this kind.
var retryable = map[Kind]bool{
	KindSMTPTransient: true,
	KindInternal:      true,
}

// Error is the typed application error threaded through services and
// translated to the HTTP envelope by httpapi middleware.
type Error struct {
	Kind    Kind
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured per-path validation detail.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// HTTPStatus returns the HTTP status code for this error's kind.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the pipeline should retry the operation that
// produced this error.
func (e *Error) Retryable() bool {
	return retryable[e.Kind]
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else
// KindInternal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

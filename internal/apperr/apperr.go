// Package apperr defines the failure kinds the sync core reports to callers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInternal          Kind = "INTERNAL"
	KindValidation        Kind = "VALIDATION"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindAccessDenied      Kind = "ACCESS_DENIED"
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidResolution Kind = "INVALID_RESOLUTION"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindTransient         Kind = "TRANSIENT_STORE_FAILURE"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func AccessDenied(message string) *Error {
	return newError(KindAccessDenied, "ACCESS_DENIED", message, nil)
}

func NotFound(what string) *Error {
	return newError(KindNotFound, "NOT_FOUND", what+" not found", nil)
}

func InvalidResolution(message string) *Error {
	return newError(KindInvalidResolution, "INVALID_RESOLUTION", message, nil)
}

func Validation(message string, details any) *Error {
	e := newError(KindValidation, "VALIDATION_ERROR", message, nil)
	e.Details = details
	return e
}

func Unauthorized(message string) *Error {
	return newError(KindUnauthorized, "UNAUTHORIZED", message, nil)
}

// RateLimited carries the number of seconds until the caller may retry.
func RateLimited(retryAfterSeconds int) *Error {
	e := newError(KindRateLimited, "RATE_LIMITED", "Too many requests", nil)
	e.Details = map[string]any{"retryAfter": retryAfterSeconds}
	return e
}

// Transient wraps a store failure that is safe to retry as a whole operation.
func Transient(err error) *Error {
	return newError(KindTransient, "STORE_UNAVAILABLE", "Store temporarily unavailable, retry the operation", err)
}

func Internal(message string, err error) *Error {
	return newError(KindInternal, "SERVER_ERROR", message, err)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

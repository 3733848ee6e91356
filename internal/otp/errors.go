package otp

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the wire name of an error category.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
	KindExpired         Kind = "expired"
	KindMismatch        Kind = "invalid_code"
	KindTooManyAttempts Kind = "too_many_attempts"
	KindDelivery        Kind = "delivery_failed"
	KindConfiguration   Kind = "configuration_error"
	KindInternal        Kind = "internal_error"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("active code already exists")
	ErrNotFound        = errors.New("no code found")
	ErrExpired         = errors.New("code expired")
	ErrMismatch        = errors.New("invalid code")
	ErrTooManyAttempts = errors.New("too many attempts")
	ErrDelivery        = errors.New("delivery failed")
	ErrConfiguration   = errors.New("delivery not configured")
	ErrInternal        = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindValidation:      ErrValidation,
	KindConflict:        ErrConflict,
	KindNotFound:        ErrNotFound,
	KindExpired:         ErrExpired,
	KindMismatch:        ErrMismatch,
	KindTooManyAttempts: ErrTooManyAttempts,
	KindDelivery:        ErrDelivery,
	KindConfiguration:   ErrConfiguration,
	KindInternal:        ErrInternal,
}

// Error is returned by the issuance and verification flows. Message is safe
// to show to end users; Err holds the underlying cause for logs and
// non-production responses.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Detail returns the cause text, or "" when there is none.
func (e *Error) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// AsError extracts an *Error, wrapping anything else as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(KindInternal, "internal server error", err)
}

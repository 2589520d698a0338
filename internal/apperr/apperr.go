package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how it is surfaced to a session.
type Kind string

const (
	KindAuth             Kind = "auth_error"
	KindForbidden        Kind = "forbidden"
	KindValidation       Kind = "validation_error"
	KindNotFound         Kind = "not_found"
	KindTransientStorage Kind = "transient_storage"
	KindInternal         Kind = "internal"
)

// Error is the typed error carried from the store and services up to the
// gateway, which turns it into an outbound error event.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so callers can write
// errors.Is(err, apperr.ErrForbidden).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrAuth             = &Error{Kind: KindAuth}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrTransientStorage = &Error{Kind: KindTransientStorage}
)

func Auth(format string, args ...any) error {
	return &Error{Kind: KindAuth, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a storage failure the caller may retry.
func Transient(err error, format string, args ...any) error {
	return &Error{Kind: KindTransientStorage, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns a message safe to send to a client. Internal errors are
// not echoed verbatim.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

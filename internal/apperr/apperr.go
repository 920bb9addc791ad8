// Package apperr defines the error taxonomy shared by mutations, projections and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindBadRequest         Kind = "BAD_REQUEST"
	KindTransactionAborted Kind = "TRANSACTION_ABORTED"
	KindPartialSuccess     Kind = "PARTIAL_SUCCESS"
	KindInternal           Kind = "INTERNAL"
)

// Error is a classified error with a human-readable message and an optional cause
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns an Error of provided kind
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of provided kind with cause attached
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NotFound(format string, args ...interface{}) error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return New(KindConflict, format, args...)
}

func Unauthorized(format string, args ...interface{}) error {
	return New(KindUnauthorized, format, args...)
}

func BadRequest(format string, args ...interface{}) error {
	return New(KindBadRequest, format, args...)
}

func Internal(cause error, format string, args ...interface{}) error {
	return Wrap(KindInternal, cause, format, args...)
}

// Aborted wraps the failure that made a unit of work abort
func Aborted(cause error) error {
	return &Error{Kind: KindTransactionAborted, Message: "transaction aborted", Cause: cause}
}

// Partial reports a committed mutation whose best-effort follow-up failed
func Partial(cause error, format string, args ...interface{}) error {
	return Wrap(KindPartialSuccess, cause, format, args...)
}

// KindOf returns the kind of the outermost Error in err's chain, KindInternal if there is none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether any Error in err's chain has provided kind
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Cause returns the kind that explains err: for aborted units and partial successes this is the
// kind of the wrapped failure, otherwise KindOf(err)
func Cause(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return KindInternal
	}
	if e.Kind != KindTransactionAborted && e.Kind != KindPartialSuccess {
		return e.Kind
	}
	if e.Cause == nil {
		return KindInternal
	}
	return Cause(e.Cause)
}

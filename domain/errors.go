package domain

import (
	"errors"
	"fmt"
)

// Kind is the closed set of machine-readable failure categories surfaced by
// the core. Transport layers map kinds to status codes through a static
// table; messages are never inspected for routing.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindAccessDenied       Kind = "access_denied"
	KindAlreadyCompleted   Kind = "already_completed"
	KindDuplicate          Kind = "duplicate"
	KindInvalidCredential  Kind = "invalid_credential"
	KindSessionInvalidated Kind = "session_invalidated"
	// KindConflict marks transient storage conflicts. It never crosses the
	// core boundary: the transaction executor retries it and reports
	// KindTxnExhausted once the budget is spent.
	KindConflict     Kind = "conflict"
	KindTxnExhausted Kind = "txn_exhausted"
)

// Error tags a failure with its kind. The message is safe to show to callers;
// Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsBusiness reports whether err is a terminal business outcome that must
// propagate immediately instead of being retried.
func IsBusiness(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindAccessDenied, KindAlreadyCompleted,
		KindDuplicate, KindInvalidCredential, KindSessionInvalidated:
		return true
	}
	return false
}

func ErrNotFound(resource string) *Error {
	return NewError(KindNotFound, resource+" not found")
}

func ErrAccessDenied(resource string) *Error {
	return NewError(KindAccessDenied, "access to "+resource+" denied")
}

func ErrAlreadyCompleted() *Error {
	return NewError(KindAlreadyCompleted, "task is already completed")
}

func ErrDuplicate(field string) *Error {
	return NewError(KindDuplicate, field+" is already taken")
}

func ErrInvalidCredential() *Error {
	return NewError(KindInvalidCredential, "invalid email or password")
}

func ErrSessionInvalidated() *Error {
	return NewError(KindSessionInvalidated, "session is no longer valid")
}

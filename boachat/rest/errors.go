package rest

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind categorizes a failed API call.
type ErrorKind int

const (
	// KindOther covers network failures, 5xx responses and malformed bodies.
	KindOther ErrorKind = iota
	// KindValidation is an HTTP 400 carrying a user-facing message.
	KindValidation
	KindUserNotFound
	KindPasswordIncorrect
	// KindLoginRequired means a signed call was attempted without valid
	// credentials.
	KindLoginRequired
	// KindCancelled means the caller's context ended the request.
	KindCancelled
	KindRoomClosed
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindOther:
		return "other"
	case KindValidation:
		return "validation"
	case KindUserNotFound:
		return "user_not_found"
	case KindPasswordIncorrect:
		return "password_incorrect"
	case KindLoginRequired:
		return "login_required"
	case KindCancelled:
		return "cancelled"
	case KindRoomClosed:
		return "room_closed"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

// Error is the structured error returned by every Client call.
type Error struct {
	Kind    ErrorKind
	Message string
	// StatusCode is zero when no HTTP response was received.
	StatusCode int
	Wrapped    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Kind, msg, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrOther             = &Error{Kind: KindOther}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrUserNotFound      = &Error{Kind: KindUserNotFound}
	ErrPasswordIncorrect = &Error{Kind: KindPasswordIncorrect}
	ErrLoginRequired     = &Error{Kind: KindLoginRequired}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrRoomClosed        = &Error{Kind: KindRoomClosed}
)

// NewError creates an Error with the given kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError wraps err with a kind and message.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: err}
}

// KindOf returns the kind of err. Errors that did not come from this
// package are classified as KindOther, except bare context cancellation.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindOther
}

// IsCancelled reports whether err is a cancellation outcome.
func IsCancelled(err error) bool {
	return err != nil && KindOf(err) == KindCancelled
}

// StatusCode returns the HTTP status attached to err, or zero.
func StatusCode(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

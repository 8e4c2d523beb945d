package boachat

import (
	"errors"
	"fmt"

	"github.com/moduspwnens/boa-chat/boachat/rest"
)

// ErrorCode categorizes errors raised by the SDK itself. Failed API calls are
// reported as *rest.Error instead.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota
	ErrorInvalidConfig
	// ErrorComposeLocked means the room history has not caught up with the
	// current session yet, so sending is not allowed.
	ErrorComposeLocked
	ErrorNotLoggedIn
	// ErrorRoomClosed means the room emitted a closing event.
	ErrorRoomClosed
	// ErrorClosed means the room or client was closed by the caller.
	ErrorClosed
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorComposeLocked:
		return "compose_locked"
	case ErrorNotLoggedIn:
		return "not_logged_in"
	case ErrorRoomClosed:
		return "room_closed"
	case ErrorClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// BoachatError is a structured error with code and context.
type BoachatError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *BoachatError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *BoachatError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface for error comparison.
func (e *BoachatError) Is(target error) bool {
	t, ok := target.(*BoachatError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new BoachatError with the given code and message.
func NewError(code ErrorCode, message string) *BoachatError {
	return &BoachatError{Code: code, Message: message}
}

// WrapError wraps an existing error with a BoachatError.
func WrapError(code ErrorCode, message string, err error) *BoachatError {
	return &BoachatError{Code: code, Message: message, Wrapped: err}
}

var (
	ErrComposeLocked = NewError(ErrorComposeLocked, "room history is not current yet")
	ErrNotLoggedIn   = NewError(ErrorNotLoggedIn, "no stored credentials")
	ErrRoomClosed    = NewError(ErrorRoomClosed, "room is closed")
	ErrClosed        = NewError(ErrorClosed, "closed")
)

// IsLoginRequired reports whether err should send the user back to login.
func IsLoginRequired(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotLoggedIn) || rest.KindOf(err) == rest.KindLoginRequired
}

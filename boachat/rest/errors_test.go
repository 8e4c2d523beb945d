package rest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsByKind(t *testing.T) {
	err := &Error{Kind: KindUserNotFound, Message: "User not found.", StatusCode: 404}

	assert.True(t, errors.Is(err, ErrUserNotFound))
	assert.False(t, errors.Is(err, ErrPasswordIncorrect))

	wrapped := fmt.Errorf("login: %w", err)
	assert.True(t, errors.Is(wrapped, ErrUserNotFound))
	assert.Equal(t, KindUserNotFound, KindOf(wrapped))
	assert.Equal(t, 404, StatusCode(wrapped))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "validation: Invalid email address. (status 400)",
		(&Error{Kind: KindValidation, Message: "Invalid email address.", StatusCode: 400}).Error())
	assert.Equal(t, "room_closed: room_closed", ErrRoomClosed.Error())

	inner := errors.New("dial tcp: refused")
	err := WrapError(KindOther, "http request", inner)
	assert.Contains(t, err.Error(), "wrapped: dial tcp: refused")
	assert.ErrorIs(t, err, inner)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindCancelled, KindOf(fmt.Errorf("poll: %w", context.Canceled)))
	assert.Equal(t, KindOther, KindOf(errors.New("plain")))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))
	assert.False(t, IsCancelled(nil))
}

func TestRemapStatus(t *testing.T) {
	kinds := map[int]ErrorKind{404: KindUserNotFound}

	err := remapStatus(&Error{Kind: KindOther, StatusCode: 404}, kinds)
	assert.Equal(t, KindUserNotFound, KindOf(err))

	// Only Other errors are rewritten.
	err = remapStatus(&Error{Kind: KindValidation, StatusCode: 404}, kinds)
	assert.Equal(t, KindValidation, KindOf(err))

	err = remapStatus(&Error{Kind: KindOther, StatusCode: 500}, kinds)
	assert.Equal(t, KindOther, KindOf(err))
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "login_required", KindLoginRequired.String())
	assert.Equal(t, "unknown_kind_42", ErrorKind(42).String())
}

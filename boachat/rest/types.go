package rest

import (
	"time"

	"github.com/moduspwnens/boa-chat/boachat/credentials"
)

// MessageVersion is the only message body version the API accepts.
const MessageVersion = "1"

// MaxClientMessageIDLength is the server-side limit for client-message-id.
const MaxClientMessageIDLength = 36

// Account types

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	EmailAddress string `json:"email-address"`
	Password     string `json:"password"`
}

// RegisterResponse identifies a pending registration awaiting verification.
type RegisterResponse struct {
	RegistrationID string `json:"registration-id" validate:"required"`
}

// VerifyResponse is returned when a registration or email change is verified.
type VerifyResponse struct {
	EmailAddress string `json:"email-address" validate:"required"`
}

// LoginRequest is the request body for user login.
type LoginRequest struct {
	EmailAddress string `json:"email-address"`
	Password     string `json:"password"`
}

// RefreshRequest exchanges a refresh token for new credentials.
type RefreshRequest struct {
	UserID       string `json:"user-id"`
	RefreshToken string `json:"refresh-token"`
}

// UserInfo is the user section of a login response.
type UserInfo struct {
	UserID       string `json:"user-id" validate:"required"`
	EmailAddress string `json:"email-address,omitempty"`
	APIKey       string `json:"api-key,omitempty"`
}

// CredentialSet is the credentials section of a login response.
// Expiration is the validity window in seconds from the time of the response.
type CredentialSet struct {
	AccessKeyID     string `json:"access-key-id" validate:"required"`
	SecretAccessKey string `json:"secret-access-key" validate:"required"`
	SessionToken    string `json:"session-token,omitempty"`
	RefreshToken    string `json:"refresh-token,omitempty"`
	Expiration      int64  `json:"expiration" validate:"gte=0"`
}

// LoginResponse is returned by login and refresh.
type LoginResponse struct {
	User        UserInfo      `json:"user"`
	Credentials CredentialSet `json:"credentials"`
}

// StoredCredentials converts the response into the form kept by a
// credentials.Store, anchoring the expiration window at now.
func (r *LoginResponse) StoredCredentials(now time.Time) credentials.Credentials {
	return credentials.Credentials{
		User: credentials.User{
			UserID:       r.User.UserID,
			EmailAddress: r.User.EmailAddress,
			APIKey:       r.User.APIKey,
		},
		AccessKeyID:     r.Credentials.AccessKeyID,
		SecretAccessKey: r.Credentials.SecretAccessKey,
		SessionToken:    r.Credentials.SessionToken,
		RefreshToken:    r.Credentials.RefreshToken,
		ExpiresAt:       now.Add(time.Duration(r.Credentials.Expiration) * time.Second),
	}
}

// ForgotPasswordRequest starts a password reset.
type ForgotPasswordRequest struct {
	EmailAddress string `json:"email-address"`
}

// ResetPasswordRequest completes a password reset with the emailed token.
type ResetPasswordRequest struct {
	EmailAddress string `json:"email-address"`
	Password     string `json:"password"`
	Token        string `json:"token"`
}

// ChangePasswordRequest changes the password of the logged-in user.
type ChangePasswordRequest struct {
	OldPassword string `json:"old-password"`
	Password    string `json:"password"`
}

// ChangeEmailRequest starts an email address change.
type ChangeEmailRequest struct {
	EmailAddress string `json:"email-address"`
}

// APIKeyResponse carries a newly issued API key.
type APIKeyResponse struct {
	APIKey string `json:"api-key" validate:"required"`
}

// Room types

// IDResponse is returned by room and room session creation.
type IDResponse struct {
	ID string `json:"id" validate:"required"`
}

// EventType distinguishes user messages from system events.
type EventType string

const (
	EventNormal         EventType = "NORMAL"
	EventSessionStarted EventType = "SESSION_STARTED"
	EventRoomClosed     EventType = "ROOM_CLOSED"
)

// Event is one room message as delivered by history and session polling.
// An absent type on the wire means EventNormal.
type Event struct {
	MessageID       string    `json:"message-id" validate:"required"`
	ClientMessageID string    `json:"client-message-id,omitempty" validate:"omitempty,max=36"`
	IdentityID      string    `json:"identity-id"`
	AuthorName      string    `json:"author-name"`
	Timestamp       int64     `json:"timestamp"`
	Message         string    `json:"message"`
	Type            EventType `json:"type,omitempty"`
	Payload         string    `json:"payload,omitempty"`
}

// Kind returns the event type, defaulting to EventNormal.
func (e Event) Kind() EventType {
	if e.Type == "" {
		return EventNormal
	}
	return e.Type
}

// PostMessageRequest is the body of a new room message.
type PostMessageRequest struct {
	Version         string `json:"version"`
	Message         string `json:"message"`
	ClientMessageID string `json:"client-message-id,omitempty"`
}

// PostMessageResponse carries the server-assigned message id.
type PostMessageResponse struct {
	MessageID string `json:"message-id" validate:"required"`
}

// MessagesPage is one page of reverse-ordered room history.
type MessagesPage struct {
	Messages  []Event `json:"messages"`
	Truncated bool    `json:"truncated"`
	NextToken string  `json:"next-token,omitempty"`
	// Skipped counts malformed events removed from Messages.
	Skipped   int     `json:"-"`
}

// SessionMessages is the result of one long poll on a room session.
// ReceiptHandles always covers the whole batch, including skipped events.
type SessionMessages struct {
	Messages       []Event  `json:"messages"`
	ReceiptHandles []string `json:"receipt-handles"`
	// Skipped counts malformed events removed from Messages.
	Skipped        int      `json:"-"`
}

// AcknowledgeRequest releases delivered session messages.
type AcknowledgeRequest struct {
	ReceiptHandles []string `json:"receipt-handles"`
}

// APISettings is served unauthenticated at the API root.
type APISettings struct {
	Signature SignatureSettings `json:"aws-v4-sig"`
}

// SignatureSettings names the region/service pair used for request signing.
type SignatureSettings struct {
	Region  string `json:"region" validate:"required"`
	Service string `json:"service" validate:"required"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Message string `json:"message"`
}

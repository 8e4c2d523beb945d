// Package credentials holds the login state of a boachat client: the user
// record, the temporary signing keys issued at login, and their expiry.
package credentials

import "time"

// User identifies the logged-in account.
type User struct {
	UserID       string `json:"user-id"`
	EmailAddress string `json:"email-address,omitempty"`
	APIKey       string `json:"api-key,omitempty"`
}

// Credentials is the stored result of a login or refresh.
type Credentials struct {
	User            User      `json:"user"`
	AccessKeyID     string    `json:"access-key-id"`
	SecretAccessKey string    `json:"secret-access-key"`
	SessionToken    string    `json:"session-token,omitempty"`
	RefreshToken    string    `json:"refresh-token,omitempty"`
	ExpiresAt       time.Time `json:"expires-at"`
}

// Remaining returns how long the credentials stay valid after now.
// Expired credentials report zero.
func (c Credentials) Remaining(now time.Time) time.Duration {
	left := c.ExpiresAt.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether the credentials are no longer valid at now.
func (c Credentials) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Store keeps the current credentials. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns a copy of the stored credentials, or false when nobody
	// is logged in.
	Get() (*Credentials, bool)
	Put(creds Credentials) error
	Clear() error
}

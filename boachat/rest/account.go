package rest

import (
	"context"
	"net/http"
	"net/url"
)

// Authentication endpoints

// Register starts a new account and returns the registration id that the
// verification email refers to.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.post(ctx, "user/register", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyRegistration confirms a registration with the emailed token.
func (c *Client) VerifyRegistration(ctx context.Context, registrationID, token string) (*VerifyResponse, error) {
	query := url.Values{}
	query.Set("registration-id", registrationID)
	query.Set("token", token)

	var resp VerifyResponse
	if err := c.get(ctx, "user/register/verify", query, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates with existing credentials.
// A 404 is reported as KindUserNotFound and a 403 as KindPasswordIncorrect.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.post(ctx, "user/login", req, &resp, false); err != nil {
		return nil, remapStatus(err, map[int]ErrorKind{
			http.StatusNotFound:  KindUserNotFound,
			http.StatusForbidden: KindPasswordIncorrect,
		})
	}
	return &resp, nil
}

// Refresh exchanges a refresh token for a new credential set.
func (c *Client) Refresh(ctx context.Context, userID, refreshToken string) (*LoginResponse, error) {
	var resp LoginResponse
	req := RefreshRequest{UserID: userID, RefreshToken: refreshToken}
	if err := c.post(ctx, "user/refresh", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ForgotPassword sends a password reset token to the address.
func (c *Client) ForgotPassword(ctx context.Context, emailAddress string) error {
	return c.post(ctx, "user/forgot", ForgotPasswordRequest{EmailAddress: emailAddress}, nil, false)
}

// ResetPassword sets a new password using the emailed reset token.
func (c *Client) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	return c.post(ctx, "user/forgot/password", req, nil, false)
}

// Profile endpoints (signed)

// ChangePassword changes the password of the logged-in user.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	req := ChangePasswordRequest{OldPassword: oldPassword, Password: newPassword}
	return c.post(ctx, "user/password", req, nil, true)
}

// ChangeEmail starts an address change; the new address must be verified.
func (c *Client) ChangeEmail(ctx context.Context, emailAddress string) (*RegisterResponse, error) {
	var resp RegisterResponse
	req := Request{
		Method:        http.MethodPatch,
		Path:          "user",
		Body:          ChangeEmailRequest{EmailAddress: emailAddress},
		Sign:          true,
		IncludeAPIKey: true,
	}
	if err := c.Do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResetAPIKey issues a new API key for the logged-in user.
func (c *Client) ResetAPIKey(ctx context.Context) (*APIKeyResponse, error) {
	var resp APIKeyResponse
	req := Request{Method: http.MethodPut, Path: "user/api-key", Sign: true, IncludeAPIKey: true}
	if err := c.Do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

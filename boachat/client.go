package boachat

import (
	"context"
	"net/http"
	"sync"

	"github.com/moduspwnens/boa-chat/boachat/credentials"
	"github.com/moduspwnens/boa-chat/boachat/rest"
)

// Client provides high-level SDK for boa-chat: account operations, login
// state with automatic credential refresh, and synchronized rooms.
type Client struct {
	cfg       Config
	logger    Logger
	api       *rest.Client
	store     credentials.Store
	refresher *Refresher

	mu     sync.Mutex
	rooms  map[*Room]struct{}
	closed bool
}

// NewClient constructs a client with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
// If the store already holds credentials, their refresh is scheduled.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	api := rest.NewClient(cfg.APIBaseURL)
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	api.SetHTTPClient(httpClient)
	api.SetCredentialSource(cfg.Store)
	api.SetNow(cfg.Clock.Now)

	c := &Client{
		cfg:    cfg,
		logger: noopLogger{},
		api:    api,
		store:  cfg.Store,
		rooms:  make(map[*Room]struct{}),
	}
	c.refresher = NewRefresher(api, cfg.Store, cfg)
	c.refresher.OnLogout(func(err error) {
		c.logger.Warn("logged out after failed refresh", map[string]any{"error": err.Error()})
	})
	c.refresher.Schedule()
	return c, nil
}

// SetLogger overrides logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
	c.refresher.SetLogger(l)
}

// OnLogout registers callback for when a failed credential refresh ends the
// login.
func (c *Client) OnLogout(fn func(error)) {
	c.refresher.OnLogout(func(err error) {
		c.logger.Warn("logged out after failed refresh", map[string]any{"error": err.Error()})
		if fn != nil {
			fn(err)
		}
	})
}

// API returns the underlying REST client.
func (c *Client) API() *rest.Client { return c.api }

// Refresher returns the credential refresher.
func (c *Client) Refresher() *Refresher { return c.refresher }

// CurrentUser returns the logged-in user.
func (c *Client) CurrentUser() (credentials.User, bool) {
	creds, ok := c.store.Get()
	if !ok {
		return credentials.User{}, false
	}
	return creds.User, true
}

// Register starts a new account.
func (c *Client) Register(ctx context.Context, email, password string) (string, error) {
	resp, err := c.api.Register(ctx, rest.RegisterRequest{EmailAddress: email, Password: password})
	if err != nil {
		return "", err
	}
	return resp.RegistrationID, nil
}

// VerifyRegistration confirms a registration with the emailed token.
func (c *Client) VerifyRegistration(ctx context.Context, registrationID, token string) (string, error) {
	resp, err := c.api.VerifyRegistration(ctx, registrationID, token)
	if err != nil {
		return "", err
	}
	return resp.EmailAddress, nil
}

// Login authenticates, stores the issued credentials and schedules their
// refresh.
func (c *Client) Login(ctx context.Context, email, password string) (*credentials.Credentials, error) {
	resp, err := c.api.Login(ctx, rest.LoginRequest{EmailAddress: email, Password: password})
	if err != nil {
		return nil, err
	}
	creds := resp.StoredCredentials(c.cfg.Clock.Now())
	if creds.User.EmailAddress == "" {
		creds.User.EmailAddress = email
	}
	if err := c.store.Put(creds); err != nil {
		return nil, WrapError(ErrorUnknown, "store credentials", err)
	}
	c.refresher.Schedule()
	c.logger.Info("logged in", map[string]any{"user": creds.User.UserID})
	return &creds, nil
}

// Refresh renews the stored credentials now instead of waiting for the
// timer.
func (c *Client) Refresh(ctx context.Context) (*credentials.Credentials, error) {
	old, ok := c.store.Get()
	if !ok {
		return nil, ErrNotLoggedIn
	}
	resp, err := c.api.Refresh(ctx, old.User.UserID, old.RefreshToken)
	if err != nil {
		return nil, err
	}
	creds := resp.StoredCredentials(c.cfg.Clock.Now())
	mergeUser(&creds, old)
	if err := c.store.Put(creds); err != nil {
		return nil, WrapError(ErrorUnknown, "store credentials", err)
	}
	c.refresher.Schedule()
	return &creds, nil
}

// Logout clears stored credentials and cancels the refresh timer.
func (c *Client) Logout() error {
	c.refresher.Stop()
	if err := c.store.Clear(); err != nil {
		return WrapError(ErrorUnknown, "clear credentials", err)
	}
	c.logger.Info("logged out", nil)
	return nil
}

// ForgotPassword emails a password reset token.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.api.ForgotPassword(ctx, email)
}

// ResetPassword sets a new password with the emailed token.
func (c *Client) ResetPassword(ctx context.Context, email, password, token string) error {
	return c.api.ResetPassword(ctx, rest.ResetPasswordRequest{EmailAddress: email, Password: password, Token: token})
}

// ChangePassword changes the logged-in user's password.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return c.api.ChangePassword(ctx, oldPassword, newPassword)
}

// ChangeEmail starts an address change and returns the registration id the
// verification refers to.
func (c *Client) ChangeEmail(ctx context.Context, email string) (string, error) {
	resp, err := c.api.ChangeEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return resp.RegistrationID, nil
}

// ResetAPIKey issues a new API key and stores it with the credentials.
func (c *Client) ResetAPIKey(ctx context.Context) (string, error) {
	resp, err := c.api.ResetAPIKey(ctx)
	if err != nil {
		return "", err
	}
	if creds, ok := c.store.Get(); ok {
		creds.User.APIKey = resp.APIKey
		if err := c.store.Put(*creds); err != nil {
			return "", WrapError(ErrorUnknown, "store credentials", err)
		}
	}
	return resp.APIKey, nil
}

// CreateRoom creates a room and returns its id.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	return c.api.CreateRoom(ctx)
}

// Room returns an unopened room bound to this client. Register callbacks,
// then call Open.
func (c *Client) Room(roomID string) *Room {
	room := NewRoom(c.api, roomID, c.cfg)
	room.SetLogger(c.logger)
	if user, ok := c.CurrentUser(); ok {
		room.SetAuthorName(user.EmailAddress)
	}

	c.mu.Lock()
	if !c.closed {
		c.rooms[room] = struct{}{}
	}
	c.mu.Unlock()
	return room
}

// OpenRoom creates and opens a room in one step. Callbacks registered
// afterwards may miss the first updates.
func (c *Client) OpenRoom(ctx context.Context, roomID string) (*Room, error) {
	if _, ok := c.store.Get(); !ok {
		return nil, ErrNotLoggedIn
	}
	room := c.Room(roomID)
	if err := room.Open(ctx); err != nil {
		return nil, err
	}
	return room, nil
}

// Close stops the refresh timer and closes every room made by this client.
// Stored credentials are kept.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	rooms := make([]*Room, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.rooms = nil
	c.mu.Unlock()

	c.refresher.Stop()
	for _, r := range rooms {
		_ = r.Close()
	}
	for _, r := range rooms {
		r.Wait()
	}
	return nil
}

package boachat

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/moduspwnens/boa-chat/boachat/credentials"
	"github.com/moduspwnens/boa-chat/boachat/rest"
)

// Refreshing is the part of the REST client a Refresher needs.
type Refreshing interface {
	Refresh(ctx context.Context, userID, refreshToken string) (*rest.LoginResponse, error)
}

// Refresher keeps stored credentials alive with a single pending timer. The
// timer fires after RefreshFraction of the remaining validity; a successful
// refresh stores the new credentials and reschedules, a failed one logs out.
type Refresher struct {
	api      Refreshing
	store    credentials.Store
	clock    clockwork.Clock
	fraction float64
	timeout  time.Duration
	logger   Logger
	metrics  *Metrics

	mu       sync.Mutex
	stop     chan struct{}
	gen      uint64
	next     time.Time
	onLogout func(error)
}

// NewRefresher creates an idle refresher. Call Schedule after login.
func NewRefresher(api Refreshing, store credentials.Store, cfg Config) *Refresher {
	cfg = cfg.withDefaults()
	return &Refresher{
		api:      api,
		store:    store,
		clock:    cfg.Clock,
		fraction: cfg.RefreshFraction,
		timeout:  cfg.RequestTimeout,
		logger:   noopLogger{},
		metrics:  cfg.Metrics,
	}
}

// SetLogger overrides logger (optional).
func (r *Refresher) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// OnLogout registers a callback for when a failed refresh logs the user out.
func (r *Refresher) OnLogout(fn func(error)) {
	r.mu.Lock()
	r.onLogout = fn
	r.mu.Unlock()
}

// Schedule replaces any pending timer with one derived from the stored
// credentials. Without stored credentials nothing is scheduled.
func (r *Refresher) Schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()

	creds, ok := r.store.Get()
	if !ok {
		return
	}
	now := r.clock.Now()
	delay := time.Duration(float64(creds.Remaining(now)) * r.fraction)
	stop := make(chan struct{})
	r.stop = stop
	r.next = now.Add(delay)
	gen := r.gen

	timer := r.clock.NewTimer(delay)
	go r.wait(timer, stop, gen)

	r.logger.Debug("credential refresh scheduled", map[string]any{
		"user": creds.User.UserID, "in": delay.String(),
	})
}

// Stop cancels the pending timer, if any.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Refresher) stopLocked() {
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	r.gen++
	r.next = time.Time{}
}

// NextRefresh returns when the pending timer fires.
func (r *Refresher) NextRefresh() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next, r.stop != nil
}

func (r *Refresher) wait(timer clockwork.Timer, stop <-chan struct{}, gen uint64) {
	select {
	case <-timer.Chan():
		r.fire(gen)
	case <-stop:
		timer.Stop()
	}
}

func (r *Refresher) fire(gen uint64) {
	if !r.current(gen) {
		return
	}
	creds, ok := r.store.Get()
	if !ok {
		return
	}

	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	resp, err := r.api.Refresh(ctx, creds.User.UserID, creds.RefreshToken)
	r.metrics.refresh(err)
	if err != nil {
		r.logger.Warn("credential refresh failed", map[string]any{"user": creds.User.UserID, "error": err.Error()})
		r.logout(gen, err)
		return
	}

	fresh := resp.StoredCredentials(r.clock.Now())
	mergeUser(&fresh, creds)

	r.mu.Lock()
	if gen != r.gen {
		// logged out or rescheduled while the call was in flight
		r.mu.Unlock()
		return
	}
	err = r.store.Put(fresh)
	r.mu.Unlock()
	if err != nil {
		r.logger.Error("store refreshed credentials", map[string]any{"error": err.Error()})
		r.logout(gen, err)
		return
	}
	r.logger.Info("credentials refreshed", map[string]any{"user": fresh.User.UserID})
	r.Schedule()
}

func (r *Refresher) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.gen
}

func (r *Refresher) logout(gen uint64, cause error) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.stopLocked()
	fn := r.onLogout
	r.mu.Unlock()

	if err := r.store.Clear(); err != nil {
		r.logger.Error("clear credentials", map[string]any{"error": err.Error()})
	}
	if fn != nil {
		fn(cause)
	}
}

// mergeUser keeps user fields and the refresh token a refresh response left
// out.
func mergeUser(fresh *credentials.Credentials, old *credentials.Credentials) {
	if fresh.User.UserID == "" {
		fresh.User.UserID = old.User.UserID
	}
	if fresh.User.EmailAddress == "" {
		fresh.User.EmailAddress = old.User.EmailAddress
	}
	if fresh.User.APIKey == "" {
		fresh.User.APIKey = old.User.APIKey
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = old.RefreshToken
	}
}

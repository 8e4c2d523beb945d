package boachat

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"

	"github.com/moduspwnens/boa-chat/boachat/credentials"
)

// Config controls how the SDK talks to the API and paces its loops.
type Config struct {
	// APIBaseURL is the API root, including the stage path.
	APIBaseURL string `validate:"required,url"`
	// RequestTimeout bounds every HTTP call. It must exceed the server's
	// long-poll wait, which is 20 seconds.
	RequestTimeout time.Duration `validate:"gte=0"`

	PollConcurrency   int           `validate:"gte=1"`
	MaxBackoff        time.Duration `validate:"gt=0"`
	HistoryRetryDelay time.Duration `validate:"gte=0"`
	// HistoryFillCount is how many visible events count as a filled view
	// when no ViewportFilled func is set on the room.
	HistoryFillCount int `validate:"gte=1"`
	// RefreshFraction is the share of the remaining credential lifetime
	// after which a refresh fires.
	RefreshFraction float64 `validate:"gt=0,lte=1"`

	HTTPClient *http.Client      `validate:"-"`
	Store      credentials.Store `validate:"-"`
	Clock      clockwork.Clock   `validate:"-"`
	Metrics    *Metrics          `validate:"-"`
}

// DefaultConfig returns sensible defaults.
// Store defaults to an in-memory store and Clock to the real clock.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:    30 * time.Second,
		PollConcurrency:   3,
		MaxBackoff:        30 * time.Second,
		HistoryRetryDelay: time.Second,
		HistoryFillCount:  50,
		RefreshFraction:   0.9,
	}
}

// Validate reports the first invalid field, if any.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return WrapError(ErrorInvalidConfig, "invalid config", err)
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollConcurrency <= 0 {
		c.PollConcurrency = def.PollConcurrency
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.HistoryFillCount <= 0 {
		c.HistoryFillCount = def.HistoryFillCount
	}
	if c.RefreshFraction <= 0 || c.RefreshFraction > 1 {
		c.RefreshFraction = def.RefreshFraction
	}
	if c.Store == nil {
		c.Store = credentials.NewMemoryStore()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"

	"github.com/moduspwnens/boa-chat/boachat"
)

const envPrefix = "BOACHAT_"

// fileConfig is the CLI configuration. Durations are Go duration strings.
type fileConfig struct {
	APIURL            string  `yaml:"api_url" json:"api_url"`
	RequestTimeout    string  `yaml:"request_timeout" json:"request_timeout"`
	PollConcurrency   int     `yaml:"poll_concurrency" json:"poll_concurrency"`
	MaxBackoff        string  `yaml:"max_backoff" json:"max_backoff"`
	HistoryRetryDelay string  `yaml:"history_retry_delay" json:"history_retry_delay"`
	HistoryFillCount  int     `yaml:"history_fill_count" json:"history_fill_count"`
	RefreshFraction   float64 `yaml:"refresh_fraction" json:"refresh_fraction"`
	CredentialsFile   string  `yaml:"credentials_file" json:"credentials_file"`
	LogFormat         string  `yaml:"log_format" json:"log_format"`
	MetricsAddr       string  `yaml:"metrics_addr" json:"metrics_addr"`
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func defaultConfigPath() string {
	return filepath.Join(homeDir(), ".boachat", "config.yaml")
}

func defaultCredentialsPath() string {
	return filepath.Join(homeDir(), ".boachat", "credentials.json")
}

// loadFileConfig reads path from fs. An empty path falls back to the
// default location, which may be missing.
func loadFileConfig(fs afero.Fs, path string) (*fileConfig, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	cfg := &fileConfig{}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays BOACHAT_* variables (and LOG_FORMAT) found by lookup.
func (c *fileConfig) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("API_URL", &c.APIURL)
	str("REQUEST_TIMEOUT", &c.RequestTimeout)
	str("MAX_BACKOFF", &c.MaxBackoff)
	str("HISTORY_RETRY_DELAY", &c.HistoryRetryDelay)
	str("CREDENTIALS_FILE", &c.CredentialsFile)
	str("METRICS_ADDR", &c.MetricsAddr)
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.LogFormat = v
	}

	for name, dst := range map[string]*int{
		"POLL_CONCURRENCY":   &c.PollConcurrency,
		"HISTORY_FILL_COUNT": &c.HistoryFillCount,
	} {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = n
	}
	if v, ok := lookup(envPrefix + "REFRESH_FRACTION"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sREFRESH_FRACTION: %w", envPrefix, err)
		}
		c.RefreshFraction = f
	}
	return nil
}

// sdkConfig converts to a boachat.Config, keeping SDK defaults for unset
// fields.
func (c *fileConfig) sdkConfig() (boachat.Config, error) {
	cfg := boachat.DefaultConfig()
	cfg.APIBaseURL = c.APIURL

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"request_timeout", c.RequestTimeout, &cfg.RequestTimeout},
		{"max_backoff", c.MaxBackoff, &cfg.MaxBackoff},
		{"history_retry_delay", c.HistoryRetryDelay, &cfg.HistoryRetryDelay},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	if c.PollConcurrency > 0 {
		cfg.PollConcurrency = c.PollConcurrency
	}
	if c.HistoryFillCount > 0 {
		cfg.HistoryFillCount = c.HistoryFillCount
	}
	if c.RefreshFraction > 0 {
		cfg.RefreshFraction = c.RefreshFraction
	}
	return cfg, cfg.Validate()
}

func (c *fileConfig) credentialsPath() string {
	if c.CredentialsFile != "" {
		return c.CredentialsFile
	}
	return defaultCredentialsPath()
}

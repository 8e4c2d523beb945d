package cmd

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadFileConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/boachat.yaml", []byte(`
api_url: https://abc.execute-api.us-east-1.amazonaws.com/v1
request_timeout: 45s
poll_concurrency: 5
refresh_fraction: 0.8
credentials_file: /tmp/creds.json
`), 0o600))

	cfg, err := loadFileConfig(fs, "/etc/boachat.yaml")
	require.NoError(t, err)
	assert.Equal(t, "https://abc.execute-api.us-east-1.amazonaws.com/v1", cfg.APIURL)
	assert.Equal(t, "/tmp/creds.json", cfg.credentialsPath())

	sdk, err := cfg.sdkConfig()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, sdk.RequestTimeout)
	assert.Equal(t, 5, sdk.PollConcurrency)
	assert.Equal(t, 0.8, sdk.RefreshFraction)
	assert.Equal(t, 30*time.Second, sdk.MaxBackoff, "unset fields keep defaults")
}

func TestLoadFileConfigMissing(t *testing.T) {
	fs := afero.NewMemMapFs()

	cfg, err := loadFileConfig(fs, "")
	require.NoError(t, err, "default location may be missing")
	assert.Empty(t, cfg.APIURL)

	_, err = loadFileConfig(fs, "/nope.yaml")
	assert.Error(t, err, "an explicit path must exist")

	require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte("api_url: [unclosed"), 0o600))
	_, err = loadFileConfig(fs, "/bad.yaml")
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := &fileConfig{APIURL: "http://from-file", PollConcurrency: 2}
	require.NoError(t, cfg.applyEnv(lookupFrom(map[string]string{
		"BOACHAT_API_URL":          "http://from-env",
		"BOACHAT_POLL_CONCURRENCY": "7",
		"BOACHAT_MAX_BACKOFF":      "1m",
		"BOACHAT_REFRESH_FRACTION": "0.5",
		"LOG_FORMAT":               "json",
	})))
	assert.Equal(t, "http://from-env", cfg.APIURL)
	assert.Equal(t, 7, cfg.PollConcurrency)
	assert.Equal(t, "json", cfg.LogFormat)

	sdk, err := cfg.sdkConfig()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, sdk.MaxBackoff)
	assert.Equal(t, 0.5, sdk.RefreshFraction)

	err = cfg.applyEnv(lookupFrom(map[string]string{"BOACHAT_HISTORY_FILL_COUNT": "many"}))
	assert.ErrorContains(t, err, "BOACHAT_HISTORY_FILL_COUNT")
}

func TestSDKConfigErrors(t *testing.T) {
	_, err := (&fileConfig{}).sdkConfig()
	assert.Error(t, err, "api url is required")

	_, err = (&fileConfig{APIURL: "http://x", MaxBackoff: "soon"}).sdkConfig()
	assert.ErrorContains(t, err, "max_backoff")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 180, cfg.Session.PreparationTicks)
	assert.Equal(t, time.Second, cfg.Session.PreparationTickInterval)
	assert.Equal(t, 30*time.Second, cfg.Session.BackgroundResumeLimit)
	assert.Equal(t, 5*time.Second, cfg.Bitrate.Cooldown)
	assert.Equal(t, 5*time.Second, cfg.Reconnect.Interval)
	assert.Equal(t, 6, cfg.Reconnect.MaxRetries)
	assert.Equal(t, -1, cfg.StabilizationModeValue())
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, ":8081", cfg.Signal.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9000"
  read_timeout: 10s
  write_timeout: 15s

signaling:
  url: "ws://signal.example:9001/ws"
  ping_interval: 5s
  pong_timeout: 12s

session:
  preparation_ticks: 90
  resolution: "720p"
  stabilization_mode: "cinematic"
  adaptive_bitrate: false

reconnect:
  interval: 2s
  max_retries: 3

logging:
  level: "debug"
  format: "json"
`)

	t.Setenv("LIVECAST_SERVER_ADDRESS", ":7000")
	t.Setenv("LIVECAST_SIGNAL_ADDRESS", ":7001")
	t.Setenv("LIVECAST_LOG_LEVEL", "warn")
	t.Setenv("LIVECAST_ACCESS_TOKEN", "token-from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	// YAML values
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "ws://signal.example:9001/ws", cfg.Signaling.URL)
	assert.Equal(t, 5*time.Second, cfg.Signaling.PingInterval)
	assert.Equal(t, 90, cfg.Session.PreparationTicks)
	assert.Equal(t, "720p", cfg.Session.Resolution)
	assert.Equal(t, 2, cfg.StabilizationModeValue())
	assert.False(t, cfg.Session.AdaptiveBitrate)
	assert.Equal(t, 2*time.Second, cfg.Reconnect.Interval)
	assert.Equal(t, 3, cfg.Reconnect.MaxRetries)

	// Untouched sections keep defaults
	assert.Equal(t, 5*time.Second, cfg.Bitrate.Cooldown)

	// Env overrides
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, ":7001", cfg.Signal.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "token-from-env", cfg.Auth.AccessToken)
}

func TestLoad_InvalidConfigFailsValidation(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ""
  read_timeout: 0s

session:
  preparation_ticks: 0
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "pong timeout must exceed ping interval",
			mutate: func(c *Config) { c.Signaling.PongTimeout = c.Signaling.PingInterval },
		},
		{
			name:   "reconnect max delay below initial",
			mutate: func(c *Config) { c.Signaling.ReconnectMaxDelay = time.Millisecond },
		},
		{
			name:   "signaling url without scheme",
			mutate: func(c *Config) { c.Signaling.URL = "signal.example/ws" },
		},
		{
			name:   "api base url without host",
			mutate: func(c *Config) { c.API.BaseURL = "https://" },
		},
		{
			name:   "ingest url must be rtmp",
			mutate: func(c *Config) { c.Signal.RTMPURL = "http://media.example/live" },
		},
		{
			name:   "unknown resolution",
			mutate: func(c *Config) { c.Session.Resolution = "4k" },
		},
		{
			name:   "unknown stabilization mode",
			mutate: func(c *Config) { c.Session.StabilizationMode = "wobbly" },
		},
		{
			name:   "floor ratio out of range",
			mutate: func(c *Config) { c.Bitrate.FloorRatio = 1.2 },
		},
		{
			name:   "initial drop below floor",
			mutate: func(c *Config) { c.Bitrate.InitialDrop = 0.4 },
		},
		{
			name:   "step up must grow bitrate",
			mutate: func(c *Config) { c.Bitrate.StepUp = 1 },
		},
		{
			name:   "negative max retries",
			mutate: func(c *Config) { c.Reconnect.MaxRetries = -1 },
		},
		{
			name:   "unsupported transport engine",
			mutate: func(c *Config) { c.Transport.Engine = "hardware" },
		},
		{
			name: "redis without ttl",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.SessionTTL = 0
			},
		},
		{
			name: "diagnostics without queue",
			mutate: func(c *Config) {
				c.Diagnostics.Enabled = true
				c.Diagnostics.QueueSize = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_RateLimiting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	assert.NoError(t, cfg.Validate(), "zero values are ignored when disabled")

	cfg.RateLimiting.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = -1
	assert.Error(t, cfg.Validate())

	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	assert.NoError(t, cfg.Validate())
}

func TestLoadFirst_SkipsMissingPaths(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9100"
`)

	cfg, used, err := LoadFirst("", filepath.Join(t.TempDir(), "missing.yaml"), path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, ":9100", cfg.Server.Address)
}

func TestLoadFirst_DefaultsWhenNothingExists(t *testing.T) {
	cfg, used, err := LoadFirst(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadFirst_InvalidFileIsAnError(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ""
`)
	_, used, err := LoadFirst(path)
	assert.Error(t, err)
	assert.Equal(t, path, used)
}

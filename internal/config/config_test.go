package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirrorpoint.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://www.reddit.com", cfg.Upstream.BaseURL)
	assert.Equal(t, 1024, cfg.Cache.Canonical.Capacity)
	assert.Equal(t, 600*time.Second, cfg.Cache.Canonical.TTL)
	assert.Equal(t, 100, cfg.Cache.JSON.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Cache.JSON.TTL)
	assert.Equal(t, "no-referrer", cfg.Headers["Referrer-Policy"])
}

func TestLoad_OverridesAndMergesHeaders(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
upstream:
  base_url: http://127.0.0.1:3001/
cache:
  json:
    capacity: 10
    ttl: 5s
headers:
  X-Frame-Options: SAMEORIGIN
  Permissions-Policy: interest-cohort=()
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://127.0.0.1:3001", cfg.Upstream.BaseURL)
	assert.Equal(t, 10, cfg.Cache.JSON.Capacity)
	assert.Equal(t, 5*time.Second, cfg.Cache.JSON.TTL)
	assert.Equal(t, 1024, cfg.Cache.Canonical.Capacity)
	assert.Equal(t, "SAMEORIGIN", cfg.Headers["X-Frame-Options"])
	assert.Equal(t, "interest-cohort=()", cfg.Headers["Permissions-Policy"])
	assert.Equal(t, "nosniff", cfg.Headers["X-Content-Type-Options"])
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [port"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"bad scheme", func(c *Config) { c.Upstream.BaseURL = "ftp://example.com" }, "must be http or https"},
		{"with path", func(c *Config) { c.Upstream.BaseURL = "https://example.com/api" }, "must not carry a path"},
		{"no user agent", func(c *Config) { c.Upstream.UserAgent = "" }, "user_agent"},
		{"zero capacity", func(c *Config) { c.Cache.JSON.Capacity = 0 }, "cache json capacity"},
		{"zero ttl", func(c *Config) { c.Cache.Canonical.TTL = 0 }, "cache canonical ttl"},
		{"rate limit", func(c *Config) { c.RateLimit.Enabled = true; c.RateLimit.Burst = 0 }, "rate_limit"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics path"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"health path", func(c *Config) { c.Upstream.HealthCheck = &HealthCheck{Path: "health"} }, "health_check"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.errMsg)
		})
	}
}

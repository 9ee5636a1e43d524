package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultHeaders are applied to every response the site produces.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Referrer-Policy":         "no-referrer",
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; font-src 'self'; script-src 'self' blob:; manifest-src 'self'; media-src 'self' data: blob: about:; style-src 'self' 'unsafe-inline'; base-uri 'none'; img-src 'self' data:; form-action 'self'; frame-ancestors 'none'; connect-src 'self'; worker-src blob:;",
	}
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL:               "https://www.reddit.com",
			UserAgent:             "web:mirrorpoint:v0.1.0",
			DialTimeout:           10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
		Cache: CacheConfig{
			Canonical: CacheLimits{Capacity: 1024, TTL: 600 * time.Second},
			JSON:      CacheLimits{Capacity: 100, TTL: 30 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 20,
			Burst:             40,
			CleanupInterval:   5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Port:           9090,
			Path:           "/metrics",
			LatencyBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Headers: DefaultHeaders(),
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid upstream base_url %q: %w", c.Upstream.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream base_url must be http or https, got %q", c.Upstream.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream base_url %q has no host", c.Upstream.BaseURL)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("upstream base_url %q must not carry a path", c.Upstream.BaseURL)
	}
	c.Upstream.BaseURL = strings.TrimSuffix(c.Upstream.BaseURL, "/")

	if c.Upstream.UserAgent == "" {
		return fmt.Errorf("upstream user_agent cannot be empty")
	}

	for name, limits := range map[string]CacheLimits{"canonical": c.Cache.Canonical, "json": c.Cache.JSON} {
		if limits.Capacity <= 0 {
			return fmt.Errorf("cache %s capacity must be positive, got %d", name, limits.Capacity)
		}
		if limits.TTL <= 0 {
			return fmt.Errorf("cache %s ttl must be positive, got %s", name, limits.TTL)
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit requires positive requests_per_second and burst")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with /: %q", c.Metrics.Path)
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}

	if hc := c.Upstream.HealthCheck; hc != nil && !strings.HasPrefix(hc.Path, "/") {
		return fmt.Errorf("upstream health_check path must start with /: %q", hc.Path)
	}

	return nil
}

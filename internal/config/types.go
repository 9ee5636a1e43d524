package config

import "time"

type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Upstream  UpstreamConfig    `yaml:"upstream"`
	Cache     CacheConfig       `yaml:"cache"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	Logging   LoggingConfig     `yaml:"logging"`
	Headers   map[string]string `yaml:"headers"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"` // 0 keeps long media streams open
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type UpstreamConfig struct {
	BaseURL               string        `yaml:"base_url"`
	UserAgent             string        `yaml:"user_agent"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	HealthCheck           *HealthCheck  `yaml:"health_check,omitempty"`
}

type HealthCheck struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	Canonical CacheLimits `yaml:"canonical"`
	JSON      CacheLimits `yaml:"json"`
}

type CacheLimits struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

type MetricsConfig struct {
	Enabled        bool      `yaml:"enabled"`
	Port           int       `yaml:"port"`
	Path           string    `yaml:"path"`
	LatencyBuckets []float64 `yaml:"latency_buckets,omitempty"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, text
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

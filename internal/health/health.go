// Package health checks the upstream origin in the background.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaypoint/mirrorpoint/internal/config"
	"github.com/relaypoint/mirrorpoint/internal/metrics"
)

const (
	defaultInterval = 10 * time.Second
	defaultTimeout  = 5 * time.Second
)

// Fetcher is the part of the upstream client the checker needs.
type Fetcher interface {
	Fetch(ctx context.Context, method, path string, followRedirects, quarantine bool) (*http.Response, error)
	BaseURL() string
}

type Checker struct {
	upstream Fetcher
	cfg      config.HealthCheck
	metrics  *metrics.Metrics
	logger   *slog.Logger
	healthy  atomic.Bool
	checked  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewChecker(upstream Fetcher, cfg config.HealthCheck, m *metrics.Metrics, logger *slog.Logger) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Checker{
		upstream: upstream,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	// Healthy until proven otherwise.
	c.healthy.Store(true)
	return c
}

func (c *Checker) Start() {
	c.wg.Add(1)
	go c.checkLoop()
}

func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// Healthy reports the result of the last check.
func (c *Checker) Healthy() bool {
	return c.healthy.Load()
}

// Checked reports whether at least one check has completed.
func (c *Checker) Checked() bool {
	return c.checked.Load()
}

func (c *Checker) checkLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.Check(context.Background())

	for {
		select {
		case <-ticker.C:
			c.Check(context.Background())
		case <-c.stop:
			return
		}
	}
}

// Check queries the origin once and records the outcome.
func (c *Checker) Check(ctx context.Context) bool {
	healthy := c.ping(ctx)
	was := c.healthy.Swap(healthy)
	c.checked.Store(true)
	c.metrics.RecordUpstreamHealth(c.upstream.BaseURL(), healthy)

	switch {
	case !healthy && was:
		c.logger.Warn("upstream unhealthy", "upstream", c.upstream.BaseURL(), "path", c.cfg.Path)
	case healthy && !was:
		c.logger.Info("upstream recovered", "upstream", c.upstream.BaseURL())
	}
	return healthy
}

func (c *Checker) ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.upstream.Fetch(ctx, http.MethodHead, c.cfg.Path, false, false)
	if err != nil {
		c.logger.Debug("health check failed", "error", err)
		return false
	}
	if err := resp.Body.Close(); err != nil {
		c.logger.Debug("closing health check body", "error", err)
	}

	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

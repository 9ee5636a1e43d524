// Package site assembles the mirror front end: the route table, the upstream
// service, the media proxy and the inbound middleware.
package site

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/relaypoint/mirrorpoint/internal/config"
	"github.com/relaypoint/mirrorpoint/internal/health"
	"github.com/relaypoint/mirrorpoint/internal/metrics"
	"github.com/relaypoint/mirrorpoint/internal/proxy"
	"github.com/relaypoint/mirrorpoint/internal/ratelimit"
	"github.com/relaypoint/mirrorpoint/internal/router"
	"github.com/relaypoint/mirrorpoint/internal/upstream"
)

// mediaRoutes map local media paths to the upstream host serving them.
var mediaRoutes = []struct {
	pattern string
	format  string
}{
	{"/vid/:id/:size", "https://v.redd.it/{id}/DASH_{size}"},
	{"/hls/:id/*path", "https://v.redd.it/{id}/{path}"},
	{"/img/*path", "https://i.redd.it/{path}"},
	{"/thumb/:point/:id", "https://{point}.thumbs.redditmedia.com/{id}"},
	{"/emoji/:id/:name", "https://emoji.redditmedia.com/{id}/{name}"},
	{"/preview/:loc/award_images/:fullname/:id", "https://{loc}view.redd.it/award_images/{fullname}/{id}"},
	{"/preview/:loc/:id", "https://{loc}view.redd.it/{id}"},
	{"/style/*path", "https://styles.redditmedia.com/{path}"},
	{"/static/*path", "https://www.redditstatic.com/{path}"},
}

type Site struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	router   *router.Router
	service  *upstream.Service
	streamer *proxy.Streamer
	limiter  *ratelimit.RateLimiter
	checker  *health.Checker
	handler  http.Handler
}

type options struct {
	transport http.RoundTripper
}

type Option func(*options)

// WithTransport sends upstream and media traffic through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, opts ...Option) (*Site, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = upstream.NewTransport(cfg.Upstream)
	}

	client, err := upstream.New(upstream.Config{
		BaseURL:   cfg.Upstream.BaseURL,
		UserAgent: cfg.Upstream.UserAgent,
		Transport: o.transport,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	service, err := upstream.NewService(client, cfg.Cache, m)
	if err != nil {
		return nil, err
	}

	s := &Site{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		service:  service,
		streamer: proxy.New(o.transport, m, logger),
		router: router.New(router.Config{
			DefaultHeaders: cfg.Headers,
			Logger:         logger,
			Metrics:        m,
		}),
	}

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.NewRateLimiter(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			CleanupInterval:   cfg.RateLimit.CleanupInterval,
		})
	}

	if hc := cfg.Upstream.HealthCheck; hc != nil {
		s.checker = health.NewChecker(client, *hc, m, logger)
	}

	if err := s.registerRoutes(); err != nil {
		s.Stop()
		return nil, err
	}

	s.handler = s.withRequestLog(s.withRateLimit(s.router))
	return s, nil
}

func (s *Site) registerRoutes() error {
	for _, mr := range mediaRoutes {
		h := s.streamer.Handler(mr.format)
		if err := s.router.Get(mr.pattern, h); err != nil {
			return err
		}
		if err := s.router.Handle(http.MethodHead, mr.pattern, h); err != nil {
			return err
		}
	}

	routes := []struct {
		pattern string
		handler router.Handler
	}{
		{"/u/:name", redirectTo("/user/{name}")},
		{"/r/:sub/w", redirectTo("/r/{sub}/wiki")},
		{"/r/:sub/w/*page", redirectTo("/r/{sub}/wiki/{page}")},
		{"/w", redirectTo("/wiki")},
		{"/w/*page", redirectTo("/wiki/{page}")},
		{"/robots.txt", robots},
		{"/health", s.health},
		{"/json/*path", s.mirrorJSON},
		{"/:id", s.shortLink},
		{"/*rest", notFound},
	}
	for _, r := range routes {
		if err := s.router.Get(r.pattern, r.handler); err != nil {
			return fmt.Errorf("registering routes: %w", err)
		}
	}
	return nil
}

// Handler is the site's root HTTP handler, middleware included.
func (s *Site) Handler() http.Handler {
	return s.handler
}

func (s *Site) Router() *router.Router {
	return s.router
}

func (s *Site) Service() *upstream.Service {
	return s.service
}

// Start launches background work such as the upstream health checker.
func (s *Site) Start() {
	if s.checker != nil {
		s.checker.Start()
	}
}

// Stop halts background work. It is safe to call without Start.
func (s *Site) Stop() {
	if s.checker != nil {
		s.checker.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

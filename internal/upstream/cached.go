package upstream

import (
	"context"
	"fmt"

	"github.com/relaypoint/mirrorpoint/internal/config"
	"github.com/relaypoint/mirrorpoint/internal/memo"
	"github.com/relaypoint/mirrorpoint/internal/metrics"
)

const (
	CanonicalCacheName = "canonical"
	JSONCacheName      = "json"
)

type canonicalResult struct {
	path string
	ok   bool
}

type jsonKey struct {
	Path       string
	Quarantine bool
}

// Service memoizes canonical path resolution and JSON fetches. Failures are
// remembered for the cache TTL like successes.
type Service struct {
	client    *Client
	canonical *memo.Cache[string, canonicalResult]
	json      *memo.Cache[jsonKey, any]
}

func NewService(client *Client, cfg config.CacheConfig, m *metrics.Metrics) (*Service, error) {
	canonical, err := memo.New[string, canonicalResult](CanonicalCacheName, cfg.Canonical.Capacity, cfg.Canonical.TTL, memo.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("canonical cache: %w", err)
	}
	jsonCache, err := memo.New[jsonKey, any](JSONCacheName, cfg.JSON.Capacity, cfg.JSON.TTL, memo.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("json cache: %w", err)
	}

	return &Service{
		client:    client,
		canonical: canonical,
		json:      jsonCache,
	}, nil
}

func (s *Service) Client() *Client {
	return s.client
}

// CanonicalPath is the memoized ResolveCanonical.
func (s *Service) CanonicalPath(ctx context.Context, path string) (string, bool, error) {
	res, err := s.canonical.Get(ctx, path, func(ctx context.Context) (canonicalResult, error) {
		p, ok, err := s.client.ResolveCanonical(ctx, path)
		return canonicalResult{path: p, ok: ok}, err
	})
	return res.path, res.ok, err
}

// JSON is the memoized FetchJSON.
func (s *Service) JSON(ctx context.Context, path string, quarantine bool) (any, error) {
	return s.json.Get(ctx, jsonKey{Path: path, Quarantine: quarantine}, func(ctx context.Context) (any, error) {
		return s.client.FetchJSON(ctx, path, quarantine)
	})
}

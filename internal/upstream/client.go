// Package upstream talks to the mirrored service: raw requests with a fixed
// header profile, lenient JSON decoding, canonical path resolution and the
// memoized service built on top of them.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/relaypoint/mirrorpoint/internal/config"
	"github.com/relaypoint/mirrorpoint/internal/metrics"
)

const (
	acceptHeader         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	acceptLanguageHeader = "en-US,en;q=0.5"
	quarantineCookie     = "_options=%7B%22pref_quarantine_optin%22%3A%20true%7D"

	maxJSONBody = 32 << 20
)

type Client struct {
	baseURL   string
	host      string
	userAgent string
	follow    *http.Client
	noFollow  *http.Client
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Config struct {
	BaseURL   string
	UserAgent string
	// Transport defaults to NewTransport with default settings.
	Transport http.RoundTripper
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// NewTransport builds the pooled transport shared by upstream and media requests.
func NewTransport(cfg config.UpstreamConfig) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL %s: %w", cfg.BaseURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %s: missing host", cfg.BaseURL)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = NewTransport(config.DefaultConfig().Upstream)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   base,
		host:      u.Host,
		userAgent: cfg.UserAgent,
		follow:    &http.Client{Transport: transport},
		noFollow: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		metrics: cfg.Metrics,
		logger:  logger,
	}, nil
}

// BaseURL is the upstream origin without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Fetch sends method to the upstream at path with the client's header
// profile. With followRedirects unset a 3xx is returned as is. The caller
// owns the response and must close its body. Failures are not retried.
func (c *Client) Fetch(ctx context.Context, method, path string, followRedirects, quarantine bool) (*http.Response, error) {
	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}

	req.Host = c.host
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", acceptHeader)
	if method == http.MethodGet {
		req.Header.Set("Accept-Encoding", "gzip")
	} else {
		req.Header.Set("Accept-Encoding", "identity")
	}
	req.Header.Set("Accept-Language", acceptLanguageHeader)
	req.Header.Set("Connection", "keep-alive")
	if quarantine {
		req.Header.Set("Cookie", quarantineCookie)
	} else {
		req.Header.Set("Cookie", "")
	}

	hc := c.noFollow
	if followRedirects {
		hc = c.follow
	}

	start := time.Now()
	res, err := hc.Do(req)
	if err != nil {
		c.metrics.RecordUpstreamRequest(method, 0, time.Since(start))
		c.logger.Debug("upstream request failed", "method", method, "url", target, "error", err)
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	c.metrics.RecordUpstreamRequest(method, res.StatusCode, time.Since(start))
	return res, nil
}

// Get fetches path and follows redirects.
func (c *Client) Get(ctx context.Context, path string, quarantine bool) (*http.Response, error) {
	return c.Fetch(ctx, http.MethodGet, path, true, quarantine)
}

// Head fetches path without following redirects.
func (c *Client) Head(ctx context.Context, path string, quarantine bool) (*http.Response, error) {
	return c.Fetch(ctx, http.MethodHead, path, false, quarantine)
}

// FetchJSON GETs path and decodes the body. A body that is not JSON yields a
// nil value and no error. An object whose "error" field is an integer is
// turned into a *PayloadError. Numbers decode as json.Number. The returned
// value may be shared through caches and must be treated as read-only.
func (c *Client) FetchJSON(ctx context.Context, path string, quarantine bool) (any, error) {
	res, err := c.Get(ctx, path, quarantine)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusInternalServerError {
		return nil, ErrUpstreamUnavailable
	}

	value, err := decodeJSON(res)
	if err != nil {
		c.logger.Debug("upstream body is not JSON, using empty value", "path", path, "status", res.StatusCode, "error", err)
		return nil, nil
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}
	code, ok := integer(obj["error"])
	if !ok {
		return value, nil
	}

	if reason, ok := obj["reason"].(string); ok {
		return nil, &PayloadError{Code: code, Message: reason}
	}
	if message, ok := obj["message"].(string); ok {
		return nil, &PayloadError{Code: code, Message: message}
	}
	c.logger.Warn("upstream error payload without reason or message", "url", c.baseURL+path, "code", code)
	return nil, &PayloadError{Code: code, Message: errorPayloadFallback}
}

func decodeJSON(res *http.Response) (any, error) {
	body, err := io.ReadAll(io.LimitReader(res.Body, maxJSONBody))
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(res.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		if body, err = io.ReadAll(io.LimitReader(zr, maxJSONBody)); err != nil {
			return nil, err
		}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := dec.Decode(new(any)); err != io.EOF {
		return nil, errTrailingData
	}
	return v, nil
}

func integer(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	return i, err == nil
}

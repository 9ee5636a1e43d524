// Package proxy relays media from upstream hosts to the client without
// buffering.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/relaypoint/mirrorpoint/internal/metrics"
	"github.com/relaypoint/mirrorpoint/internal/router"
)

var errBadURL = errors.New("Couldn't parse URL")

// forwardedHeaders are the only request headers sent upstream.
var forwardedHeaders = []string{
	"Range",
	"If-Modified-Since",
	"Cache-Control",
}

// strippedHeaders identify the upstream CDN or vary per edge and are never relayed.
var strippedHeaders = []string{
	"Access-Control-Expose-Headers",
	"Server",
	"Vary",
	"Etag",
	"X-Cdn",
	"X-Cdn-Client-Region",
	"X-Cdn-Name",
	"X-Cdn-Server-Region",
	"X-Reddit-Cdn",
	"X-Reddit-Video-Features",
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type Streamer struct {
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a Streamer over transport. Redirects are followed; no overall
// timeout is set so long media downloads are not cut off.
func New(transport http.RoundTripper, m *metrics.Metrics, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	// Bodies are relayed byte for byte, so the transport must not gunzip them.
	if t, ok := transport.(*http.Transport); ok {
		t = t.Clone()
		t.DisableCompression = true
		transport = t
	}
	return &Streamer{
		httpClient: &http.Client{Transport: transport},
		metrics:    m,
		logger:     logger,
	}
}

// Handler returns a route handler proxying to format.
func (s *Streamer) Handler(format string) router.Handler {
	return func(r *http.Request) (*router.Response, error) {
		return s.Proxy(r, format)
	}
}

// Proxy fills the {name} placeholders of format with the route captures of
// req, appends req's query string and streams the upstream response back.
func (s *Streamer) Proxy(req *http.Request, format string) (*router.Response, error) {
	target, err := buildURL(format, router.Params(req), req.URL.RawQuery)
	if err != nil {
		return nil, err
	}
	return s.stream(req, target)
}

func buildURL(format string, params map[string]string, rawQuery string) (string, error) {
	// Longest names first so {id} never clobbers part of {idx}.
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	target := format
	for _, name := range names {
		target = strings.ReplaceAll(target, "{"+name+"}", escapePath(params[name]))
	}
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errBadURL
	}
	return target, nil
}

// escapePath escapes each segment of a captured value, keeping separators.
func escapePath(v string) string {
	parts := strings.Split(v, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (s *Streamer) stream(req *http.Request, target string) (*router.Response, error) {
	method := http.MethodGet
	if req.Method == http.MethodHead {
		method = http.MethodHead
	}

	// The upstream body outlives Dispatch, so only the client's own cancellation applies.
	ctx := req.Context()
	upstreamReq, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, errBadURL
	}

	for _, key := range forwardedHeaders {
		if v := req.Header.Get(key); v != "" {
			upstreamReq.Header.Set(key, v)
		}
	}

	start := time.Now()
	resp, err := s.httpClient.Do(upstreamReq)
	if err != nil {
		s.metrics.RecordUpstreamRequest(method, 0, time.Since(start))
		if ctx.Err() == context.Canceled {
			return nil, router.Error(499, "client closed request")
		}
		s.logger.Warn("media proxy request failed", "url", target, "error", err)
		return nil, fmt.Errorf("Couldn't reach %s: %w", upstreamReq.URL.Host, err)
	}
	s.metrics.RecordUpstreamRequest(method, resp.StatusCode, time.Since(start))

	header := resp.Header.Clone()
	removeHeaders(header, strippedHeaders)
	removeHeaders(header, hopHeaders)

	return &router.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   resp.Body,
	}, nil
}

func removeHeaders(h http.Header, keys []string) {
	for _, k := range keys {
		h.Del(k)
	}
}

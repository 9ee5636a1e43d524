package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// NotFoundMessage is the body of the 404 boilerplate response.
const NotFoundMessage = "Nothing here"

const unmatchedRoute = "unmatched"

// New creates an empty router. Routes must be registered before it serves.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaults := make(map[string]string, len(cfg.DefaultHeaders))
	for k, v := range cfg.DefaultHeaders {
		defaults[k] = v
	}

	return &Router{
		routes:         make(map[string][]*routeEntry),
		registered:     make(map[string]bool),
		defaultHeaders: defaults,
		logger:         logger,
		metrics:        cfg.Metrics,
	}
}

// Handle registers h for method and pattern. Registering the same method and
// pattern twice is an error.
func (r *Router) Handle(method, pattern string, h Handler) error {
	if h == nil {
		return fmt.Errorf("route %s %s: nil handler", method, pattern)
	}
	method = strings.ToUpper(method)

	segments, err := parsePattern(pattern)
	if err != nil {
		return fmt.Errorf("route %s %s: %w", method, pattern, err)
	}

	key := method + " " + pattern
	if r.registered[key] {
		return fmt.Errorf("route %s %s registered twice", method, pattern)
	}
	r.registered[key] = true

	entry := &routeEntry{
		method:   method,
		pattern:  pattern,
		segments: segments,
		handler:  h,
	}

	// Insert before the first less specific entry so equal ones keep registration order.
	list := r.routes[method]
	idx := len(list)
	for i, e := range list {
		if moreSpecific(entry.segments, e.segments) {
			idx = i
			break
		}
	}
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = entry
	r.routes[method] = list

	return nil
}

func (r *Router) Get(pattern string, h Handler) error {
	return r.Handle(http.MethodGet, pattern, h)
}

func (r *Router) Post(pattern string, h Handler) error {
	return r.Handle(http.MethodPost, pattern, h)
}

// Match finds the route for method and an escaped request path.
func (r *Router) Match(method, path string) (*Match, bool) {
	parts := splitPath(NormalizePath(path))

	for _, entry := range r.routes[strings.ToUpper(method)] {
		params, ok := matchPath(entry.segments, parts)
		if !ok {
			continue
		}
		return &Match{
			Method:  entry.method,
			Pattern: entry.pattern,
			Params:  params,
			handler: entry.handler,
		}, true
	}

	return nil, false
}

// Dispatch routes req and always returns a response: the handler's, with the
// default headers applied, or a boilerplate error response.
func (r *Router) Dispatch(req *http.Request) *Response {
	start := time.Now()

	m, ok := r.Match(req.Method, req.URL.EscapedPath())
	if !ok {
		r.metrics.RecordError(unmatchedRoute, "not_found")
		res := r.BuildErrorResponse(req.Header, http.StatusNotFound, NotFoundMessage)
		r.metrics.RecordRequest(unmatchedRoute, req.Method, res.Status, time.Since(start))
		return res
	}

	done := r.metrics.InFlightRequests(m.Pattern)
	defer done()

	res, err := r.invoke(m, req.WithContext(context.WithValue(req.Context(), matchKey{}, m)))
	switch {
	case err != nil:
		status := StatusOf(err)
		r.logger.Warn("handler failed", "route", m.Pattern, "path", req.URL.Path, "status", status, "error", err)
		r.metrics.RecordError(m.Pattern, "handler")
		res = r.BuildErrorResponse(req.Header, status, err.Error())
	case res == nil:
		r.metrics.RecordError(m.Pattern, "empty_response")
		res = r.BuildErrorResponse(req.Header, http.StatusInternalServerError, "handler returned no response")
	default:
		if res.Header == nil {
			res.Header = make(http.Header)
		}
		r.applyDefaults(res.Header)
	}

	r.metrics.RecordRequest(m.Pattern, req.Method, res.Status, time.Since(start))
	return res
}

func (r *Router) invoke(m *Match, req *http.Request) (res *Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked", "route", m.Pattern, "panic", p)
			res, err = nil, Error(http.StatusInternalServerError, "Internal error")
		}
	}()
	return m.handler(req)
}

// ServeHTTP dispatches req and writes the response.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if err := r.Dispatch(req).Write(w); err != nil {
		r.logger.Debug("response write aborted", "path", req.URL.Path, "error", err)
	}
}

// requestOnlyHeaders describe the request body, connection or credentials and
// must not be echoed onto a response.
var requestOnlyHeaders = []string{
	"Authorization",
	"Connection",
	"Content-Encoding",
	"Content-Length",
	"Cookie",
	"Keep-Alive",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// BuildErrorResponse builds the boilerplate error response: base headers
// (the request's), then the default headers on top, and message as the body.
func (r *Router) BuildErrorResponse(base http.Header, status int, message string) *Response {
	h := base.Clone()
	if h == nil {
		h = make(http.Header)
	}
	for _, k := range requestOnlyHeaders {
		h.Del(k)
	}

	res := Text(status, message)
	for k, vv := range res.Header {
		h[k] = vv
	}
	r.applyDefaults(h)
	res.Header = h
	return res
}

func (r *Router) applyDefaults(h http.Header) {
	for k, v := range r.defaultHeaders {
		h.Set(k, v)
	}
}

// DefaultHeaders returns a copy of the headers applied to every response.
func (r *Router) DefaultHeaders() map[string]string {
	out := make(map[string]string, len(r.defaultHeaders))
	for k, v := range r.defaultHeaders {
		out[k] = v
	}
	return out
}

// Routes lists registered routes as "METHOD pattern", most specific first per method.
func (r *Router) Routes() []string {
	var out []string
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions} {
		for _, e := range r.routes[method] {
			out = append(out, e.method+" "+e.pattern)
		}
	}
	return out
}

type matchKey struct{}

// MatchOf returns the route match attached to a dispatched request.
func MatchOf(req *http.Request) (*Match, bool) {
	m, ok := req.Context().Value(matchKey{}).(*Match)
	return m, ok
}

// Params returns the captures of the matched route.
func Params(req *http.Request) map[string]string {
	if m, ok := MatchOf(req); ok {
		return m.Params
	}
	return nil
}

// Param returns one capture, or "" if absent.
func Param(req *http.Request, name string) string {
	return Params(req)[name]
}

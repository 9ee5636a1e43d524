package router

import (
	"log/slog"
	"net/http"

	"github.com/relaypoint/mirrorpoint/internal/metrics"
)

// Handler serves a matched request. A returned error is rendered by the
// router as a boilerplate response; see StatusError for a non-500 status.
type Handler func(r *http.Request) (*Response, error)

// Match is the outcome of a successful route lookup.
type Match struct {
	Method  string
	Pattern string
	Params  map[string]string
	handler Handler
}

type Router struct {
	// routes holds, per method, entries ordered most specific first.
	routes         map[string][]*routeEntry
	registered     map[string]bool
	defaultHeaders map[string]string
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Config struct {
	// DefaultHeaders are set on every response after the handler ran.
	DefaultHeaders map[string]string
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

type routeEntry struct {
	method   string
	pattern  string
	segments []segment
	handler  Handler
}

type segmentKind int

const (
	kindLiteral segmentKind = iota
	kindParam
	kindWild
)

type segment struct {
	value string // literal text, or the capture name
	kind  segmentKind
}

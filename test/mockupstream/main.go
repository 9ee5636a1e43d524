// Command mockupstream imitates the upstream origin for local runs: short
// links answer HEAD with a redirect and .json paths return listings.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
)

var requestCount uint64

func main() {
	port := flag.Int("port", 3001, "Port to listen on")
	delay := flag.Duration("delay", 0, "Response delay")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddUint64(&requestCount, 1)
		logger.Info("request", "n", count, "method", r.Method, "path", r.URL.Path, "cookie", r.Header.Get("Cookie") != "")

		if *delay > 0 {
			time.Sleep(*delay)
		}

		switch {
		case r.URL.Path == "/" || r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, ".json"):
			serveJSON(w, r)
		case r.Method == http.MethodHead:
			serveShortLink(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("mock upstream starting", "address", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// serveShortLink redirects /{id} to a comments page. Ids starting with
// "gone" are missing and ids starting with "limit" are rate limited.
func serveShortLink(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(r.URL.Path, "/")
	switch {
	case strings.HasPrefix(id, "gone"):
		w.WriteHeader(http.StatusNotFound)
	case strings.HasPrefix(id, "limit"):
		w.WriteHeader(http.StatusTooManyRequests)
	case strings.Contains(id, "/"):
		w.WriteHeader(http.StatusOK)
	default:
		w.Header().Set("Location", "/r/mock/comments/"+id+"/mock_post/")
		w.WriteHeader(http.StatusMovedPermanently)
	}
}

func serveJSON(w http.ResponseWriter, r *http.Request) {
	var (
		status = http.StatusOK
		body   any
	)
	switch {
	case strings.HasPrefix(r.URL.Path, "/r/outage/"):
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	case strings.HasPrefix(r.URL.Path, "/r/private/"):
		status = http.StatusForbidden
		body = map[string]any{"error": 403, "reason": "private", "message": "Forbidden"}
	case strings.HasPrefix(r.URL.Path, "/r/quarantined/") && !strings.Contains(r.Header.Get("Cookie"), "pref_quarantine_optin"):
		status = http.StatusForbidden
		body = map[string]any{"error": 403, "reason": "quarantined", "message": "Forbidden"}
	default:
		body = map[string]any{
			"kind": "Listing",
			"data": map[string]any{
				"path":     r.URL.Path,
				"query":    r.URL.RawQuery,
				"children": []map[string]any{{"kind": "t3", "data": map[string]any{"id": "abc123", "title": "Mock post"}}},
			},
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
		return
	}

	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(status)
	zw := gzip.NewWriter(w)
	_ = json.NewEncoder(zw).Encode(body)
	_ = zw.Close()
}

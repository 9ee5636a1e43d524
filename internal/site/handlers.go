package site

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/relaypoint/mirrorpoint/internal/router"
)

const (
	robotsTxt = "User-agent: *\nDisallow: /u/\nDisallow: /user/"

	invalidPostMessage = "Post ID is invalid. It may point to a post on a community that has been banned."

	// quarantineCookie opts a visitor into quarantined communities.
	quarantineCookie = "allow_quaran"
)

// frontPageSorts are front page listings, not short links.
var frontPageSorts = map[string]bool{
	"best":          true,
	"hot":           true,
	"new":           true,
	"top":           true,
	"rising":        true,
	"controversial": true,
}

// redirectTo returns a handler redirecting to target with {name} placeholders
// filled from the route captures.
func redirectTo(target string) router.Handler {
	return func(r *http.Request) (*router.Response, error) {
		location := target
		for name, value := range router.Params(r) {
			location = strings.ReplaceAll(location, "{"+name+"}", escapeSegments(value))
		}
		return router.Redirect(location), nil
	}
}

func escapeSegments(v string) string {
	parts := strings.Split(v, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func robots(*http.Request) (*router.Response, error) {
	res := router.Text(http.StatusOK, robotsTxt)
	res.Header.Set("Cache-Control", "public, max-age=1209600, s-maxage=86400")
	return res, nil
}

func notFound(*http.Request) (*router.Response, error) {
	return nil, router.Error(http.StatusNotFound, router.NotFoundMessage)
}

// shortLink resolves /:id post links to their canonical path.
func (s *Site) shortLink(r *http.Request) (*router.Response, error) {
	id := router.Param(r, "id")
	escaped := url.PathEscape(id)
	if frontPageSorts[id] || len(escaped) < 5 || len(escaped) > 7 {
		return nil, router.Error(http.StatusNotFound, router.NotFoundMessage)
	}

	path, ok, err := s.service.CanonicalPath(r.Context(), "/"+escaped)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, router.Error(http.StatusNotFound, invalidPostMessage)
	}
	return router.Redirect(path), nil
}

// mirrorJSON mirrors an upstream JSON document.
func (s *Site) mirrorJSON(r *http.Request) (*router.Response, error) {
	path := "/" + escapeSegments(router.Param(r, "path"))
	if !strings.HasSuffix(path, ".json") {
		path += ".json"
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	quarantine := false
	if c, err := r.Cookie(quarantineCookie); err == nil && c.Value == "on" {
		quarantine = true
	}

	v, err := s.service.JSON(r.Context(), path, quarantine)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return router.NewResponse(http.StatusOK, "application/json", body), nil
}

type healthStatus struct {
	Status   string `json:"status"`
	Upstream string `json:"upstream"`
	Checked  bool   `json:"checked"`
}

func (s *Site) health(*http.Request) (*router.Response, error) {
	st := healthStatus{Status: "healthy", Upstream: s.service.Client().BaseURL()}
	code := http.StatusOK
	if s.checker != nil {
		st.Checked = s.checker.Checked()
		if !s.checker.Healthy() {
			st.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	body, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	res := router.NewResponse(code, "application/json", body)
	res.Header.Set("Cache-Control", "no-store")
	return res, nil
}

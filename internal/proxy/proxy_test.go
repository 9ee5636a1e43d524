package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypoint/mirrorpoint/internal/router"
)

func newTestRouter(t *testing.T, s *Streamer, routes map[string]string) *router.Router {
	t.Helper()
	r := router.New(router.Config{DefaultHeaders: map[string]string{"X-Frame-Options": "DENY"}})
	for pattern, format := range routes {
		require.NoError(t, r.Get(pattern, s.Handler(format)))
	}
	return r
}

func TestProxy_ForwardsOnlyAllowListedHeaders(t *testing.T) {
	var got http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer upstream.Close()

	s := New(http.DefaultTransport, nil, nil)
	r := newTestRouter(t, s, map[string]string{"/img/*path": upstream.URL + "/{path}"})

	req := httptest.NewRequest("GET", "/img/abc.jpg", nil)
	req.Header.Set("Range", "bytes=0-100")
	req.Header.Set("Cookie", "session=secret")
	req.Header.Set("Referer", "https://mirror.example/r/aww")
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	res := r.Dispatch(req)
	defer res.Body.Close()

	assert.Equal(t, http.StatusPartialContent, res.Status)
	assert.Equal(t, "bytes=0-100", got.Get("Range"))
	assert.Empty(t, got.Get("Cookie"))
	assert.Empty(t, got.Get("Referer"))
	assert.Empty(t, got.Get("X-Forwarded-For"))
	assert.Empty(t, got.Get("If-Modified-Since"))
}

func TestProxy_ForwardsConditionalHeaders(t *testing.T) {
	var got http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNotModified)
	}))
	defer upstream.Close()

	s := New(http.DefaultTransport, nil, nil)
	r := newTestRouter(t, s, map[string]string{"/img/*path": upstream.URL + "/{path}"})

	req := httptest.NewRequest("GET", "/img/abc.jpg", nil)
	req.Header.Set("If-Modified-Since", "Wed, 21 Oct 2015 07:28:00 GMT")
	req.Header.Set("Cache-Control", "no-cache")
	res := r.Dispatch(req)
	res.Body.Close()

	assert.Equal(t, http.StatusNotModified, res.Status)
	assert.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", got.Get("If-Modified-Since"))
	assert.Equal(t, "no-cache", got.Get("Cache-Control"))
}

func TestProxy_StripsDenyListedResponseHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h["access-control-expose-headers"] = []string{"X-Thing"}
		h["SERVER"] = []string{"snooserv"}
		h["vary"] = []string{"Accept-Encoding"}
		h["ETag"] = []string{`"abc"`}
		h["x-cdn"] = []string{"fastly"}
		h["X-CDN-Client-Region"] = []string{"EU"}
		h["x-cdn-name"] = []string{"edge"}
		h["x-cdn-server-region"] = []string{"EU"}
		h["X-Reddit-CDN"] = []string{"fastly"}
		h["x-reddit-video-features"] = []string{"hls"}
		h.Set("Content-Type", "image/jpeg")
		h.Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer upstream.Close()

	s := New(http.DefaultTransport, nil, nil)
	r := newTestRouter(t, s, map[string]string{"/img/*path": upstream.URL + "/{path}"})

	res := r.Dispatch(httptest.NewRequest("GET", "/img/abc.jpg", nil))
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()

	for _, k := range strippedHeaders {
		assert.Empty(t, res.Header.Values(k), "header %s must be stripped", k)
	}
	assert.Equal(t, "image/jpeg", res.Header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", res.Header.Get("Cache-Control"))
	assert.Equal(t, "DENY", res.Header.Get("X-Frame-Options"))
	assert.Equal(t, "jpegbytes", string(body))
}

func TestProxy_TemplateAndQuery(t *testing.T) {
	var gotURL string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.RequestURI()
	}))
	defer upstream.Close()

	s := New(http.DefaultTransport, nil, nil)
	r := newTestRouter(t, s, map[string]string{
		"/vid/:id/:size":                            upstream.URL + "/{id}/DASH_{size}",
		"/preview/:loc/award_images/:fullname/:id": upstream.URL + "/{loc}view/award_images/{fullname}/{id}",
		"/hls/:id/*path":                            upstream.URL + "/{id}/{path}",
	})

	tests := []struct {
		path string
		want string
	}{
		{"/vid/abc/720.mp4", "/abc/DASH_720.mp4"},
		{"/preview/pre/award_images/t5_22cerq/xyz.png?width=16&s=sig", "/preview/award_images/t5_22cerq/xyz.png?width=16&s=sig"},
		{"/hls/abc/HLS_540/seg%201.ts", "/abc/HLS_540/seg%201.ts"},
	}

	for _, tc := range tests {
		res := r.Dispatch(httptest.NewRequest("GET", tc.path, nil))
		res.Body.Close()
		assert.Equal(t, http.StatusOK, res.Status, tc.path)
		assert.Equal(t, tc.want, gotURL, tc.path)
	}
}

func TestProxy_StreamsBody(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("first"))
		w.(http.Flusher).Flush()
		<-release
		_, _ = w.Write([]byte("second"))
	}))
	defer upstream.Close()
	defer close(release)

	s := New(http.DefaultTransport, nil, nil)
	r := newTestRouter(t, s, map[string]string{"/vid/:id": upstream.URL + "/{id}"})

	res := r.Dispatch(httptest.NewRequest("GET", "/vid/abc", nil))
	defer res.Body.Close()

	buf := make([]byte, 5)
	_, err := io.ReadFull(res.Body, buf)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf))
}

func TestProxy_UnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	s := New(http.DefaultTransport, nil, nil)
	r := newTestRouter(t, s, map[string]string{"/img/*path": addr + "/{path}"})

	res := r.Dispatch(httptest.NewRequest("GET", "/img/abc.jpg", nil))
	body, _ := io.ReadAll(res.Body)

	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.Contains(t, string(body), "Couldn't reach")
	assert.Equal(t, "DENY", res.Header.Get("X-Frame-Options"))
}

func TestBuildURL(t *testing.T) {
	got, err := buildURL("https://{point}.thumbs.example/{id}", map[string]string{"point": "b", "id": "x.jpg"}, "")
	require.NoError(t, err)
	assert.Equal(t, "https://b.thumbs.example/x.jpg", got)

	got, err = buildURL("https://img.example/{id}/{idx}", map[string]string{"id": "a", "idx": "b"}, "q=1")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/a/b?q=1", got)

	_, err = buildURL("{path}", map[string]string{"path": "relative"}, "")
	assert.EqualError(t, err, "Couldn't parse URL")
}

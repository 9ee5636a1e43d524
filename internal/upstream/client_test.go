package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func stubResponse(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newStubClient(t *testing.T, fn roundTripFunc) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:   "https://www.upstream.example",
		UserAgent: "web:mirrorpoint:test",
		Transport: fn,
	})
	require.NoError(t, err)
	return c
}

func newServerClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/", UserAgent: "web:mirrorpoint:test"})
	require.NoError(t, err)
	return c
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "://bad"})
	assert.Error(t, err)
}

func TestFetch_HeaderProfile(t *testing.T) {
	var got *http.Request
	c := newStubClient(t, func(r *http.Request) (*http.Response, error) {
		got = r
		return stubResponse(http.StatusOK, nil, ""), nil
	})

	res, err := c.Fetch(context.Background(), http.MethodGet, "/r/aww.json", true, false)
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, "https://www.upstream.example/r/aww.json", got.URL.String())
	assert.Equal(t, "www.upstream.example", got.Host)
	assert.Equal(t, "web:mirrorpoint:test", got.Header.Get("User-Agent"))
	assert.Equal(t, acceptHeader, got.Header.Get("Accept"))
	assert.Equal(t, "gzip", got.Header.Get("Accept-Encoding"))
	assert.Equal(t, "en-US,en;q=0.5", got.Header.Get("Accept-Language"))
	assert.Equal(t, "keep-alive", got.Header.Get("Connection"))
	assert.Equal(t, []string{""}, got.Header.Values("Cookie"))

	res, err = c.Fetch(context.Background(), http.MethodHead, "/abc123", false, true)
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.MethodHead, got.Method)
	assert.Equal(t, "identity", got.Header.Get("Accept-Encoding"))
	assert.Equal(t, quarantineCookie, got.Header.Get("Cookie"))
}

func TestFetch_Redirects(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old":
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
		case "/new":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	})

	res, err := c.Fetch(context.Background(), http.MethodGet, "/old", true, false)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "/new", res.Request.URL.Path)

	res, err = c.Fetch(context.Background(), http.MethodGet, "/old", false, false)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMovedPermanently, res.StatusCode)
	assert.Equal(t, "/new", res.Header.Get("Location"))
}

func TestFetch_TransportError(t *testing.T) {
	cause := errors.New("connection refused")
	c := newStubClient(t, func(*http.Request) (*http.Response, error) {
		return nil, cause
	})

	_, err := c.Fetch(context.Background(), http.MethodGet, "/x", true, false)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Couldn't send request to upstream")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestFetchJSON(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    any
		wantErr string
	}{
		{"object", 200, `{"kind":"Listing","data":{"dist":2}}`, map[string]any{"kind": "Listing", "data": map[string]any{"dist": json.Number("2")}}, ""},
		{"array", 200, `[{"kind":"t3"}]`, []any{map[string]any{"kind": "t3"}}, ""},
		{"not json", 200, `<html>nope</html>`, nil, ""},
		{"empty", 200, ``, nil, ""},
		{"trailing newline", 200, "{\"kind\":\"t3\"}\n", map[string]any{"kind": "t3"}, ""},
		{"trailing data", 200, `{"kind":"t3"} junk`, nil, ""},
		{"two values", 200, `{"kind":"t3"}{"kind":"t5"}`, nil, ""},
		{"4xx json passes", 404, `{"kind":"t5"}`, map[string]any{"kind": "t5"}, ""},
		{"server error", 503, `{"kind":"t5"}`, nil, ErrUpstreamUnavailable.Error()},
		{"reason first", 403, `{"error":403,"reason":"private","message":"Forbidden"}`, nil, "private"},
		{"message fallback", 404, `{"error":404,"message":"Not Found"}`, nil, "Not Found"},
		{"reason not string", 404, `{"error":404,"reason":null,"message":"Not Found"}`, nil, "Not Found"},
		{"generic fallback", 400, `{"error":400}`, nil, errorPayloadFallback},
		{"non integer error", 200, `{"error":"nope","kind":"x"}`, map[string]any{"error": "nope", "kind": "x"}, ""},
		{"float error", 200, `{"error":1.5}`, map[string]any{"error": json.Number("1.5")}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newStubClient(t, func(*http.Request) (*http.Response, error) {
				return stubResponse(tc.status, nil, tc.body), nil
			})

			got, err := c.FetchJSON(context.Background(), "/r/aww.json", false)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tc.wantErr, err.Error())
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeJSON_RejectsTrailingData(t *testing.T) {
	_, err := decodeJSON(stubResponse(200, nil, `{"kind":"t3"}}`))
	assert.ErrorIs(t, err, errTrailingData)

	v, err := decodeJSON(stubResponse(200, nil, " [1] \n\t"))
	require.NoError(t, err)
	assert.Equal(t, []any{json.Number("1")}, v)
}

func TestFetchJSON_PayloadErrorType(t *testing.T) {
	c := newStubClient(t, func(*http.Request) (*http.Response, error) {
		return stubResponse(403, nil, `{"error":403,"reason":"quarantined"}`), nil
	})

	_, err := c.FetchJSON(context.Background(), "/r/q.json", true)
	var pe *PayloadError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, int64(403), pe.Code)
	assert.Equal(t, "quarantined", pe.Message)
}

func TestFetchJSON_Gzip(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Accept-Encoding"))
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write([]byte(`{"kind":"Listing"}`))
		_ = zw.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buf.Bytes())
	})

	got, err := c.FetchJSON(context.Background(), "/r/aww.json", false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"kind": "Listing"}, got)
}

func TestFetchJSON_BadGzipIsLenient(t *testing.T) {
	c := newStubClient(t, func(*http.Request) (*http.Response, error) {
		h := make(http.Header)
		h.Set("Content-Encoding", "gzip")
		return stubResponse(200, h, `{"kind":"plain"}`), nil
	})

	got, err := c.FetchJSON(context.Background(), "/r/aww.json", false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

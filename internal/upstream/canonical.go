package upstream

import (
	"context"
	"net/http"
	"strings"
)

// ResolveCanonical finds the authoritative path for path with a single HEAD
// request that does not follow redirects.
//
// A 2xx means path is already canonical. A 3xx yields the Location header
// with the upstream origin stripped ("/" when nothing is left), or ok=false
// when there is none. Any other status yields ok=false, except 429 which is
// ErrRateLimited.
func (c *Client) ResolveCanonical(ctx context.Context, path string) (canonical string, ok bool, err error) {
	res, err := c.Head(ctx, path, true)
	if err != nil {
		return "", false, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return "", false, ErrRateLimited
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return path, true, nil
	case res.StatusCode < 300 || res.StatusCode >= 400:
		return "", false, nil
	}

	location := res.Header.Get("Location")
	if location == "" {
		return "", false, nil
	}
	canonical = strings.TrimPrefix(escapeControls(location), c.baseURL)
	if canonical == "" {
		canonical = "/"
	}
	return canonical, true, nil
}

// escapeControls percent-encodes control and non-ASCII bytes, leaving
// everything else, existing escapes included, untouched.
func escapeControls(s string) string {
	const hex = "0123456789ABCDEF"

	n := 0
	for i := 0; i < len(s); i++ {
		if needsEscape(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if needsEscape(ch) {
			b.WriteByte('%')
			b.WriteByte(hex[ch>>4])
			b.WriteByte(hex[ch&0x0f])
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func needsEscape(ch byte) bool {
	return ch < 0x20 || ch >= 0x7f
}

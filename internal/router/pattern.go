package router

import (
	"fmt"
	"net/url"
	"strings"
)

// parsePattern compiles a route pattern such as "/r/:sub/comments/*rest".
func parsePattern(pattern string) ([]segment, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("pattern %q must start with /", pattern)
	}

	path := strings.Trim(pattern, "/")
	if path == "" {
		return nil, nil
	}

	parts := strings.Split(path, "/")
	segments := make([]segment, len(parts))
	names := make(map[string]bool, len(parts))

	for i, part := range parts {
		switch {
		case part == "":
			return nil, fmt.Errorf("pattern %q has an empty segment", pattern)
		case part[0] == ':' || part[0] == '*':
			kind := kindParam
			if part[0] == '*' {
				kind = kindWild
				if i != len(parts)-1 {
					return nil, fmt.Errorf("pattern %q: wildcard %q must be the last segment", pattern, part)
				}
			}
			name := part[1:]
			if name == "" {
				return nil, fmt.Errorf("pattern %q: capture at segment %d has no name", pattern, i+1)
			}
			if names[name] {
				return nil, fmt.Errorf("pattern %q: capture %q appears twice", pattern, name)
			}
			names[name] = true
			segments[i] = segment{value: name, kind: kind}
		default:
			segments[i] = segment{value: part}
		}
	}

	return segments, nil
}

// moreSpecific orders candidate patterns: position by position a literal beats
// a capture and a capture beats a wildcard.
func moreSpecific(a, b []segment) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].kind != b[i].kind {
			return a[i].kind < b[i].kind
		}
	}
	return len(a) > len(b)
}

// NormalizePath collapses repeated separators, decodes escaped separators and
// drops one trailing separator. The result is always rooted and applying it
// twice changes nothing.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "%2F", "/")
	path = strings.ReplaceAll(path, "%2f", "/")

	var b strings.Builder
	b.Grow(len(path) + 1)
	b.WriteByte('/')
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		if b.Len() > 1 {
			b.WriteByte('/')
		}
		b.WriteString(part)
	}
	return b.String()
}

// splitPath splits a normalized, still escaped path into unescaped segments.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if u, err := url.PathUnescape(p); err == nil {
			parts[i] = u
		}
	}
	return parts
}

// matchPath matches path segments against a compiled pattern
func matchPath(segments []segment, parts []string) (map[string]string, bool) {
	if len(segments) == 0 {
		return nil, len(parts) == 0
	}

	params := make(map[string]string)

	for si, seg := range segments {
		switch seg.kind {
		case kindWild:
			if si >= len(parts) {
				return nil, false
			}
			params[seg.value] = strings.Join(parts[si:], "/")
			return params, true
		case kindParam:
			if si >= len(parts) || parts[si] == "" {
				return nil, false
			}
			params[seg.value] = parts[si]
		default:
			if si >= len(parts) || parts[si] != seg.value {
				return nil, false
			}
		}
	}

	// All segments matched, check if path is fully consumed
	return params, len(segments) == len(parts)
}

// Package roomkey maps document locations to stable room identifiers.
package roomkey

import (
	"net/url"
	"strings"
)

// Placeholder is returned when a location carries no usable path segment.
const Placeholder = "_"

// threadMarkers are the path segments that precede a thread number.
// Issues and pull requests share one number space per repository.
var threadMarkers = map[string]struct{}{
	"issues": {},
	"pull":   {},
}

// FromPath derives a room key from a document path such as
// /owner/repo/issues/42. Trailing segments after the thread number are
// ignored, so /owner/repo/issues/42/ and /owner/repo/issues/42 share a key.
// A repository named repo-42 maps to the same key as issue 42 of repo; the
// browser clients derive keys the same way and rely on it.
func FromPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	segments := splitSegments(p)
	if len(segments) == 0 {
		return Placeholder
	}

	for i, seg := range segments {
		if _, ok := threadMarkers[seg]; !ok || i == 0 {
			continue
		}
		repo := strings.Join(segments[:i], "/")
		if i+1 < len(segments) {
			return repo + "-" + segments[i+1]
		}
		return repo
	}

	return strings.Join(segments, "/")
}

// FromURL derives a room key from a full URL or a bare path. Inputs without
// a usable path, such as urn:issue:1 or https://github.com, are keyed by the
// trimmed input itself so distinct locations never share a room.
func FromURL(raw string) string {
	raw = strings.TrimSpace(raw)

	var key string
	if u, err := url.Parse(raw); err != nil || (u.Path == "" && u.Opaque != "") {
		key = FromPath(raw)
	} else {
		key = FromPath(u.Path)
	}

	if key == Placeholder && raw != "" {
		return raw
	}
	return key
}

// Scoped namespaces key under scope. An empty scope leaves key untouched.
func Scoped(scope, key string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return key
	}
	return scope + ":" + key
}

func splitSegments(p string) []string {
	parts := strings.Split(strings.TrimSpace(p), "/")
	out := parts[:0]
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

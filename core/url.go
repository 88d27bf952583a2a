package core

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// NormalizeURL renders a request target as an absolute URL string. It accepts
// strings, *url.URL, *http.Request and fmt.Stringer values.
func NormalizeURL(target any) string {
	switch typed := target.(type) {
	case nil:
		return ""
	case string:
		return normalizeURLString(typed)
	case *url.URL:
		if typed == nil {
			return ""
		}
		return typed.String()
	case *http.Request:
		if typed == nil || typed.URL == nil {
			return ""
		}
		return typed.URL.String()
	case fmt.Stringer:
		return normalizeURLString(typed.String())
	default:
		return ""
	}
}

func normalizeURLString(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return parsed.String()
}

// StripFragment drops the fragment of raw, keeping its query.
func StripFragment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if idx := strings.Index(raw, "#"); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

// StripParams drops both query and fragment of raw.
func StripParams(raw string) string {
	raw = StripFragment(raw)
	if idx := strings.Index(raw, "?"); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

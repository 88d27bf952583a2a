package core

import (
	"net/http"
	"net/url"
	"testing"
)

type stringerURL string

func (s stringerURL) String() string { return string(s) }

func TestNormalizeURL(t *testing.T) {
	parsed, _ := url.Parse("https://pod.example/a?b=1")
	req, _ := http.NewRequest(http.MethodGet, "https://pod.example/r", nil)

	tests := []struct {
		name   string
		target any
		want   string
	}{
		{name: "nil", target: nil, want: ""},
		{name: "string", target: " https://pod.example/x ", want: "https://pod.example/x"},
		{name: "url", target: parsed, want: "https://pod.example/a?b=1"},
		{name: "request", target: req, want: "https://pod.example/r"},
		{name: "stringer", target: stringerURL("https://pod.example/s"), want: "https://pod.example/s"},
		{name: "unsupported", target: 42, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeURL(tc.target); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestStripFragmentAndParams(t *testing.T) {
	raw := "https://app.example/callback?code=1#state"
	if got := StripFragment(raw); got != "https://app.example/callback?code=1" {
		t.Fatalf("unexpected strip fragment result %q", got)
	}
	if got := StripParams(raw); got != "https://app.example/callback" {
		t.Fatalf("unexpected strip params result %q", got)
	}
	if got := StripFragment(""); got != "" {
		t.Fatalf("expected empty input preserved")
	}
}

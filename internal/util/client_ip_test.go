package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}

	cases := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted *TrustedProxies
		want    string
	}{
		{name: "untrusted peer ignores headers", remote: "198.51.100.10:1234", xff: "203.0.113.5", realIP: "203.0.113.6", want: "198.51.100.10"},
		{name: "trusted peer uses forwarded for", remote: "10.0.0.20:1234", xff: "203.0.113.5", trusted: trusted, want: "203.0.113.5"},
		{name: "skips trusted hops from the right", remote: "10.0.0.20:1234", xff: "203.0.113.5, 10.1.1.1", trusted: trusted, want: "203.0.113.5"},
		{name: "real ip when forwarded unusable", remote: "192.168.1.10:80", xff: "junk", realIP: "203.0.113.7", trusted: trusted, want: "203.0.113.7"},
		{name: "all hops trusted returns leftmost", remote: "10.0.0.20:1234", xff: "10.0.0.5, 10.0.0.10", trusted: trusted, want: "10.0.0.5"},
		{name: "mapped ipv4 peer", remote: "[::ffff:198.51.100.1]:443", want: "198.51.100.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://inkwell.test", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatalf("expected error for bad prefix")
	}
	if _, err := NewTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected error for bad address")
	}
	tp, err := NewTrustedProxies([]string{" ", ""})
	if err != nil || tp != nil {
		t.Fatalf("expected nil set for empty input, got %v %v", tp, err)
	}
}

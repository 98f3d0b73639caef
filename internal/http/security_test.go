package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"direct", "203.0.113.9:5000", "", "", "203.0.113.9"},
		{"untrusted forwarder ignored", "203.0.113.9:5000", "198.51.100.1", "", "203.0.113.9"},
		{"trusted forwarder", "10.0.0.2:5000", "198.51.100.1, 10.0.0.2", "", "198.51.100.1"},
		{"real ip", "127.0.0.1:5000", "", "198.51.100.7", "198.51.100.7"},
		{"garbage header", "127.0.0.1:5000", "not-an-ip", "", "127.0.0.1"},
		{"no port", "203.0.113.9", "", "", "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := extractClientIP(r); got != tt.want {
				t.Errorf("extractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsSuspicious(t *testing.T) {
	tests := []struct {
		method string
		target string
		want   bool
	}{
		{http.MethodGet, "/transactions/flagged", false},
		{http.MethodGet, "/../../etc/passwd", true},
		{http.MethodGet, "/.env", true},
		{http.MethodGet, "/runs?limit=10", false},
		{http.MethodGet, "/wp-admin/setup.php", true},
		{"TRACE", "/healthz", true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.target, nil)
		if got := isSuspicious(r); got != tt.want {
			t.Errorf("isSuspicious(%s %s) = %v, want %v", tt.method, tt.target, got, tt.want)
		}
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(2)
	defer rl.stop()
	metrics := &securityMetrics{}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if !rl.allow("a", now, metrics) || !rl.allow("a", now, metrics) {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("a", now, metrics) {
		t.Error("third request in the window should be limited")
	}
	if !rl.allow("b", now, metrics) {
		t.Error("other clients have their own window")
	}
	if !rl.allow("a", now.Add(61*time.Second), metrics) {
		t.Error("a new window should reset the budget")
	}
	if metrics.rateLimitHits != 1 {
		t.Errorf("rateLimitHits = %d, want 1", metrics.rateLimitHits)
	}

	rl.cleanupStaleEntries(now.Add(20 * time.Minute))
	if len(rl.clients) != 0 {
		t.Errorf("clients = %d after cleanup, want 0", len(rl.clients))
	}
}

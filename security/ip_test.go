package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name         string
		remoteAddr   string
		xff          string
		xRealIP      string
		trustProxy   bool
		proxyCount   int
		wantClientIP string
	}{
		{
			name:         "direct connection",
			remoteAddr:   "203.0.113.7:51234",
			wantClientIP: "203.0.113.7",
		},
		{
			name:         "forwarding headers ignored without trust",
			remoteAddr:   "10.0.0.1:443",
			xff:          "198.51.100.1",
			xRealIP:      "198.51.100.2",
			wantClientIP: "10.0.0.1",
		},
		{
			name:         "single trusted proxy",
			remoteAddr:   "10.0.0.1:443",
			xff:          "198.51.100.1, 10.0.0.2",
			trustProxy:   true,
			proxyCount:   1,
			wantClientIP: "198.51.100.1",
		},
		{
			name:         "spoofed prefix ignored",
			remoteAddr:   "10.0.0.1:443",
			xff:          "6.6.6.6, 198.51.100.1, 10.0.0.2",
			trustProxy:   true,
			proxyCount:   1,
			wantClientIP: "198.51.100.1",
		},
		{
			name:         "two trusted proxies",
			remoteAddr:   "10.0.0.1:443",
			xff:          "198.51.100.1, 10.0.0.3, 10.0.0.2",
			trustProxy:   true,
			proxyCount:   2,
			wantClientIP: "198.51.100.1",
		},
		{
			name:         "fewer hops than proxies",
			remoteAddr:   "10.0.0.1:443",
			xff:          "198.51.100.1",
			trustProxy:   true,
			proxyCount:   3,
			wantClientIP: "198.51.100.1",
		},
		{
			name:         "invalid xff falls back to x-real-ip",
			remoteAddr:   "10.0.0.1:443",
			xff:          "garbage, 10.0.0.2",
			xRealIP:      "198.51.100.9",
			trustProxy:   true,
			proxyCount:   1,
			wantClientIP: "198.51.100.9",
		},
		{
			name:         "remote addr without port",
			remoteAddr:   "203.0.113.7",
			wantClientIP: "203.0.113.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := GetClientIP(r, tt.trustProxy, tt.proxyCount); got != tt.wantClientIP {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.wantClientIP)
			}
		})
	}
}

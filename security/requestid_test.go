package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %q, want req-1", got)
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q", got)
	}
}

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	if a == b {
		t.Error("request ids should be unique")
	}
	if !requestIDPattern.MatchString(a) {
		t.Errorf("generated id %q does not match the accepted pattern", a)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		upstream string
		wantKeep bool
	}{
		{name: "no upstream id", upstream: "", wantKeep: false},
		{name: "valid upstream id", upstream: "abc-123_DEF", wantKeep: true},
		{name: "header injection attempt", upstream: "abc\r\nSet-Cookie: x=1", wantKeep: false},
		{name: "too long", upstream: strings.Repeat("a", 129), wantKeep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			r := httptest.NewRequest("GET", "/", nil)
			if tt.upstream != "" {
				r.Header.Set(RequestIDHeader, tt.upstream)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			got := w.Header().Get(RequestIDHeader)
			if got == "" || seen != got {
				t.Fatalf("response id %q, context id %q", got, seen)
			}
			if tt.wantKeep && got != tt.upstream {
				t.Errorf("upstream id not preserved: got %q", got)
			}
			if !tt.wantKeep && got == tt.upstream {
				t.Errorf("invalid upstream id %q should have been replaced", tt.upstream)
			}
		})
	}
}

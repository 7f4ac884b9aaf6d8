package server

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/giantswarm/workspace-sso/identity"
	"github.com/giantswarm/workspace-sso/internal/testutil"
	"github.com/giantswarm/workspace-sso/storage/memory"
)

func newServerForConfig(t *testing.T, config *Config, logger *slog.Logger) (*Server, error) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	config.SessionKey = testutil.SessionKey()
	return New(Stores{
		Clients:       store,
		Codes:         store,
		RefreshTokens: store,
		Sessions:      store,
	}, testutil.KeyProvider(t), identity.NewStaticDirectory(), config, logger)
}

func TestValidateHTTPSEnforcement(t *testing.T) {
	tests := []struct {
		name      string
		issuer    string
		allowHTTP bool
		wantErr   bool
		wantLog   string
	}{
		{name: "https", issuer: "https://sso.example.com"},
		{name: "localhost http", issuer: "http://localhost:8080", wantLog: "DEVELOPMENT WARNING"},
		{name: "loopback ip http", issuer: "http://127.0.0.1:8080", wantLog: "DEVELOPMENT WARNING"},
		{name: "ipv6 loopback http", issuer: "http://[::1]:8080", wantLog: "DEVELOPMENT WARNING"},
		{name: "public http", issuer: "http://sso.example.com", wantErr: true},
		{name: "public http allowed", issuer: "http://sso.example.com", allowHTTP: true, wantLog: "CRITICAL SECURITY WARNING"},
		{name: "other scheme", issuer: "ftp://sso.example.com", wantErr: true},
		{name: "missing", issuer: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			_, err := newServerForConfig(t, &Config{Issuer: tt.issuer, AllowInsecureHTTP: tt.allowHTTP}, logger)
			if tt.wantErr {
				if err == nil {
					t.Fatal("New() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if tt.wantLog != "" && !strings.Contains(buf.String(), tt.wantLog) {
				t.Errorf("logs do not contain %q:\n%s", tt.wantLog, buf.String())
			}
		})
	}
}

func TestSecureCookies(t *testing.T) {
	srv, err := newServerForConfig(t, &Config{Issuer: "http://localhost:8080"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.secureCookies() {
		t.Error("secureCookies() = true for an http issuer")
	}

	srv, err = newServerForConfig(t, &Config{Issuer: testIssuer}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !srv.secureCookies() {
		t.Error("secureCookies() = false for an https issuer")
	}

	srv, err = newServerForConfig(t, &Config{Issuer: "HTTPS://sso.example.com"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !srv.secureCookies() {
		t.Error("secureCookies() = false for an upper-case https issuer")
	}
}

func TestVerifyPKCE(t *testing.T) {
	challenge, verifier := testutil.GeneratePKCEPair()
	short := "short-but-valid-verifier"

	tests := []struct {
		name      string
		challenge string
		method    string
		verifier  string
		strict    bool
		wantErr   bool
	}{
		{name: "s256 match", challenge: challenge, method: PKCEMethodS256, verifier: verifier},
		{name: "s256 mismatch", challenge: challenge, method: PKCEMethodS256, verifier: verifier[:len(verifier)-1] + "x", wantErr: true},
		{name: "plain match", challenge: "abc123", method: PKCEMethodPlain, verifier: "abc123"},
		{name: "empty method is plain", challenge: "abc123", method: "", verifier: "abc123"},
		{name: "plain mismatch", challenge: "abc123", method: PKCEMethodPlain, verifier: "abc124", wantErr: true},
		{name: "short verifier lenient", challenge: short, method: PKCEMethodPlain, verifier: short},
		{name: "short verifier strict", challenge: short, method: PKCEMethodPlain, verifier: short, strict: true, wantErr: true},
		{name: "too long", challenge: "x", method: PKCEMethodPlain, verifier: strings.Repeat("a", MaxCodeVerifierLength+1), wantErr: true},
		{name: "invalid characters", challenge: "a b", method: PKCEMethodPlain, verifier: "a b", wantErr: true},
		{name: "missing verifier", challenge: challenge, method: PKCEMethodS256, verifier: "", wantErr: true},
		{name: "no challenge no verifier", challenge: "", verifier: ""},
		{name: "verifier without challenge", challenge: "", verifier: verifier, wantErr: true},
		{name: "unknown method", challenge: challenge, method: "S512", verifier: verifier, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyPKCE(tt.challenge, tt.method, tt.verifier, tt.strict)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("verifyPKCE() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidPKCE) {
				t.Fatalf("verifyPKCE() error = %v, want ErrInvalidPKCE", err)
			}
		})
	}
}

func TestValidatePKCEChallenge(t *testing.T) {
	challenge, _ := testutil.GeneratePKCEPair()

	tests := []struct {
		name       string
		allowPlain bool
		challenge  string
		method     string
		wantErr    bool
	}{
		{name: "s256", challenge: challenge, method: PKCEMethodS256},
		{name: "plain disallowed", challenge: "abc123", method: PKCEMethodPlain, wantErr: true},
		{name: "implicit plain disallowed", challenge: "abc123", method: "", wantErr: true},
		{name: "plain allowed", allowPlain: true, challenge: "abc123", method: PKCEMethodPlain},
		{name: "unknown method", challenge: challenge, method: "S512", wantErr: true},
		{name: "invalid characters", challenge: "abc/123", method: PKCEMethodS256, wantErr: true},
		{name: "too long", challenge: strings.Repeat("a", MaxCodeVerifierLength+1), method: PKCEMethodS256, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *Config) { c.AllowPKCEPlain = tt.allowPlain })
			err := env.srv.validatePKCEChallenge(tt.challenge, tt.method)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Fatalf("validatePKCEChallenge() error = %v, want ErrInvalidRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("validatePKCEChallenge() error = %v", err)
			}
		})
	}
}

func TestValidateScopes(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name         string
		scope        string
		clientScopes []string
		wantErr      bool
	}{
		{name: "supported", scope: "openid profile email"},
		{name: "empty", scope: ""},
		{name: "unsupported", scope: "openid admin", wantErr: true},
		{name: "within client allow-list", scope: "openid", clientScopes: []string{"openid", "profile"}},
		{name: "outside client allow-list", scope: "openid email", clientScopes: []string{"openid", "profile"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.srv.validateScopes(tt.scope, tt.clientScopes)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidScope) {
					t.Fatalf("validateScopes() error = %v, want ErrInvalidScope", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("validateScopes() error = %v", err)
			}
		})
	}
}

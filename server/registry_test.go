package server

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/workspace-sso/storage"
)

func TestClientRegistry_Get(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client, err := env.srv.Clients.Get(ctx, testClientID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if client.ClientType != storage.ClientTypeConfidential {
		t.Errorf("ClientType = %q, want confidential by default", client.ClientType)
	}
	if client.ClientSecretHash == testClientSecret {
		t.Error("secret must be stored as a bcrypt hash")
	}

	for _, id := range []string{"", "unknown"} {
		if _, err := env.srv.Clients.Get(ctx, id); !errors.Is(err, ErrInvalidClient) {
			t.Errorf("Get(%q) error = %v, want ErrInvalidClient", id, err)
		}
	}
}

func TestClientRegistry_ValidateRedirect(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		want        error
	}{
		{name: "exact match", clientID: testClientID, redirectURI: testRedirectURI},
		{name: "path suffix", clientID: testClientID, redirectURI: "https://app.example/cb/evil", want: ErrInvalidRedirectURI},
		{name: "trailing slash", clientID: testClientID, redirectURI: "https://app.example/cb/", want: ErrInvalidRedirectURI},
		{name: "query added", clientID: testClientID, redirectURI: "https://app.example/cb?x=1", want: ErrInvalidRedirectURI},
		{name: "case differs", clientID: testClientID, redirectURI: "https://APP.example/cb", want: ErrInvalidRedirectURI},
		{name: "other client's uri", clientID: testClientID, redirectURI: testCLIRedirectURI, want: ErrInvalidRedirectURI},
		{name: "empty", clientID: testClientID, redirectURI: "", want: ErrInvalidRedirectURI},
		{name: "unknown client", clientID: "unknown", redirectURI: testRedirectURI, want: ErrInvalidClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.srv.Clients.ValidateRedirect(context.Background(), tt.clientID, tt.redirectURI)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("ValidateRedirect() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("ValidateRedirect() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClientRegistry_Authenticate(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{name: "confidential with secret", clientID: testClientID, secret: testClientSecret},
		{name: "confidential wrong secret", clientID: testClientID, secret: "wrong", wantErr: true},
		{name: "confidential without secret", clientID: testClientID, secret: "", wantErr: true},
		{name: "public without secret", clientID: testPublicClientID, secret: ""},
		{name: "public with secret", clientID: testPublicClientID, secret: "anything", wantErr: true},
		{name: "unknown client", clientID: "unknown", secret: "anything", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := env.srv.Clients.Authenticate(context.Background(), tt.clientID, tt.secret)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidClient) {
					t.Fatalf("Authenticate() error = %v, want ErrInvalidClient", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if client.ClientID != tt.clientID {
				t.Errorf("Authenticate() client = %q, want %q", client.ClientID, tt.clientID)
			}
		})
	}
}

func TestClientRegistry_Register(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}

	tests := []struct {
		name    string
		reg     ClientRegistration
		wantErr bool
	}{
		{
			name: "precomputed hash",
			reg:  ClientRegistration{ClientID: "hashed", SecretHash: string(hash), RedirectURIs: []string{"https://hashed.example/cb"}},
		},
		{
			name: "native app scheme",
			reg:  ClientRegistration{ClientID: "native", ClientType: storage.ClientTypePublic, RedirectURIs: []string{"com.example.app:/oauth2redirect"}},
		},
		{
			name:    "missing id",
			reg:     ClientRegistration{Secret: "s", RedirectURIs: []string{"https://x.example/cb"}},
			wantErr: true,
		},
		{
			name:    "no redirect uris",
			reg:     ClientRegistration{ClientID: "c", Secret: "s"},
			wantErr: true,
		},
		{
			name:    "confidential without secret",
			reg:     ClientRegistration{ClientID: "c", RedirectURIs: []string{"https://x.example/cb"}},
			wantErr: true,
		},
		{
			name:    "public with secret",
			reg:     ClientRegistration{ClientID: "c", ClientType: storage.ClientTypePublic, Secret: "s", RedirectURIs: []string{"https://x.example/cb"}},
			wantErr: true,
		},
		{
			name:    "bad hash",
			reg:     ClientRegistration{ClientID: "c", SecretHash: "plaintext", RedirectURIs: []string{"https://x.example/cb"}},
			wantErr: true,
		},
		{
			name:    "unknown type",
			reg:     ClientRegistration{ClientID: "c", ClientType: "trusted", Secret: "s", RedirectURIs: []string{"https://x.example/cb"}},
			wantErr: true,
		},
		{
			name:    "plain http on public host",
			reg:     ClientRegistration{ClientID: "c", Secret: "s", RedirectURIs: []string{"http://x.example/cb"}},
			wantErr: true,
		},
		{
			name:    "javascript scheme",
			reg:     ClientRegistration{ClientID: "c", Secret: "s", RedirectURIs: []string{"javascript:alert(1)"}},
			wantErr: true,
		},
		{
			name:    "fragment",
			reg:     ClientRegistration{ClientID: "c", Secret: "s", RedirectURIs: []string{"https://x.example/cb#frag"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			client, err := env.srv.Clients.Register(context.Background(), tt.reg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Register() expected error, got client %+v", client)
				}
				return
			}
			if err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			if _, err := env.srv.Clients.Get(context.Background(), tt.reg.ClientID); err != nil {
				t.Fatalf("Get() after Register error = %v", err)
			}
		})
	}
}

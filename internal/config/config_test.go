package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

var testSessionKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

func envMap(m map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

const sampleConfig = `
issuer: https://sso.example.com
login_url: https://sso.example.com/login
lifetimes:
  access_token: 15m
  session: 8h
storage:
  backend: memory
clients:
  - id: workspace-app
    name: Workspace App
    secret_env: WORKSPACE_APP_SECRET
    redirect_uris: ["https://app.example/cb"]
  - id: workspace-cli
    type: public
    redirect_uris: ["http://127.0.0.1:8765/callback"]
    scopes: [openid, profile]
users:
  - id: user-123
    email: ada@example.com
    email_verified: true
    name: Ada Lovelace
`

func TestLoad(t *testing.T) {
	cfg, err := Load(strings.NewReader(sampleConfig), envMap(map[string]string{
		"SSO_SESSION_KEY":      testSessionKey,
		"WORKSPACE_APP_SECRET": "s3cret",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want default :8080", cfg.Listen)
	}
	if cfg.Lifetimes.AccessToken != 15*time.Minute {
		t.Errorf("AccessToken lifetime = %v, want 15m", cfg.Lifetimes.AccessToken)
	}
	if cfg.Clients[0].Secret != "s3cret" {
		t.Errorf("client secret = %q, want it read from the environment", cfg.Clients[0].Secret)
	}

	regs := cfg.Registrations()
	if len(regs) != 2 {
		t.Fatalf("len(Registrations()) = %d, want 2", len(regs))
	}
	if regs[1].ClientType != "public" || len(regs[1].Scopes) != 2 {
		t.Errorf("public registration = %+v", regs[1])
	}

	srvCfg, err := cfg.ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig() error = %v", err)
	}
	if len(srvCfg.SessionKey) != 32 {
		t.Errorf("len(SessionKey) = %d, want 32", len(srvCfg.SessionKey))
	}
	if srvCfg.SessionTTL != 8*time.Hour {
		t.Errorf("SessionTTL = %v, want 8h", srvCfg.SessionTTL)
	}

	handlerCfg := cfg.HandlerConfig("test")
	if handlerCfg.Instrumentation.Enabled {
		t.Error("instrumentation should be off with noop exporters")
	}

	user, err := cfg.Directory().LookupUser(t.Context(), "user-123")
	if err != nil {
		t.Fatalf("LookupUser() error = %v", err)
	}
	if user.EmailVerified == nil || !*user.EmailVerified {
		t.Error("email_verified should be carried over")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := Load(strings.NewReader(sampleConfig), envMap(map[string]string{
		"SSO_SESSION_KEY":      testSessionKey,
		"SSO_ISSUER":           "https://login.example.org",
		"SSO_STORAGE_BACKEND":  "valkey",
		"SSO_VALKEY_ADDRESS":   "valkey:6379",
		"SSO_AUDIT_LOGGING":    "true",
		"SSO_METRICS_EXPORTER": "prometheus",
		"WORKSPACE_APP_SECRET": "s3cret",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Issuer != "https://login.example.org" {
		t.Errorf("Issuer = %q", cfg.Issuer)
	}
	if cfg.Storage.Backend != BackendValkey || cfg.Storage.Valkey.Address != "valkey:6379" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if !cfg.AuditLogging {
		t.Error("AuditLogging should be enabled from the environment")
	}
	if !cfg.HandlerConfig("test").Instrumentation.Enabled {
		t.Error("instrumentation should be on with the prometheus exporter")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown key",
			yaml:    "issuer: https://sso.example.com\nisuer: typo\n",
			env:     map[string]string{"SSO_SESSION_KEY": testSessionKey},
			wantErr: "failed to parse config",
		},
		{
			name:    "missing issuer",
			yaml:    "listen: \"0.0.0.0:9000\"\n",
			env:     map[string]string{"SSO_SESSION_KEY": testSessionKey},
			wantErr: "issuer is required",
		},
		{
			name:    "missing session key",
			yaml:    "issuer: https://sso.example.com\n",
			wantErr: "session_key is required",
		},
		{
			name:    "short session key",
			yaml:    "issuer: https://sso.example.com\n",
			env:     map[string]string{"SSO_SESSION_KEY": base64.StdEncoding.EncodeToString([]byte("short"))},
			wantErr: "at least 32 bytes",
		},
		{
			name:    "valkey without address",
			yaml:    "issuer: https://sso.example.com\nstorage:\n  backend: valkey\n",
			env:     map[string]string{"SSO_SESSION_KEY": testSessionKey},
			wantErr: "storage.valkey.address is required",
		},
		{
			name:    "unset secret env",
			yaml:    "issuer: https://sso.example.com\nclients:\n  - id: app\n    secret_env: APP_SECRET\n    redirect_uris: [\"https://app.example/cb\"]\n",
			env:     map[string]string{"SSO_SESSION_KEY": testSessionKey},
			wantErr: "APP_SECRET is not set",
		},
		{
			name:    "public client with secret",
			yaml:    "issuer: https://sso.example.com\nclients:\n  - id: cli\n    type: public\n    secret: x\n    redirect_uris: [\"https://app.example/cb\"]\n",
			env:     map[string]string{"SSO_SESSION_KEY": testSessionKey},
			wantErr: "public clients must not have a secret",
		},
		{
			name:    "confidential client without secret",
			yaml:    "issuer: https://sso.example.com\nclients:\n  - id: app\n    redirect_uris: [\"https://app.example/cb\"]\n",
			env:     map[string]string{"SSO_SESSION_KEY": testSessionKey},
			wantErr: "confidential clients need",
		},
		{
			name:    "duplicate user",
			yaml:    "issuer: https://sso.example.com\nusers:\n  - id: u\n  - id: u\n",
			env:     map[string]string{"SSO_SESSION_KEY": testSessionKey},
			wantErr: "duplicate id",
		},
		{
			name:    "bad bool",
			yaml:    "issuer: https://sso.example.com\n",
			env:     map[string]string{"SSO_SESSION_KEY": testSessionKey, "SSO_TRUST_PROXY": "maybe"},
			wantErr: "invalid SSO_TRUST_PROXY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml), envMap(tt.env))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

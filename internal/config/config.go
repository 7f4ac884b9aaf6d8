// Package config loads the sso-server daemon configuration.
//
// Configuration comes from a single YAML file. A small set of SSO_*
// environment variables override values that are usually injected as
// secrets (session key, Valkey password, client secrets) or that differ
// per deployment (issuer, listen address).
package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sso "github.com/giantswarm/workspace-sso"
	"github.com/giantswarm/workspace-sso/identity"
	"github.com/giantswarm/workspace-sso/instrumentation"
	"github.com/giantswarm/workspace-sso/server"
	"github.com/giantswarm/workspace-sso/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SSO_"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendValkey = "valkey"
)

// MinSessionKeyBytes is the minimum decoded session key length.
const MinSessionKeyBytes = 32

// Config is the daemon configuration file.
type Config struct {
	// Listen is the HTTP listen address.
	// Default: :8080
	Listen string `yaml:"listen"`

	// Issuer is the public base URL of the server. Required.
	Issuer string `yaml:"issuer"`

	// LoginURL is the login UI browsers are sent to without a session.
	LoginURL string `yaml:"login_url"`

	// SessionKey is the base64 encoded HS256 key for session cookies.
	// Usually injected as SSO_SESSION_KEY.
	SessionKey string `yaml:"session_key"`

	// SessionCookieName overrides the cookie name (default: sso_session).
	SessionCookieName string `yaml:"session_cookie_name"`

	Keys      KeysConfig      `yaml:"keys"`
	Lifetimes LifetimesConfig `yaml:"lifetimes"`
	PKCE      PKCEConfig      `yaml:"pkce"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// AuditLogging enables security audit records.
	AuditLogging bool `yaml:"audit_logging"`

	// AllowInsecureHTTP allows an http issuer on a non-loopback host.
	AllowInsecureHTTP bool `yaml:"allow_insecure_http"`

	// DevLogin mounts a form at /dev/login that signs in any provisioned
	// user without a password. Only for local development.
	DevLogin bool `yaml:"dev_login"`

	Clients []ClientConfig `yaml:"clients"`
	Users   []UserConfig   `yaml:"users"`
}

// KeysConfig locates the token signing keys.
type KeysConfig struct {
	// SigningKeyFile is a PEM RSA private key. When empty an ephemeral
	// key is generated at startup and every restart invalidates tokens.
	SigningKeyFile string `yaml:"signing_key_file"`

	// PreviousKeyFiles are PEM public keys of retired signing keys that
	// are still published so outstanding tokens keep verifying.
	PreviousKeyFiles []string `yaml:"previous_key_files"`
}

// LifetimesConfig overrides token and session lifetimes. Zero keeps the
// server default.
type LifetimesConfig struct {
	AuthorizationCode time.Duration `yaml:"authorization_code"`
	AccessToken       time.Duration `yaml:"access_token"`
	RefreshToken      time.Duration `yaml:"refresh_token"`
	Session           time.Duration `yaml:"session"`
	SessionAbsolute   time.Duration `yaml:"session_absolute"`
}

// PKCEConfig tunes PKCE enforcement.
type PKCEConfig struct {
	AllowPlain           bool `yaml:"allow_plain"`
	RequireForAll        bool `yaml:"require_for_all"`
	StrictVerifierLength bool `yaml:"strict_verifier_length"`
}

// ProxyConfig describes reverse proxies in front of the server.
type ProxyConfig struct {
	Trust        bool `yaml:"trust"`
	TrustedCount int  `yaml:"trusted_count"`
}

// StorageConfig selects and configures the store.
type StorageConfig struct {
	// Backend is "memory" (default) or "valkey".
	Backend string       `yaml:"backend"`
	Valkey  ValkeyConfig `yaml:"valkey"`
}

// ValkeyConfig configures the shared Valkey store.
type ValkeyConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`

	// EncryptionKey is a base64 AES-256 key sealing cached user profiles.
	EncryptionKey string `yaml:"encryption_key"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Disabled bool    `yaml:"disabled"`
	Rate     float64 `yaml:"rate"`
	Burst    int     `yaml:"burst"`
}

// TelemetryConfig configures metrics and traces.
type TelemetryConfig struct {
	// MetricsExporter is "prometheus" or "noop" (default).
	MetricsExporter string `yaml:"metrics_exporter"`

	// TracesExporter is "stdout" or "noop" (default).
	TracesExporter string `yaml:"traces_exporter"`

	LogClientIPs bool `yaml:"log_client_ips"`
}

// ClientConfig provisions one relying party.
type ClientConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Type is "confidential" (default) or "public".
	Type string `yaml:"type"`

	// Exactly one of SecretHash, SecretEnv and Secret should be set for
	// confidential clients. SecretEnv names the variable holding the secret.
	SecretHash string `yaml:"secret_hash"`
	SecretEnv  string `yaml:"secret_env"`
	Secret     string `yaml:"secret"`

	RedirectURIs []string `yaml:"redirect_uris"`
	Scopes       []string `yaml:"scopes"`
}

// UserConfig provisions one user of the static directory.
type UserConfig struct {
	ID                string `yaml:"id"`
	Email             string `yaml:"email"`
	EmailVerified     *bool  `yaml:"email_verified"`
	Name              string `yaml:"name"`
	PreferredUsername string `yaml:"preferred_username"`
}

// Default returns the configuration every file is merged into.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Storage: StorageConfig{
			Backend: BackendMemory,
		},
		Telemetry: TelemetryConfig{
			MetricsExporter: "noop",
			TracesExporter:  "noop",
		},
	}
}

// LoadFile reads path, applies environment overrides and validates the
// result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Load(bytes.NewReader(data), os.LookupEnv)
}

// Load decodes YAML from r. lookup resolves environment variables.
// Unknown keys are rejected so typos do not silently drop settings.
func Load(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.resolveSecrets(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies the SSO_* overrides.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LISTEN":                &c.Listen,
		"ISSUER":                &c.Issuer,
		"LOGIN_URL":             &c.LoginURL,
		"SESSION_KEY":           &c.SessionKey,
		"SIGNING_KEY_FILE":      &c.Keys.SigningKeyFile,
		"STORAGE_BACKEND":       &c.Storage.Backend,
		"VALKEY_ADDRESS":        &c.Storage.Valkey.Address,
		"VALKEY_PASSWORD":       &c.Storage.Valkey.Password,
		"VALKEY_ENCRYPTION_KEY": &c.Storage.Valkey.EncryptionKey,
		"METRICS_EXPORTER":      &c.Telemetry.MetricsExporter,
		"TRACES_EXPORTER":       &c.Telemetry.TracesExporter,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"AUDIT_LOGGING":       &c.AuditLogging,
		"TRUST_PROXY":         &c.Proxy.Trust,
		"ALLOW_INSECURE_HTTP": &c.AllowInsecureHTTP,
		"DEV_LOGIN":           &c.DevLogin,
	}
	for name, dst := range bools {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
	}
	return nil
}

// resolveSecrets reads client secrets named by secret_env.
func (c *Config) resolveSecrets(lookup func(string) (string, bool)) error {
	for i := range c.Clients {
		client := &c.Clients[i]
		if client.SecretEnv == "" {
			continue
		}
		secret, ok := lookup(client.SecretEnv)
		if !ok || secret == "" {
			return fmt.Errorf("client %s: environment variable %s is not set", client.ID, client.SecretEnv)
		}
		client.Secret = secret
	}
	return nil
}

// Validate checks the configuration for errors. All problems are reported
// at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Issuer == "" {
		errs = append(errs, errors.New("issuer is required"))
	}
	if key, err := c.DecodeSessionKey(); err != nil {
		errs = append(errs, err)
	} else if len(key) < MinSessionKeyBytes {
		errs = append(errs, fmt.Errorf("session_key must decode to at least %d bytes, got %d", MinSessionKeyBytes, len(key)))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendValkey:
		if c.Storage.Valkey.Address == "" {
			errs = append(errs, errors.New("storage.valkey.address is required for the valkey backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	seen := make(map[string]bool, len(c.Clients))
	for i, client := range c.Clients {
		if client.ID == "" {
			errs = append(errs, fmt.Errorf("clients[%d]: id is required", i))
			continue
		}
		if seen[client.ID] {
			errs = append(errs, fmt.Errorf("client %s: duplicate id", client.ID))
		}
		seen[client.ID] = true

		if len(client.RedirectURIs) == 0 {
			errs = append(errs, fmt.Errorf("client %s: at least one redirect uri is required", client.ID))
		}
		public := client.Type == storage.ClientTypePublic
		hasSecret := client.Secret != "" || client.SecretHash != ""
		if public && hasSecret {
			errs = append(errs, fmt.Errorf("client %s: public clients must not have a secret", client.ID))
		}
		if !public && !hasSecret {
			errs = append(errs, fmt.Errorf("client %s: confidential clients need secret_hash, secret_env or secret", client.ID))
		}
	}

	users := make(map[string]bool, len(c.Users))
	for i, u := range c.Users {
		if u.ID == "" {
			errs = append(errs, fmt.Errorf("users[%d]: id is required", i))
			continue
		}
		if users[u.ID] {
			errs = append(errs, fmt.Errorf("user %s: duplicate id", u.ID))
		}
		users[u.ID] = true
	}

	return errors.Join(errs...)
}

// DecodeSessionKey returns the raw session key.
func (c *Config) DecodeSessionKey() ([]byte, error) {
	if c.SessionKey == "" {
		return nil, fmt.Errorf("session_key is required (or set %sSESSION_KEY)", EnvPrefix)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.SessionKey))
	if err != nil {
		return nil, fmt.Errorf("session_key is not valid base64: %w", err)
	}
	return key, nil
}

// ServerConfig builds the authorization server configuration.
func (c *Config) ServerConfig() (*server.Config, error) {
	key, err := c.DecodeSessionKey()
	if err != nil {
		return nil, err
	}
	return &server.Config{
		Issuer:                  c.Issuer,
		AuthorizationCodeTTL:    c.Lifetimes.AuthorizationCode,
		AccessTokenTTL:          c.Lifetimes.AccessToken,
		RefreshTokenTTL:         c.Lifetimes.RefreshToken,
		SessionTTL:              c.Lifetimes.Session,
		SessionAbsoluteLifetime: c.Lifetimes.SessionAbsolute,
		AllowPKCEPlain:          c.PKCE.AllowPlain,
		RequirePKCE:             c.PKCE.RequireForAll,
		StrictVerifierLength:    c.PKCE.StrictVerifierLength,
		LoginURL:                c.LoginURL,
		SessionCookieName:       c.SessionCookieName,
		SessionKey:              key,
		TrustProxy:              c.Proxy.Trust,
		TrustedProxyCount:       c.Proxy.TrustedCount,
		AllowInsecureHTTP:       c.AllowInsecureHTTP,
	}, nil
}

// HandlerConfig builds the HTTP handler configuration.
func (c *Config) HandlerConfig(version string) *sso.Config {
	telemetry := c.Telemetry.MetricsExporter != "noop" || c.Telemetry.TracesExporter != "noop"
	return &sso.Config{
		RateLimit: sso.RateLimitConfig{
			Disabled: c.RateLimit.Disabled,
			Rate:     c.RateLimit.Rate,
			Burst:    c.RateLimit.Burst,
		},
		Security: sso.SecurityConfig{
			EnableAuditLogging: c.AuditLogging,
		},
		Instrumentation: instrumentation.Config{
			Enabled:         telemetry,
			ServiceName:     "workspace-sso",
			ServiceVersion:  version,
			MetricsExporter: c.Telemetry.MetricsExporter,
			TracesExporter:  c.Telemetry.TracesExporter,
			LogClientIPs:    c.Telemetry.LogClientIPs,
		},
	}
}

// Registrations returns the provisioned clients.
func (c *Config) Registrations() []server.ClientRegistration {
	out := make([]server.ClientRegistration, 0, len(c.Clients))
	for _, client := range c.Clients {
		out = append(out, server.ClientRegistration{
			ClientID:     client.ID,
			ClientName:   client.Name,
			ClientType:   client.Type,
			Secret:       client.Secret,
			SecretHash:   client.SecretHash,
			RedirectURIs: client.RedirectURIs,
			Scopes:       client.Scopes,
		})
	}
	return out
}

// Directory returns the provisioned users.
func (c *Config) Directory() *identity.StaticDirectory {
	users := make([]*identity.UserInfo, 0, len(c.Users))
	for _, u := range c.Users {
		users = append(users, &identity.UserInfo{
			ID:                u.ID,
			Email:             u.Email,
			EmailVerified:     u.EmailVerified,
			Name:              u.Name,
			PreferredUsername: u.PreferredUsername,
		})
	}
	return identity.NewStaticDirectory(users...)
}

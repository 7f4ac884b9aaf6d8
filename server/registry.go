package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/workspace-sso/security"
	"github.com/giantswarm/workspace-sso/storage"
)

// ClientRegistration describes a client at provisioning time.
type ClientRegistration struct {
	ClientID   string
	ClientName string
	ClientType string // storage.ClientTypeConfidential (default) or storage.ClientTypePublic

	// Secret is hashed with bcrypt before it is stored. SecretHash may be
	// given instead when the configuration only holds the hash.
	Secret     string
	SecretHash string

	RedirectURIs []string
	Scopes       []string
}

// ClientRegistry resolves and authenticates relying parties. It is
// read-only once provisioning is done.
type ClientRegistry struct {
	store  storage.ClientStore
	policy RedirectPolicy
	clock  security.Clock
	logger *slog.Logger
}

// NewClientRegistry creates a registry over store.
func NewClientRegistry(store storage.ClientStore, policy RedirectPolicy, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientRegistry{
		store:  store,
		policy: policy,
		clock:  security.SystemClock(),
		logger: logger,
	}
}

// Get returns a client, or ErrInvalidClient when it is unknown.
func (r *ClientRegistry) Get(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, ErrInvalidClient
	}
	client, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return client, nil
}

// ValidateSecret checks a client secret with a constant-time bcrypt
// comparison. Unknown clients cost the same as known ones.
func (r *ClientRegistry) ValidateSecret(ctx context.Context, clientID, secret string) error {
	if err := r.store.ValidateClientSecret(ctx, clientID, secret); err != nil {
		if errors.Is(err, storage.ErrInvalidClientCredentials) {
			return ErrInvalidClient
		}
		return fmt.Errorf("failed to validate client secret: %w", err)
	}
	return nil
}

// ValidateRedirect returns the client when redirectURI is one of its
// registered URIs, compared as exact strings.
func (r *ClientRegistry) ValidateRedirect(ctx context.Context, clientID, redirectURI string) (*storage.Client, error) {
	client, err := r.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !isRegisteredRedirect(client, redirectURI) {
		return nil, ErrInvalidRedirectURI
	}
	return client, nil
}

func isRegisteredRedirect(client *storage.Client, redirectURI string) bool {
	if redirectURI == "" {
		return false
	}
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// Authenticate resolves the client calling the token or revocation
// endpoint. Confidential clients must present their secret; public clients
// must not present one.
func (r *ClientRegistry) Authenticate(ctx context.Context, clientID, secret string) (*storage.Client, error) {
	client, err := r.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrInvalidClient) {
			// keep timing independent of client existence
			_ = r.store.ValidateClientSecret(ctx, clientID, secret)
		}
		return nil, err
	}

	if client.IsPublic() {
		if secret != "" {
			return nil, ErrInvalidClient
		}
		return client, nil
	}

	if secret == "" {
		return nil, ErrInvalidClient
	}
	if err := r.ValidateSecret(ctx, clientID, secret); err != nil {
		return nil, err
	}
	return client, nil
}

// Register validates and stores a client. Used by provisioning only.
func (r *ClientRegistry) Register(ctx context.Context, reg ClientRegistration) (*storage.Client, error) {
	if reg.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}

	clientType := reg.ClientType
	if clientType == "" {
		clientType = storage.ClientTypeConfidential
	}
	if clientType != storage.ClientTypeConfidential && clientType != storage.ClientTypePublic {
		return nil, fmt.Errorf("client %s: unknown client type %q", reg.ClientID, clientType)
	}

	if len(reg.RedirectURIs) == 0 {
		return nil, fmt.Errorf("client %s: at least one redirect URI is required", reg.ClientID)
	}
	for _, uri := range reg.RedirectURIs {
		if err := r.policy.Validate(uri); err != nil {
			var secErr *RedirectURISecurityError
			if errors.As(err, &secErr) {
				r.logger.Warn("Rejected redirect URI at provisioning",
					"client_id", reg.ClientID,
					"category", secErr.Category,
					"uri", secErr.URI,
					"reason", secErr.Reason)
			}
			return nil, fmt.Errorf("client %s: %w", reg.ClientID, err)
		}
	}

	var secretHash string
	switch {
	case clientType == storage.ClientTypePublic:
		if reg.Secret != "" || reg.SecretHash != "" {
			return nil, fmt.Errorf("client %s: public clients cannot have a secret", reg.ClientID)
		}
	case reg.SecretHash != "":
		if _, err := bcrypt.Cost([]byte(reg.SecretHash)); err != nil {
			return nil, fmt.Errorf("client %s: secret hash is not a bcrypt hash: %w", reg.ClientID, err)
		}
		secretHash = reg.SecretHash
	case reg.Secret != "":
		hash, err := bcrypt.GenerateFromPassword([]byte(reg.Secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("client %s: failed to hash secret: %w", reg.ClientID, err)
		}
		secretHash = string(hash)
	default:
		return nil, fmt.Errorf("client %s: confidential clients need a secret", reg.ClientID)
	}

	client := &storage.Client{
		ClientID:         reg.ClientID,
		ClientSecretHash: secretHash,
		ClientName:       reg.ClientName,
		ClientType:       clientType,
		RedirectURIs:     append([]string(nil), reg.RedirectURIs...),
		Scopes:           append([]string(nil), reg.Scopes...),
		CreatedAt:        r.clock.Now(),
	}
	if err := r.store.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	r.logger.Info("Registered client",
		"client_id", client.ClientID,
		"client_type", client.ClientType,
		"redirect_uris", len(client.RedirectURIs))
	return client, nil
}

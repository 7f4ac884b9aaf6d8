package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/giantswarm/workspace-sso/keys"
)

// Endpoint paths, relative to the issuer.
const (
	PathAuthorize = "/authorize"
	PathToken     = "/token"
	PathUserInfo  = "/userinfo"
	PathJWKS      = "/jwks.json"
	PathRevoke    = "/revoke"
	PathLogout    = "/logout"
	PathDiscovery = "/.well-known/openid-configuration"
)

// Grant types and client authentication methods.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"

	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodNone              = "none"

	ResponseTypeCode = "code"
)

// ProviderMetadata represents OpenID Provider Metadata (OpenID Connect
// Discovery 1.0, section 3).
type ProviderMetadata struct {
	// Issuer is the authorization server's issuer identifier URL
	Issuer string `json:"issuer"`

	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`

	// RevocationEndpoint is the RFC 7009 token revocation endpoint
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`

	// EndSessionEndpoint is the RP-initiated logout endpoint
	EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`

	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
}

// Discovery publishes the provider metadata and signing keys.
type Discovery struct {
	config *Config
	keys   keys.Provider
}

// NewDiscovery creates a Discovery for config.
func NewDiscovery(config *Config, provider keys.Provider) *Discovery {
	return &Discovery{config: config, keys: provider}
}

// Metadata returns the discovery document with endpoints under baseURL.
// An empty baseURL means the issuer.
func (d *Discovery) Metadata(baseURL string) *ProviderMetadata {
	if baseURL == "" {
		baseURL = d.config.Issuer
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	challengeMethods := []string{PKCEMethodS256}
	if d.config.AllowPKCEPlain {
		challengeMethods = append(challengeMethods, PKCEMethodPlain)
	}

	return &ProviderMetadata{
		Issuer:                            d.config.Issuer,
		AuthorizationEndpoint:             baseURL + PathAuthorize,
		TokenEndpoint:                     baseURL + PathToken,
		UserInfoEndpoint:                  baseURL + PathUserInfo,
		JWKSURI:                           baseURL + PathJWKS,
		RevocationEndpoint:                baseURL + PathRevoke,
		EndSessionEndpoint:                baseURL + PathLogout,
		ScopesSupported:                   append([]string(nil), d.config.SupportedScopes...),
		ResponseTypesSupported:            []string{ResponseTypeCode},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{keys.AlgorithmRS256},
		TokenEndpointAuthMethodsSupported: []string{AuthMethodClientSecretBasic, AuthMethodClientSecretPost, AuthMethodNone},
		CodeChallengeMethodsSupported:     challengeMethods,
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce",
			"email", "email_verified", "name", "preferred_username",
		},
	}
}

// JWKS returns every key tokens may currently be verified with.
func (d *Discovery) JWKS(ctx context.Context) (*keys.JWKSet, error) {
	published, err := d.keys.VerificationKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get verification keys: %w", err)
	}
	set := &keys.JWKSet{Keys: make([]keys.JWK, 0, len(published))}
	for _, k := range published {
		set.Keys = append(set.Keys, k.JWK())
	}
	return set, nil
}

package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/giantswarm/workspace-sso/identity"
	"github.com/giantswarm/workspace-sso/keys"
	"github.com/giantswarm/workspace-sso/security"
)

// JWT typ header values. Access and ID tokens share the RS256 keys and are
// told apart by typ (RFC 9068).
const (
	TokenTypeAccess = "at+jwt"
	TokenTypeID     = "JWT"
)

// AccessClaims are the claims of an access token.
type AccessClaims struct {
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// IDClaims are the claims of an OpenID Connect ID token.
type IDClaims struct {
	Nonce             string           `json:"nonce,omitempty"`
	AuthTime          *jwt.NumericDate `json:"auth_time,omitempty"`
	Email             string           `json:"email,omitempty"`
	EmailVerified     *bool            `json:"email_verified,omitempty"`
	Name              string           `json:"name,omitempty"`
	PreferredUsername string           `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies the server's JWTs. Verification is
// lock-free and needs no storage.
type TokenIssuer struct {
	keys   keys.Provider
	issuer string
	ttl    time.Duration
	clock  security.Clock
}

// NewTokenIssuer creates a TokenIssuer signing with provider's current key.
func NewTokenIssuer(provider keys.Provider, issuer string, accessTokenTTL time.Duration) *TokenIssuer {
	if accessTokenTTL <= 0 {
		accessTokenTTL = DefaultAccessTokenTTL
	}
	return &TokenIssuer{
		keys:   provider,
		issuer: issuer,
		ttl:    accessTokenTTL,
		clock:  security.SystemClock(),
	}
}

// IssueAccessToken mints an access token for userID, audience clientID.
// It returns the token and its lifetime.
func (t *TokenIssuer) IssueAccessToken(ctx context.Context, userID, clientID, scope string) (string, time.Duration, error) {
	now := t.clock.Now()
	claims := &AccessClaims{
		Scope:    scope,
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := t.sign(ctx, TokenTypeAccess, claims)
	if err != nil {
		return "", 0, err
	}
	return signed, t.ttl, nil
}

// IssueIDToken mints an ID token for profile, audience clientID. It
// expires together with the access token issued alongside it.
func (t *TokenIssuer) IssueIDToken(ctx context.Context, profile *identity.UserInfo, clientID, nonce string, authTime time.Time) (string, error) {
	if profile == nil {
		return "", fmt.Errorf("profile is required")
	}

	now := t.clock.Now()
	claims := &IDClaims{
		Nonce:             nonce,
		Email:             profile.Email,
		EmailVerified:     profile.EmailVerified,
		Name:              profile.Name,
		PreferredUsername: profile.PreferredUsername,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   profile.ID,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	if !authTime.IsZero() {
		claims.AuthTime = jwt.NewNumericDate(authTime)
	}

	return t.sign(ctx, TokenTypeID, claims)
}

func (t *TokenIssuer) sign(ctx context.Context, typ string, claims jwt.Claims) (string, error) {
	key, err := t.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get signing key: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["typ"] = typ
	token.Header["kid"] = key.KeyID

	signed, err := token.SignedString(key.Private)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks an access token's signature, typ, issuer, expiry and
// audience. An empty audience accepts any single audience, for endpoints
// that serve every client.
//
// Errors wrap ErrInvalidToken; ErrTokenExpired, ErrTokenSignature and
// ErrTokenMalformed tell the common causes apart.
func (t *TokenIssuer) Verify(ctx context.Context, token, audience string) (*AccessClaims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenMalformed)
	}

	published, err := t.keys.VerificationKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get verification keys: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{keys.AlgorithmRS256}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock.Now),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	claims := &AccessClaims{}
	_, err = jwt.NewParser(opts...).ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		if typ, _ := tok.Header["typ"].(string); typ != TokenTypeAccess {
			return nil, fmt.Errorf("%w: unexpected typ %q", ErrTokenMalformed, typ)
		}
		kid, _ := tok.Header["kid"].(string)
		key, err := keys.Lookup(published, kid)
		if err != nil {
			return nil, err
		}
		return key.Key, nil
	})
	if err != nil {
		return nil, mapJWTError(err)
	}

	if audience == "" && len(claims.Audience) != 1 {
		return nil, fmt.Errorf("%w: token must have exactly one audience", ErrInvalidToken)
	}
	return claims, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, keys.ErrKeyNotFound):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/giantswarm/workspace-sso/internal/util"
	"github.com/giantswarm/workspace-sso/security"
	"github.com/giantswarm/workspace-sso/storage"
)

// CodeRequest is what an authorization code is bound to.
type CodeRequest struct {
	UserID              string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	AuthTime            time.Time
}

// CodeIssuer issues single-use authorization codes and redeems them.
type CodeIssuer struct {
	store                storage.CodeStore
	ttl                  time.Duration
	strictVerifierLength bool
	clock                security.Clock
	logger               *slog.Logger
}

// NewCodeIssuer creates a CodeIssuer. ttl is the code lifetime.
func NewCodeIssuer(store storage.CodeStore, ttl time.Duration, strictVerifierLength bool, logger *slog.Logger) *CodeIssuer {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultAuthorizationCodeTTL
	}
	return &CodeIssuer{
		store:                store,
		ttl:                  ttl,
		strictVerifierLength: strictVerifierLength,
		clock:                security.SystemClock(),
		logger:               logger,
	}
}

// Issue stores a new code for req and returns it.
func (c *CodeIssuer) Issue(ctx context.Context, req CodeRequest) (*storage.AuthorizationCode, error) {
	now := c.clock.Now()
	authTime := req.AuthTime
	if authTime.IsZero() {
		authTime = now
	}

	code := &storage.AuthorizationCode{
		Code:                oauth2.GenerateVerifier(),
		UserID:              req.UserID,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		AuthTime:            authTime,
		GrantID:             uuid.NewString(),
		CreatedAt:           now,
		ExpiresAt:           now.Add(c.ttl),
	}
	if code.CodeChallenge != "" {
		code.CodeChallengeMethod = pkceMethod(code.CodeChallengeMethod)
	}

	if err := c.store.SaveAuthorizationCode(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to save authorization code: %w", err)
	}

	c.logger.Debug("Issued authorization code",
		"client_id", code.ClientID,
		"code_prefix", util.SafeTruncate(code.Code, util.TokenLogPrefixLength),
		"expires_at", code.ExpiresAt)
	return code, nil
}

// Redeem consumes code and checks that it was issued to clientID for
// redirectURI and that verifier satisfies its PKCE challenge.
//
// A code that was already redeemed returns its record together with
// ErrCodeReused, so the caller can revoke the grant it started. A PKCE
// mismatch returns the record with ErrInvalidPKCE for auditing. Every
// other failure wraps ErrInvalidGrant and returns no record. The code is
// consumed even when a later check fails.
func (c *CodeIssuer) Redeem(ctx context.Context, code, clientID, redirectURI, verifier string) (*storage.AuthorizationCode, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidGrant)
	}

	record, err := c.store.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrAuthorizationCodeUsed):
			c.logger.Warn("Authorization code presented twice",
				"client_id", clientID,
				"code_prefix", util.SafeTruncate(code, util.TokenLogPrefixLength))
			return record, ErrCodeReused
		case errors.Is(err, storage.ErrAuthorizationCodeNotFound):
			return nil, fmt.Errorf("%w: unknown authorization code", ErrInvalidGrant)
		case errors.Is(err, storage.ErrAuthorizationCodeExpired):
			return nil, fmt.Errorf("%w: authorization code expired", ErrInvalidGrant)
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	if record.ClientID != clientID {
		c.logger.Warn("Authorization code redeemed by another client",
			"issued_to", record.ClientID,
			"presented_by", clientID)
		return nil, fmt.Errorf("%w: client mismatch", ErrInvalidGrant)
	}
	if record.RedirectURI != redirectURI {
		return nil, fmt.Errorf("%w: redirect_uri mismatch", ErrInvalidGrant)
	}

	if err := verifyPKCE(record.CodeChallenge, record.CodeChallengeMethod, verifier, c.strictVerifierLength); err != nil {
		return record, err
	}
	return record, nil
}

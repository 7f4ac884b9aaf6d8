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

// RefreshTokens issues and rotates opaque refresh tokens. Tokens born from
// one code exchange form a rotation group; presenting a rotated token
// again revokes the whole group.
type RefreshTokens struct {
	store  storage.RefreshTokenStore
	ttl    time.Duration
	clock  security.Clock
	logger *slog.Logger
}

// NewRefreshTokens creates RefreshTokens over store.
func NewRefreshTokens(store storage.RefreshTokenStore, ttl time.Duration, logger *slog.Logger) *RefreshTokens {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	return &RefreshTokens{
		store:  store,
		ttl:    ttl,
		clock:  security.SystemClock(),
		logger: logger,
	}
}

// Issue stores the first token of a rotation group. An empty groupID
// starts a new group.
func (r *RefreshTokens) Issue(ctx context.Context, userID, clientID, scope, groupID string, authTime time.Time) (*storage.RefreshToken, error) {
	if groupID == "" {
		groupID = uuid.NewString()
	}
	now := r.clock.Now()
	token := &storage.RefreshToken{
		Token:           oauth2.GenerateVerifier(),
		UserID:          userID,
		ClientID:        clientID,
		Scope:           scope,
		RotationGroupID: groupID,
		Generation:      1,
		AuthTime:        authTime,
		IssuedAt:        now,
		ExpiresAt:       now.Add(r.ttl),
	}

	if err := r.store.SaveRefreshToken(ctx, token); err != nil {
		if errors.Is(err, storage.ErrRotationGroupRevoked) {
			return nil, fmt.Errorf("%w: grant has been revoked", ErrInvalidGrant)
		}
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}
	return token, nil
}

// RedeemAndRotate redeems token for clientID and returns the consumed
// record and its replacement.
//
// A token that was already rotated revokes its group: the consumed record
// is returned with an error matching ErrTokenTheftDetected and
// *storage.ReuseError. Every other failure wraps ErrInvalidGrant and
// changes nothing.
func (r *RefreshTokens) RedeemAndRotate(ctx context.Context, token, clientID string) (consumed, next *storage.RefreshToken, err error) {
	if token == "" {
		return nil, nil, fmt.Errorf("%w: refresh_token is required", ErrInvalidGrant)
	}

	now := r.clock.Now()
	next = &storage.RefreshToken{
		Token:     oauth2.GenerateVerifier(),
		IssuedAt:  now,
		ExpiresAt: now.Add(r.ttl),
	}

	consumed, err = r.store.RotateRefreshToken(ctx, token, clientID, next)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRefreshTokenReused):
			r.logger.Error("Refresh token reuse detected, rotation group revoked",
				"client_id", clientID,
				"token_prefix", util.SafeTruncate(token, util.TokenLogPrefixLength))
			return consumed, nil, fmt.Errorf("%w: %w", ErrTokenTheftDetected, err)
		case errors.Is(err, storage.ErrRefreshTokenNotFound):
			return nil, nil, fmt.Errorf("%w: unknown refresh token", ErrInvalidGrant)
		case errors.Is(err, storage.ErrRefreshTokenExpired):
			return nil, nil, fmt.Errorf("%w: refresh token expired", ErrInvalidGrant)
		case errors.Is(err, storage.ErrRefreshTokenClientMismatch):
			r.logger.Warn("Refresh token presented by another client", "client_id", clientID)
			return nil, nil, fmt.Errorf("%w: client mismatch", ErrInvalidGrant)
		case errors.Is(err, storage.ErrRotationGroupRevoked):
			return nil, nil, fmt.Errorf("%w: grant has been revoked", ErrInvalidGrant)
		}
		return nil, nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return consumed, next, nil
}

// Peek returns a stored token without redeeming it.
func (r *RefreshTokens) Peek(ctx context.Context, token string) (*storage.RefreshToken, error) {
	record, err := r.store.GetRefreshToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			return nil, fmt.Errorf("%w: unknown refresh token", ErrInvalidGrant)
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return record, nil
}

// Revoke revokes the rotation group of token (RFC 7009). Unknown tokens
// and tokens of other clients are ignored. It returns how many tokens
// were revoked.
func (r *RefreshTokens) Revoke(ctx context.Context, token, clientID string) (int, error) {
	record, err := r.store.GetRefreshToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get refresh token: %w", err)
	}
	if record.ClientID != clientID {
		r.logger.Warn("Revocation of another client's refresh token ignored", "client_id", clientID)
		return 0, nil
	}
	return r.RevokeGroup(ctx, record.RotationGroupID)
}

// RevokeGroup revokes every token of groupID.
func (r *RefreshTokens) RevokeGroup(ctx context.Context, groupID string) (int, error) {
	if groupID == "" {
		return 0, nil
	}
	n, err := r.store.RevokeRotationGroup(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke rotation group: %w", err)
	}
	return n, nil
}

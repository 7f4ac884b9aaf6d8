package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/workspace-sso/internal/util"
	"github.com/giantswarm/workspace-sso/storage"
)

// SaveRefreshToken stores token as a member of its rotation group.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_refresh_token", &err, time.Now())

	if token == nil || token.Token == "" || token.RotationGroupID == "" {
		return fmt.Errorf("invalid refresh token: token and rotation group are required")
	}
	if len(token.Token) > MaxKeyPartLength || len(token.RotationGroupID) > MaxKeyPartLength {
		return fmt.Errorf("invalid refresh token: value too long")
	}

	ttl := s.ttlUntil(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}

	data, err := s.encodeRefreshToken(token)
	if err != nil {
		return err
	}

	group := token.RotationGroupID
	result, err := s.eval(ctx, luaSaveRefreshToken,
		[]string{s.refreshKey(token.Token), s.groupKey(group), s.groupRevokedKey(group)},
		durationArg(ttl), data, token.ClientID, expiryField(token.ExpiresAt),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	switch result {
	case "GROUP_REVOKED":
		return storage.ErrRotationGroupRevoked
	case "EXISTS":
		return fmt.Errorf("refresh token already exists")
	}

	s.logger.Debug("Saved refresh token",
		"token_prefix", util.SafeTruncate(token.Token, util.TokenLogPrefixLength),
		"generation", token.Generation)
	return nil
}

// GetRefreshToken returns a stored refresh token.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (rec *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_refresh_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "get_refresh_token", &err, time.Now())

	return s.loadRefreshToken(ctx, token)
}

func (s *Store) loadRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	if token == "" || len(token) > MaxKeyPartLength {
		return nil, storage.ErrRefreshTokenNotFound
	}

	fields, err := s.client.Do(ctx,
		s.client.B().Hmget().Key(s.refreshKey(token)).Field("data", "revoked_at").Build(),
	).ToArray()
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	if len(fields) != 2 {
		return nil, storage.ErrRefreshTokenNotFound
	}

	data, err := fields[0].ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}

	var revokedAt int64
	if v, err := fields[1].ToString(); err == nil {
		revokedAt, _ = strconv.ParseInt(v, 10, 64)
	}

	return s.decodeRefreshToken(data, revokedAt)
}

// RotateRefreshToken redeems presented and stores next in the same group.
//
// The presented record is read first to build next; those fields never
// change after a token is written. The state transition itself runs in
// one script.
func (s *Store) RotateRefreshToken(ctx context.Context, presented, clientID string, next *storage.RefreshToken) (rec *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "rotate_refresh_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "rotate_refresh_token", &err, time.Now())

	if next == nil || next.Token == "" || len(next.Token) > MaxKeyPartLength {
		return nil, fmt.Errorf("replacement refresh token is required")
	}

	stored, err := s.loadRefreshToken(ctx, presented)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	next.UserID = stored.UserID
	next.ClientID = stored.ClientID
	next.Scope = stored.Scope
	next.RotationGroupID = stored.RotationGroupID
	next.Generation = stored.Generation + 1
	next.AuthTime = stored.AuthTime
	next.Revoked = false
	next.RevokedAt = time.Time{}

	data, err := s.encodeRefreshToken(next)
	if err != nil {
		return nil, err
	}

	// a zero TTL would delete the key and the group set with it
	ttl := s.ttlUntil(next.ExpiresAt)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	group := stored.RotationGroupID
	result, err := s.eval(ctx, luaRotateRefreshToken,
		[]string{
			s.refreshKey(presented),
			s.refreshKey(next.Token),
			s.groupKey(group),
			s.groupRevokedKey(group),
		},
		millisArg(now),
		clientID,
		data,
		expiryField(next.ExpiresAt),
		durationArg(ttl),
		durationArg(s.retention),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute refresh token rotation: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrRefreshTokenNotFound
	case result == "EXPIRED":
		return nil, storage.ErrRefreshTokenExpired
	case result == "CLIENT_MISMATCH":
		return nil, storage.ErrRefreshTokenClientMismatch
	case result == "GROUP_REVOKED":
		return nil, storage.ErrRotationGroupRevoked
	case result == "EXISTS":
		return nil, fmt.Errorf("replacement refresh token already exists")
	case strings.HasPrefix(result, "REUSED:"):
		revoked, _ := strconv.Atoi(strings.TrimPrefix(result, "REUSED:"))
		s.logger.Warn("Rotated refresh token presented again, rotation group revoked",
			"client_id", clientID,
			"generation", stored.Generation,
			"tokens_revoked", revoked)
		return stored, &storage.ReuseError{Revoked: revoked}
	case result == "OK":
		stored.Revoked = true
		stored.RevokedAt = fromMillis(toMillis(now))
		return stored, nil
	}
	return nil, fmt.Errorf("unexpected rotation script result %q", util.SafeTruncate(result, 16))
}

// RevokeRotationGroup revokes every token of a group.
func (s *Store) RevokeRotationGroup(ctx context.Context, groupID string) (n int, err error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_rotation_group")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "revoke_rotation_group", &err, time.Now())

	if groupID == "" {
		return 0, nil
	}
	if len(groupID) > MaxKeyPartLength {
		return 0, fmt.Errorf("invalid rotation group id")
	}

	revoked, err := s.eval(ctx, luaRevokeGroup,
		[]string{s.groupKey(groupID), s.groupRevokedKey(groupID)},
		millisArg(s.clock.Now()),
		durationArg(s.retention),
	).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to revoke rotation group: %w", err)
	}
	return int(revoked), nil
}

func (s *Store) encodeRefreshToken(token *storage.RefreshToken) (string, error) {
	raw, err := json.Marshal(toRefreshTokenJSON(token))
	if err != nil {
		return "", fmt.Errorf("failed to marshal refresh token: %w", err)
	}
	data, err := s.seal(raw)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return data, nil
}

func (s *Store) decodeRefreshToken(data string, revokedAt int64) (*storage.RefreshToken, error) {
	raw, err := s.open(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	var j refreshTokenJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("failed to parse refresh token: %w", err)
	}
	return fromRefreshTokenJSON(&j, revokedAt), nil
}

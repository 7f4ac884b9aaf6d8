package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/workspace-sso/storage"
)

// SaveSession stores a new session. The cached profile is part of the
// encrypted payload when an encryptor is set.
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_session")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_session", &err, time.Now())

	if session == nil || session.SessionID == "" || len(session.SessionID) > MaxKeyPartLength {
		return fmt.Errorf("invalid session")
	}

	ttl := s.ttlUntil(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	raw, err := json.Marshal(toSessionJSON(session))
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	data, err := s.seal(raw)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}

	result, err := s.eval(ctx, luaSaveRecord, []string{s.sessionKey(session.SessionID)},
		durationArg(ttl),
		"data", data,
		"expires_at", expiryField(session.ExpiresAt),
		"absolute_expires_at", expiryField(session.AbsoluteExpiresAt),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if result == "EXISTS" {
		return fmt.Errorf("session already exists")
	}

	s.logger.Debug("Saved session", "user_id", session.UserID)
	return nil
}

// TouchSession validates a session and slides its expiry.
func (s *Store) TouchSession(ctx context.Context, sessionID string, slidingTTL time.Duration) (rec *storage.Session, err error) {
	ctx, span := s.startStorageSpan(ctx, "touch_session")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "touch_session", &err, time.Now())

	if sessionID == "" || len(sessionID) > MaxKeyPartLength {
		return nil, storage.ErrSessionNotFound
	}

	reply, err := s.eval(ctx, luaTouchSession, []string{s.sessionKey(sessionID)},
		millisArg(s.clock.Now()),
		durationArg(slidingTTL),
	).ToArray()
	if err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("empty session script reply")
	}

	status, err := reply[0].ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to read session script reply: %w", err)
	}
	switch status {
	case "NOT_FOUND":
		return nil, storage.ErrSessionNotFound
	case "EXPIRED":
		return nil, storage.ErrSessionExpired
	}
	if status != "OK" || len(reply) != 3 {
		return nil, fmt.Errorf("unexpected session script reply %q", status)
	}

	data, err := reply[1].ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to read session data: %w", err)
	}
	expiresAt, err := reply[2].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("failed to read session expiry: %w", err)
	}

	raw, err := s.open(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}
	var j sessionJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return fromSessionJSON(&j, expiresAt), nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_session")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "delete_session", &err, time.Now())

	if sessionID == "" || len(sessionID) > MaxKeyPartLength {
		return nil
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.sessionKey(sessionID)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

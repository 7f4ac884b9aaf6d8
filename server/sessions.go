package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/giantswarm/workspace-sso/identity"
	"github.com/giantswarm/workspace-sso/internal/util"
	"github.com/giantswarm/workspace-sso/security"
	"github.com/giantswarm/workspace-sso/storage"
)

// ErrInvalidSessionCookie means a session cookie failed verification.
var ErrInvalidSessionCookie = errors.New("invalid session cookie")

// SessionManager owns SSO sessions and the cookie that carries them.
// Cookies are HS256 JWTs signed with a key separate from the token keys.
type SessionManager struct {
	store    storage.SessionStore
	ttl      time.Duration
	absolute time.Duration
	key      []byte
	issuer   string
	clock    security.Clock
	logger   *slog.Logger
}

// NewSessionManager creates a SessionManager. ttl is the sliding idle
// lifetime and absolute caps a session regardless of activity.
func NewSessionManager(store storage.SessionStore, key []byte, issuer string, ttl, absolute time.Duration, logger *slog.Logger) (*SessionManager, error) {
	if len(key) < MinSessionKeyLength {
		return nil, fmt.Errorf("session key must be at least %d bytes (got %d)", MinSessionKeyLength, len(key))
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if absolute <= 0 {
		absolute = DefaultSessionAbsoluteLifetime
	}
	return &SessionManager{
		store:    store,
		ttl:      ttl,
		absolute: absolute,
		key:      append([]byte(nil), key...),
		issuer:   issuer,
		clock:    security.SystemClock(),
		logger:   logger,
	}, nil
}

// Create starts a session for an authenticated user.
func (m *SessionManager) Create(ctx context.Context, userID string, profile *identity.UserInfo) (*storage.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	now := m.clock.Now()
	session := &storage.Session{
		SessionID:         oauth2.GenerateVerifier(),
		UserID:            userID,
		Profile:           profile,
		AuthTime:          now,
		CreatedAt:         now,
		AbsoluteExpiresAt: now.Add(m.absolute),
	}
	session.ExpiresAt = session.SlideExpiry(now, m.ttl)

	if err := m.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.logger.Debug("Created session",
		"session_prefix", util.SafeTruncate(session.SessionID, util.TokenLogPrefixLength),
		"expires_at", session.ExpiresAt)
	return session, nil
}

// Validate returns a live session and slides its expiry. It returns
// storage.ErrSessionNotFound or storage.ErrSessionExpired otherwise.
func (m *SessionManager) Validate(ctx context.Context, sessionID string) (*storage.Session, error) {
	if sessionID == "" {
		return nil, storage.ErrSessionNotFound
	}
	session, err := m.store.TouchSession(ctx, sessionID, m.ttl)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) || errors.Is(err, storage.ErrSessionExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}
	return session, nil
}

// Destroy ends a session. Unknown sessions are ignored.
func (m *SessionManager) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Seal returns the cookie value for sessionID. The cookie stops verifying
// at expiresAt even if the session lives on.
func (m *SessionManager) Seal(sessionID string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    m.issuer,
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(m.clock.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("failed to seal session cookie: %w", err)
	}
	return signed, nil
}

// Open verifies a cookie value and returns the session id it carries.
func (m *SessionManager) Open(cookie string) (string, error) {
	if cookie == "" {
		return "", ErrInvalidSessionCookie
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)

	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(cookie, claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSessionCookie, err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: missing session id", ErrInvalidSessionCookie)
	}
	return claims.ID, nil
}

package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/workspace-sso/instrumentation"
	"github.com/giantswarm/workspace-sso/internal/util"
	"github.com/giantswarm/workspace-sso/security"
	"github.com/giantswarm/workspace-sso/storage"
)

const (
	// dummySecretHash is compared against when a client is unknown or has
	// no secret, so ValidateClientSecret always pays for one bcrypt run.
	dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	// DefaultRevokedGroupRetention is how long a revoked rotation group is
	// remembered after revocation.
	DefaultRevokedGroupRetention = 30 * 24 * time.Hour
)

type rotationGroup struct {
	members   map[string]struct{}
	revoked   bool
	revokedAt time.Time
}

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	codes         map[string]*storage.AuthorizationCode
	refreshTokens map[string]*storage.RefreshToken
	groups        map[string]*rotationGroup
	sessions      map[string]*storage.Session

	clock security.Clock

	// swapped by SetInstrumentation while operations may be running
	telemetry atomic.Pointer[storeTelemetry]

	// read by metric callbacks without taking mu
	clientsCount  atomic.Int64
	codesCount    atomic.Int64
	refreshCount  atomic.Int64
	groupsCount   atomic.Int64
	sessionsCount atomic.Int64

	cleanupInterval       time.Duration
	revokedGroupRetention time.Duration
	stopCleanup           chan struct{}
	stopOnce              sync.Once
	logger                *slog.Logger
}

var (
	_ storage.ClientStore       = (*Store)(nil)
	_ storage.CodeStore         = (*Store)(nil)
	_ storage.RefreshTokenStore = (*Store)(nil)
	_ storage.SessionStore      = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:               make(map[string]*storage.Client),
		codes:                 make(map[string]*storage.AuthorizationCode),
		refreshTokens:         make(map[string]*storage.RefreshToken),
		groups:                make(map[string]*rotationGroup),
		sessions:              make(map[string]*storage.Session),
		clock:                 security.SystemClock(),
		cleanupInterval:       cleanupInterval,
		revokedGroupRetention: DefaultRevokedGroupRetention,
		stopCleanup:           make(chan struct{}),
		logger:                slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the time source used for expiry decisions.
func (s *Store) SetClock(clock security.Clock) {
	if clock == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// SetRevokedGroupRetention sets how long revoked rotation groups are kept
// after they become empty. Tokens can't join a group while it is remembered.
func (s *Store) SetRevokedGroupRetention(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.revokedGroupRetention = d
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		s.telemetry.Store(nil)
		return
	}
	s.telemetry.Store(&storeTelemetry{inst: inst, tracer: inst.Tracer("storage")})

	s.mu.Lock()
	s.updateCounts()
	s.mu.Unlock()

	err := inst.RegisterStorageSizeCallbacks(instrumentation.StorageSizeCallbacks{
		Clients:        s.clientsCount.Load,
		Codes:          s.codesCount.Load,
		RefreshTokens:  s.refreshCount.Load,
		RotationGroups: s.groupsCount.Load,
		Sessions:       s.sessionsCount.Load,
	})
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// updateCounts refreshes the gauge counters. Caller holds mu.
func (s *Store) updateCounts() {
	s.clientsCount.Store(int64(len(s.clients)))
	s.codesCount.Store(int64(len(s.codes)))
	s.refreshCount.Store(int64(len(s.refreshTokens)))
	s.groupsCount.Store(int64(len(s.groups)))
	s.sessionsCount.Store(int64(len(s.sessions)))
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient stores a client, replacing any client with the same id.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_client", &err, time.Now())

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client: client_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[client.ClientID] = copyClient(client)
	s.updateCounts()

	s.logger.Debug("Saved client", "client_id", client.ClientID, "client_type", client.ClientType)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (client *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "get_client", &err, time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return copyClient(c), nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, secret string) error {
	s.mu.RLock()
	c, ok := s.clients[clientID]
	hash := dummySecretHash
	if ok && c.ClientSecretHash != "" {
		hash = c.ClientSecretHash
	}
	s.mu.RUnlock()

	compareErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if !ok || hash == dummySecretHash || compareErr != nil {
		return storage.ErrInvalidClientCredentials
	}
	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(_ context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, copyClient(c))
	}
	return clients, nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode stores a newly issued code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_code")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_code", &err, time.Now())

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return fmt.Errorf("authorization code already exists")
	}
	cp := *code
	s.codes[code.Code] = &cp
	s.updateCounts()
	return nil
}

// ConsumeAuthorizationCode atomically checks and marks a code used.
// The record is returned only on success or on reuse; a missing or
// expired code yields no data.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (rec *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_code")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "consume_code", &err, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if security.IsExpired(s.clock.Now(), stored.ExpiresAt) {
		return nil, storage.ErrAuthorizationCodeExpired
	}
	if stored.Used {
		cp := *stored
		return &cp, storage.ErrAuthorizationCodeUsed
	}

	stored.Used = true
	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, util.TokenLogPrefixLength))

	cp := *stored
	return &cp, nil
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// SaveRefreshToken stores token as a member of its rotation group.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_refresh_token", &err, time.Now())

	if token == nil || token.Token == "" || token.RotationGroupID == "" {
		return fmt.Errorf("invalid refresh token: token and rotation group are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.groups[token.RotationGroupID]; ok && g.revoked {
		return storage.ErrRotationGroupRevoked
	}
	if _, exists := s.refreshTokens[token.Token]; exists {
		return fmt.Errorf("refresh token already exists")
	}

	s.insertRefreshToken(token)
	return nil
}

// insertRefreshToken stores a copy of token and links it to its group.
// Caller holds mu.
func (s *Store) insertRefreshToken(token *storage.RefreshToken) {
	cp := *token
	s.refreshTokens[cp.Token] = &cp

	g, ok := s.groups[cp.RotationGroupID]
	if !ok {
		g = &rotationGroup{members: make(map[string]struct{})}
		s.groups[cp.RotationGroupID] = g
	}
	g.members[cp.Token] = struct{}{}
	s.updateCounts()
}

// GetRefreshToken returns a stored refresh token.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (rec *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_refresh_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "get_refresh_token", &err, time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrRefreshTokenNotFound
	}
	cp := *stored
	return &cp, nil
}

// RotateRefreshToken redeems presented and stores next in the same group.
func (s *Store) RotateRefreshToken(ctx context.Context, presented, clientID string, next *storage.RefreshToken) (rec *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "rotate_refresh_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "rotate_refresh_token", &err, time.Now())

	if next == nil || next.Token == "" {
		return nil, fmt.Errorf("replacement refresh token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	stored, ok := s.refreshTokens[presented]
	if !ok {
		return nil, storage.ErrRefreshTokenNotFound
	}
	if security.IsExpired(now, stored.ExpiresAt) {
		return nil, storage.ErrRefreshTokenExpired
	}
	if stored.ClientID != clientID {
		return nil, storage.ErrRefreshTokenClientMismatch
	}

	group := s.groups[stored.RotationGroupID]
	if group != nil && group.revoked {
		return nil, storage.ErrRotationGroupRevoked
	}

	if stored.Revoked {
		revoked := s.revokeGroupLocked(stored.RotationGroupID, now)
		s.logger.Warn("Rotated refresh token presented again, rotation group revoked",
			"client_id", clientID,
			"generation", stored.Generation,
			"tokens_revoked", revoked)
		cp := *stored
		return &cp, &storage.ReuseError{Revoked: revoked}
	}

	if _, exists := s.refreshTokens[next.Token]; exists {
		return nil, fmt.Errorf("replacement refresh token already exists")
	}

	stored.Revoked = true
	stored.RevokedAt = now

	next.UserID = stored.UserID
	next.ClientID = stored.ClientID
	next.Scope = stored.Scope
	next.RotationGroupID = stored.RotationGroupID
	next.Generation = stored.Generation + 1
	next.AuthTime = stored.AuthTime
	next.Revoked = false
	next.RevokedAt = time.Time{}
	s.insertRefreshToken(next)

	cp := *stored
	return &cp, nil
}

// RevokeRotationGroup revokes every token of a group.
func (s *Store) RevokeRotationGroup(ctx context.Context, groupID string) (n int, err error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_rotation_group")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "revoke_rotation_group", &err, time.Now())

	if groupID == "" {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revokeGroupLocked(groupID, s.clock.Now()), nil
}

// revokeGroupLocked marks a group and its members revoked. A group nobody
// has joined yet is left untouched. Caller holds mu.
func (s *Store) revokeGroupLocked(groupID string, now time.Time) int {
	g, ok := s.groups[groupID]
	if !ok {
		return 0
	}
	if !g.revoked {
		g.revoked = true
		g.revokedAt = now
	}

	revoked := 0
	for token := range g.members {
		rt, ok := s.refreshTokens[token]
		if !ok || rt.Revoked {
			continue
		}
		rt.Revoked = true
		rt.RevokedAt = now
		revoked++
	}
	s.updateCounts()
	return revoked
}

// ============================================================
// SessionStore Implementation
// ============================================================

// SaveSession stores a new session.
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_session")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_session", &err, time.Now())

	if session == nil || session.SessionID == "" {
		return fmt.Errorf("invalid session: session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.SessionID] = copySession(session)
	s.updateCounts()
	return nil
}

// TouchSession validates a session and slides its expiry.
func (s *Store) TouchSession(ctx context.Context, sessionID string, slidingTTL time.Duration) (rec *storage.Session, err error) {
	ctx, span := s.startStorageSpan(ctx, "touch_session")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "touch_session", &err, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}

	now := s.clock.Now()
	if security.IsExpired(now, stored.ExpiresAt) {
		delete(s.sessions, sessionID)
		s.updateCounts()
		return nil, storage.ErrSessionExpired
	}

	stored.ExpiresAt = stored.SlideExpiry(now, slidingTTL)
	return copySession(stored), nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_session")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "delete_session", &err, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	s.updateCounts()
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup drops expired records. Consumed codes and rotated refresh tokens
// are kept until they expire so replays are still recognised.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var codes, tokens, groups, sessions int

	for k, c := range s.codes {
		if security.IsExpired(now, c.ExpiresAt) {
			delete(s.codes, k)
			codes++
		}
	}

	for k, rt := range s.refreshTokens {
		if !security.IsExpired(now, rt.ExpiresAt) {
			continue
		}
		delete(s.refreshTokens, k)
		if g, ok := s.groups[rt.RotationGroupID]; ok {
			delete(g.members, k)
		}
		tokens++
	}

	for id, g := range s.groups {
		if len(g.members) > 0 {
			continue
		}
		if g.revoked && now.Sub(g.revokedAt) < s.revokedGroupRetention {
			continue
		}
		delete(s.groups, id)
		groups++
	}

	for k, sess := range s.sessions {
		if security.IsExpired(now, sess.ExpiresAt) {
			delete(s.sessions, k)
			sessions++
		}
	}

	s.updateCounts()

	if codes+tokens+groups+sessions > 0 {
		s.logger.Debug("Cleaned up expired records",
			"codes", codes,
			"refresh_tokens", tokens,
			"rotation_groups", groups,
			"sessions", sessions)
	}
}

// ============================================================
// Helpers
// ============================================================

func copyClient(c *storage.Client) *storage.Client {
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.Scopes = append([]string(nil), c.Scopes...)
	return &cp
}

func copySession(sess *storage.Session) *storage.Session {
	cp := *sess
	if sess.Profile != nil {
		p := *sess.Profile
		if sess.Profile.EmailVerified != nil {
			v := *sess.Profile.EmailVerified
			p.EmailVerified = &v
		}
		cp.Profile = &p
	}
	return &cp
}

type storeTelemetry struct {
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer
}

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	t := s.telemetry.Load()
	if t == nil {
		return ctx, tracenoop.Span{}
	}

	return t.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status.
// Expected outcomes such as "not found" count as errors in metrics, like any
// other failed lookup.
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, errp *error, start time.Time) {
	t := s.telemetry.Load()
	if t == nil {
		return
	}

	result := "success"
	if *errp != nil {
		result = "error"
		instrumentation.RecordError(span, *errp)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	durationMs := float64(time.Since(start).Microseconds()) / 1000.0
	t.inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}

package storage

import (
	"context"
	"time"

	"github.com/giantswarm/workspace-sso/identity"
)

// Client types.
const (
	ClientTypeConfidential = "confidential"
	ClientTypePublic       = "public"
)

// ClientStore holds the registered relying parties.
// Clients are written at provisioning time and read-only afterwards.
type ClientStore interface {
	// SaveClient stores a client, replacing one with the same id.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient returns ErrClientNotFound for unknown ids.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret compares secret with the stored bcrypt hash.
	// Unknown clients are compared against a dummy hash so the call takes
	// the same time either way; both failures return ErrInvalidClientCredentials.
	ValidateClientSecret(ctx context.Context, clientID, secret string) error

	// ListClients returns every registered client.
	ListClients(ctx context.Context) ([]*Client, error)
}

// CodeStore holds authorization codes.
type CodeStore interface {
	// SaveAuthorizationCode stores a freshly issued code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode looks the code up, checks expiry and marks it
	// used as one atomic step. Exactly one of any number of concurrent calls
	// for the same code succeeds.
	//
	// Errors: ErrAuthorizationCodeNotFound, ErrAuthorizationCodeExpired, or
	// ErrAuthorizationCodeUsed. With ErrAuthorizationCodeUsed the stored
	// record is returned too, so the caller can revoke what the first
	// redemption produced. The record is nil when the stored payload can
	// no longer be read, for example after an encryption key change.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// RefreshTokenStore holds refresh tokens and their rotation groups.
type RefreshTokenStore interface {
	// SaveRefreshToken stores a token as a member of token.RotationGroupID.
	// It fails with ErrRotationGroupRevoked when the group has been revoked.
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken returns a stored token without changing it.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// RotateRefreshToken redeems presented and stores next in its place, as
	// one atomic step. The store copies the user, client, scope, group and
	// auth time of the presented token into next and sets
	// next.Generation to the presented generation plus one; the caller only
	// supplies next.Token, next.IssuedAt and next.ExpiresAt.
	//
	// Outcomes:
	//   - ErrRefreshTokenNotFound, ErrRefreshTokenExpired or
	//     ErrRefreshTokenClientMismatch: nothing changes
	//   - ErrRotationGroupRevoked: nothing changes
	//   - ErrRefreshTokenReused: the presented token was already rotated;
	//     the whole group has been revoked and the presented record is
	//     returned for auditing
	//   - nil: the presented record (now revoked) is returned and next has
	//     been stored
	RotateRefreshToken(ctx context.Context, presented, clientID string, next *RefreshToken) (*RefreshToken, error)

	// RevokeRotationGroup revokes every token of a group and blocks new
	// tokens from joining it. It returns how many tokens went from active
	// to revoked. A group with no members is left untouched and later saves
	// into it succeed.
	RevokeRotationGroup(ctx context.Context, groupID string) (int, error)
}

// SessionStore holds SSO sessions.
type SessionStore interface {
	// SaveSession stores a new session.
	SaveSession(ctx context.Context, session *Session) error

	// TouchSession validates a session and slides its expiry as one atomic
	// step: a live session gets ExpiresAt = min(now+slidingTTL,
	// AbsoluteExpiresAt). An expired session is deleted and
	// ErrSessionExpired returned; it can never be revived.
	TouchSession(ctx context.Context, sessionID string, slidingTTL time.Duration) (*Session, error)

	// DeleteSession removes a session. Deleting an unknown session is not
	// an error.
	DeleteSession(ctx context.Context, sessionID string) error
}

// Client is a registered relying party.
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt; empty for public clients
	ClientName       string
	ClientType       string // ClientTypeConfidential or ClientTypePublic

	// RedirectURIs is compared by exact string match only.
	RedirectURIs []string

	// Scopes optionally narrows what the client may request. Empty means
	// every scope the server supports.
	Scopes []string

	CreatedAt time.Time
}

// IsPublic reports whether the client cannot keep a secret.
func (c *Client) IsPublic() bool {
	return c.ClientType == ClientTypePublic
}

// AuthorizationCode is a single-use code bound to one client, redirect
// URI and PKCE challenge.
type AuthorizationCode struct {
	Code                string
	UserID              string
	ClientID            string
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string

	// AuthTime is when the user last actively authenticated.
	AuthTime time.Time

	// GrantID names the refresh rotation group the first redemption starts,
	// so a replayed code can revoke it.
	GrantID string

	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// RefreshToken is one member of a rotation group.
type RefreshToken struct {
	Token           string
	UserID          string
	ClientID        string
	Scope           string
	RotationGroupID string
	Generation      int
	AuthTime        time.Time
	IssuedAt        time.Time
	ExpiresAt       time.Time
	Revoked         bool
	RevokedAt       time.Time
}

// Session is a browser's SSO session.
type Session struct {
	SessionID string
	UserID    string

	// Profile is the directory profile cached at login.
	Profile *identity.UserInfo

	AuthTime          time.Time
	CreatedAt         time.Time
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
}

// SlideExpiry returns the expiry a touch at now gives s.
func (s *Session) SlideExpiry(now time.Time, slidingTTL time.Duration) time.Time {
	next := now.Add(slidingTTL)
	if next.After(s.AbsoluteExpiresAt) {
		return s.AbsoluteExpiresAt
	}
	return next
}

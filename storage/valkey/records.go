package valkey

import (
	"time"

	"github.com/giantswarm/workspace-sso/identity"
	"github.com/giantswarm/workspace-sso/storage"
)

// Timestamps are stored as unix milliseconds; 0 means unset.

type clientJSON struct {
	ClientID         string   `json:"client_id"`
	ClientSecretHash string   `json:"client_secret_hash,omitempty"`
	ClientName       string   `json:"client_name,omitempty"`
	ClientType       string   `json:"client_type"`
	RedirectURIs     []string `json:"redirect_uris"`
	Scopes           []string `json:"scopes,omitempty"`
	CreatedAt        int64    `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:         c.ClientID,
		ClientSecretHash: c.ClientSecretHash,
		ClientName:       c.ClientName,
		ClientType:       c.ClientType,
		RedirectURIs:     c.RedirectURIs,
		Scopes:           c.Scopes,
		CreatedAt:        toMillis(c.CreatedAt),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ClientID:         j.ClientID,
		ClientSecretHash: j.ClientSecretHash,
		ClientName:       j.ClientName,
		ClientType:       j.ClientType,
		RedirectURIs:     j.RedirectURIs,
		Scopes:           j.Scopes,
		CreatedAt:        fromMillis(j.CreatedAt),
	}
}

// authorizationCodeJSON is the immutable part of a code; "used" is a
// separate hash field.
type authorizationCodeJSON struct {
	Code                string `json:"code"`
	UserID              string `json:"user_id"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope,omitempty"`
	Nonce               string `json:"nonce,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	AuthTime            int64  `json:"auth_time"`
	GrantID             string `json:"grant_id"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
}

func toAuthorizationCodeJSON(c *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                c.Code,
		UserID:              c.UserID,
		ClientID:            c.ClientID,
		RedirectURI:         c.RedirectURI,
		Scope:               c.Scope,
		Nonce:               c.Nonce,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		AuthTime:            toMillis(c.AuthTime),
		GrantID:             c.GrantID,
		CreatedAt:           toMillis(c.CreatedAt),
		ExpiresAt:           toMillis(c.ExpiresAt),
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                j.Code,
		UserID:              j.UserID,
		ClientID:            j.ClientID,
		RedirectURI:         j.RedirectURI,
		Scope:               j.Scope,
		Nonce:               j.Nonce,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		AuthTime:            fromMillis(j.AuthTime),
		GrantID:             j.GrantID,
		CreatedAt:           fromMillis(j.CreatedAt),
		ExpiresAt:           fromMillis(j.ExpiresAt),
	}
}

// refreshTokenJSON is the immutable part of a refresh token; revocation
// is tracked in the "revoked_at" hash field.
type refreshTokenJSON struct {
	Token           string `json:"token"`
	UserID          string `json:"user_id"`
	ClientID        string `json:"client_id"`
	Scope           string `json:"scope,omitempty"`
	RotationGroupID string `json:"rotation_group_id"`
	Generation      int    `json:"generation"`
	AuthTime        int64  `json:"auth_time"`
	IssuedAt        int64  `json:"issued_at"`
	ExpiresAt       int64  `json:"expires_at"`
}

func toRefreshTokenJSON(t *storage.RefreshToken) *refreshTokenJSON {
	return &refreshTokenJSON{
		Token:           t.Token,
		UserID:          t.UserID,
		ClientID:        t.ClientID,
		Scope:           t.Scope,
		RotationGroupID: t.RotationGroupID,
		Generation:      t.Generation,
		AuthTime:        toMillis(t.AuthTime),
		IssuedAt:        toMillis(t.IssuedAt),
		ExpiresAt:       toMillis(t.ExpiresAt),
	}
}

func fromRefreshTokenJSON(j *refreshTokenJSON, revokedAt int64) *storage.RefreshToken {
	return &storage.RefreshToken{
		Token:           j.Token,
		UserID:          j.UserID,
		ClientID:        j.ClientID,
		Scope:           j.Scope,
		RotationGroupID: j.RotationGroupID,
		Generation:      j.Generation,
		AuthTime:        fromMillis(j.AuthTime),
		IssuedAt:        fromMillis(j.IssuedAt),
		ExpiresAt:       fromMillis(j.ExpiresAt),
		Revoked:         revokedAt != 0,
		RevokedAt:       fromMillis(revokedAt),
	}
}

type userInfoJSON struct {
	ID                string `json:"id"`
	Email             string `json:"email,omitempty"`
	EmailVerified     *bool  `json:"email_verified,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// sessionJSON is the immutable part of a session; the sliding expiry is
// the "expires_at" hash field.
type sessionJSON struct {
	SessionID         string        `json:"session_id"`
	UserID            string        `json:"user_id"`
	Profile           *userInfoJSON `json:"profile,omitempty"`
	AuthTime          int64         `json:"auth_time"`
	CreatedAt         int64         `json:"created_at"`
	AbsoluteExpiresAt int64         `json:"absolute_expires_at"`
}

func toSessionJSON(s *storage.Session) *sessionJSON {
	j := &sessionJSON{
		SessionID:         s.SessionID,
		UserID:            s.UserID,
		AuthTime:          toMillis(s.AuthTime),
		CreatedAt:         toMillis(s.CreatedAt),
		AbsoluteExpiresAt: toMillis(s.AbsoluteExpiresAt),
	}
	if p := s.Profile; p != nil {
		j.Profile = &userInfoJSON{
			ID:                p.ID,
			Email:             p.Email,
			EmailVerified:     p.EmailVerified,
			Name:              p.Name,
			PreferredUsername: p.PreferredUsername,
		}
	}
	return j
}

func fromSessionJSON(j *sessionJSON, expiresAt int64) *storage.Session {
	s := &storage.Session{
		SessionID:         j.SessionID,
		UserID:            j.UserID,
		AuthTime:          fromMillis(j.AuthTime),
		CreatedAt:         fromMillis(j.CreatedAt),
		ExpiresAt:         fromMillis(expiresAt),
		AbsoluteExpiresAt: fromMillis(j.AbsoluteExpiresAt),
	}
	if p := j.Profile; p != nil {
		s.Profile = &identity.UserInfo{
			ID:                p.ID,
			Email:             p.Email,
			EmailVerified:     p.EmailVerified,
			Name:              p.Name,
			PreferredUsername: p.PreferredUsername,
		}
	}
	return s
}

// expiryField formats an expiry for a hash field.
func expiryField(t time.Time) string {
	return millisArg(t)
}

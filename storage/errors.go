package storage

import "errors"

// Sentinel errors returned by every store implementation.
var (
	ErrClientNotFound           = errors.New("client not found")
	ErrInvalidClientCredentials = errors.New("invalid client credentials")

	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrAuthorizationCodeExpired  = errors.New("authorization code expired")
	ErrAuthorizationCodeUsed     = errors.New("authorization code already used")

	ErrRefreshTokenNotFound       = errors.New("refresh token not found")
	ErrRefreshTokenExpired        = errors.New("refresh token expired")
	ErrRefreshTokenClientMismatch = errors.New("refresh token issued to another client")
	ErrRefreshTokenReused         = errors.New("refresh token reused")
	ErrRotationGroupRevoked       = errors.New("refresh token rotation group revoked")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// ReuseError is returned by RotateRefreshToken when a rotated token is
// presented again. It matches ErrRefreshTokenReused and reports how many
// tokens the store revoked in response.
type ReuseError struct {
	Revoked int
}

func (e *ReuseError) Error() string {
	return ErrRefreshTokenReused.Error()
}

func (e *ReuseError) Unwrap() error {
	return ErrRefreshTokenReused
}

// Package server implements the SSO authorization server logic.
//
// The Server type coordinates a set of small components:
//   - ClientRegistry resolves and authenticates relying parties
//   - CodeIssuer issues single-use authorization codes bound to PKCE
//   - TokenIssuer signs RS256 access and ID tokens and verifies them
//   - RefreshTokens rotates refresh tokens within rotation groups
//   - SessionManager keeps the browser's SSO session and its cookie
//   - Discovery publishes provider metadata and the JWKS
//
// Every state change on codes, refresh tokens and sessions happens in a
// single check-and-mutate call on the storage interfaces, so concurrent
// redemptions of one code or one refresh token have exactly one winner.
//
// Errors returned by this package are the sentinels in errors.go; the root
// package maps them to OAuth error responses.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(server.Stores{
//	    Clients:       store,
//	    Codes:         store,
//	    RefreshTokens: store,
//	    Sessions:      store,
//	}, keyProvider, directory, &server.Config{
//	    Issuer:     "https://sso.example.com",
//	    SessionKey: sessionKey,
//	}, logger)
package server

// Package testutil provides fixtures shared by the SSO tests: a
// controllable clock, cached RSA keys and PKCE helpers.
package testutil

// Package util holds small helpers shared across the SSO packages:
// log-safe truncation of secrets and OAuth scope string handling.
package util

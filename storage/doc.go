// Package storage defines the persistence contracts of the SSO server and
// the records it keeps: clients, authorization codes, refresh tokens
// grouped for rotation, and SSO sessions.
//
// Every state transition a request can race on is a single store call:
// ConsumeAuthorizationCode, RotateRefreshToken, RevokeRotationGroup and
// TouchSession. Stores expose no separate read-then-write path for these
// records.
//
// Implementations:
//   - storage/memory: in-process maps behind one lock, for single-instance
//     deployments and tests
//   - storage/valkey: Valkey/Redis-compatible shared store where each atomic
//     operation is a Lua script
package storage

// Package valkey provides a Valkey storage backend for the SSO server.
//
// Valkey is wire-compatible with Redis. Use this backend when more than one
// server replica shares state, or when sessions and refresh tokens must
// survive a restart.
//
// # Key Schema
//
// All keys use a configurable prefix (default "sso:"):
//
//	{prefix}client:{clientID}          -> JSON(Client)
//	{prefix}code:{code}                -> HASH data, expires_at, used
//	{prefix}refresh:{token}            -> HASH data, client_id, expires_at, revoked_at
//	{prefix}group:{groupID}            -> SET of refresh token keys
//	{prefix}group:{groupID}:revoked    -> revocation marker (retention TTL)
//	{prefix}session:{sessionID}        -> HASH data, expires_at, absolute_expires_at
//
// Every key except clients carries a TTL matching the record's expiry, so
// Valkey removes dead records without a cleanup loop.
//
// # Atomic Operations
//
// Code redemption, refresh token rotation, rotation group revocation and
// session touch run as Lua scripts. Exactly one of any number of concurrent
// redemptions of the same code or refresh token succeeds, across replicas.
//
// The scripts reach rotation group members through keys stored in the
// group set, so the store needs a single Valkey node (or a primary with
// replicas), not a cluster.
//
// # Encryption at Rest
//
// With [Store.SetEncryptor] the "data" payload of codes, refresh tokens
// and sessions is sealed with AES-256-GCM. Sessions cache the user's
// profile, so enabling it is recommended.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "sso:",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package valkey

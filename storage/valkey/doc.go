// Package valkey provides a Valkey storage backend for access token
// revocations and server-side sessions.
//
// Valkey is wire-compatible with Redis. Every entry carries a TTL, so expired
// revocations and abandoned sessions disappear without a cleanup job, and
// several adapter instances can share one revocation list.
//
// # Implemented Interfaces
//
//   - [storage.RevocationStore]: revoked access token IDs
//   - [session.Backend]: session data for session.ServerStore
//   - [storage.Pinger]: connection health
//
// # Key Schema
//
// All keys use a configurable prefix (default "identity:"):
//
//	{prefix}revoked_token:{jti}   -> "1" (TTL = remaining token lifetime)
//	{prefix}session:{id}          -> session JSON, optionally sealed (TTL = session max age)
//
// # Encryption
//
// With SetEncryptor, session payloads are sealed with AES-256-GCM and bound
// to their session ID as additional data.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{Address: "localhost:6379"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package valkey

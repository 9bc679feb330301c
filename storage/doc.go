// Package storage provides the persistence interfaces and shared types of the
// identity adapter.
//
// Interfaces:
//   - UserStore: users upserted from provider profiles
//   - GraphStore / GroupAdmin: the group dependency graph and scope grants
//   - RefreshTokenStore: hashed refresh credentials with atomic rotation
//   - RevocationStore: revoked access token IDs, kept until expiry
//   - Pinger: backend health for /health
//
// Implementations are provided in subpackages:
//   - storage/sqlite: the relational store, with embedded migrations
//   - storage/memory: in-memory storage for development and testing
//   - storage/valkey: revocations and server-side sessions in Valkey
//   - storage/mock: function-field mocks for unit testing
package storage

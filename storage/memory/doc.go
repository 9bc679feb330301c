// Package memory provides an in-memory implementation of the storage interfaces.
//
// Maps guarded by a sync.RWMutex hold users, the group graph and refresh
// tokens. Refresh token rotation happens under the write lock, which makes it
// an atomic compare-and-swap: of two concurrent rotations of the same token
// exactly one succeeds.
//
// Features:
//   - Background cleanup of expired refresh tokens and access token revocations
//   - Storage size gauges and per-operation spans when instrumentation is set
//   - An injectable clock for tests
//
// Nothing survives a restart. For persistent deployments use storage/sqlite.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
package memory

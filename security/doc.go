// Package security provides the security primitives shared by the identity
// adapter: audit logging with hashed identifiers, per-IP rate limiting,
// response hardening headers, request correlation IDs, client address
// extraction, session encryption and credential generation/hashing.
//
// # Credentials
//
// GenerateToken returns URL-safe random strings backed by crypto/rand. Refresh
// credentials use 48 bytes of entropy; only HashToken(raw), a lowercase sha256
// hex digest, is ever persisted.
//
// # Session encryption
//
// Session cookies are sealed with AES-256-GCM. The 32-byte key is derived from
// the operator-supplied SESSION_SECRET with HKDF-SHA256 (DeriveKey), so the
// secret may be any length and rotating it invalidates every outstanding
// session.
//
// # Rate Limiting
//
// RateLimiter is a token bucket per client IP with LRU eviction so that a
// distributed attack cannot grow memory without bound.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//	mux.Handle("/auth/", limiter.Middleware(clientIP, authHandler))
package security

// Package token issues and verifies the adapter's HS256 access tokens.
//
// A token snapshots the user's profile, groups and scopes at issue time and
// carries a random jti, which logout uses to revoke it before expiry.
//
// Verification pins the algorithm to HS256, requires exp, checks iss when an
// issuer is configured, and maps failures to Unauthorized API errors:
//
//   - INVALID_TOKEN: bad signature, algorithm, or payload
//   - TOKEN_EXPIRED
//   - INVALID_ISSUER
//   - TOKEN_NOT_YET_VALID
//
// Tokens travel as "Authorization: Bearer" headers or in the cookie described
// by CookieConfig.
package token

// Package authn authenticates API requests with the adapter's access tokens.
//
// The credential is read from "Authorization: Bearer <token>" first and from
// the access token cookie second. A verified token whose jti is on the
// revocation list is rejected with TOKEN_REVOKED. Verified claims are stored
// in the request context; handlers read them with ClaimsFromContext.
//
// Public paths match on whole segments: "/auth" covers "/auth/github" but
// not "/authors". Trailing slashes are ignored.
package authn

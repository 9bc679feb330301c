package security

// Event type constants for security audit logging.
const (
	// Login flow events

	// EventLoginStarted is logged when a user is sent to the provider's authorize endpoint
	EventLoginStarted = "login_started"

	// EventLoginSucceeded is logged when the callback completes and credentials are issued
	EventLoginSucceeded = "login_succeeded"

	// EventLoginFailed is logged when the provider reports an error or the exchange fails
	EventLoginFailed = "login_failed"

	// EventStateVerificationFailed is logged when the CSRF state is missing, mismatched or expired
	EventStateVerificationFailed = "state_verification_failed"

	// EventInvalidRedirect is logged when a caller supplies a redirect target that is rejected
	EventInvalidRedirect = "invalid_redirect"

	// Credential lifecycle events

	// EventTokenIssued is logged when a new access token is signed
	EventTokenIssued = "token_issued"

	// EventRefreshTokenRotated is logged when a refresh token is exchanged for a new one
	EventRefreshTokenRotated = "refresh_token_rotated" //nolint:gosec // G101: event name, not a credential

	// EventRefreshTokenReuseDetected is logged when an already rotated refresh token is presented
	EventRefreshTokenReuseDetected = "refresh_token_reuse_detected" //nolint:gosec // G101: event name, not a credential

	// EventTokenRevoked is logged when a single credential is revoked
	EventTokenRevoked = "token_revoked"

	// EventAllTokensRevoked is logged when every refresh token of a user is revoked
	EventAllTokensRevoked = "all_tokens_revoked" //nolint:gosec // G101: event name, not a credential

	// EventLogout is logged when a session is terminated
	EventLogout = "logout"

	// Request authentication events

	// EventAuthFailure is logged when a protected request is rejected
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a client exceeds its request budget
	EventRateLimitExceeded = "rate_limit_exceeded"
)

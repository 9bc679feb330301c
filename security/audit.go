package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes security events to a structured logger. User identifiers
// are hashed before logging.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	now     func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	Provider  string
	IPAddress string
	RequestID string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with the user ID hashed
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"provider", event.Provider,
		"ip_address", event.IPAddress,
		"request_id", event.RequestID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogLoginSucceeded records a completed provider login
func (a *Auditor) LogLoginSucceeded(userID, provider, ipAddress string, scopes []string) {
	a.LogEvent(Event{
		Type:      EventLoginSucceeded,
		UserID:    userID,
		Provider:  provider,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope_count": len(scopes),
		},
	})
}

// LogLoginFailed records a login that the provider or the exchange rejected
func (a *Auditor) LogLoginFailed(provider, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventLoginFailed,
		Provider:  provider,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogStateFailure records a CSRF state verification failure
func (a *Auditor) LogStateFailure(provider, ipAddress, identifier string) {
	a.LogEvent(Event{
		Type:      EventStateVerificationFailed,
		Provider:  provider,
		IPAddress: ipAddress,
		Details: map[string]any{
			"identifier": identifier,
		},
	})
}

// LogRefreshRotated records a successful refresh token rotation
func (a *Auditor) LogRefreshRotated(userID, provider, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRefreshTokenRotated,
		UserID:    userID,
		Provider:  provider,
		IPAddress: ipAddress,
	})
}

// LogRefreshReuse records presentation of a refresh token that was already rotated.
// revoked is the number of live tokens revoked in response.
func (a *Auditor) LogRefreshReuse(userID, provider, ipAddress string, revoked int64) {
	a.LogEvent(Event{
		Type:      EventRefreshTokenReuseDetected,
		UserID:    userID,
		Provider:  provider,
		IPAddress: ipAddress,
		Details: map[string]any{
			"severity":       "critical",
			"tokens_revoked": revoked,
		},
	})
}

// LogTokenRevoked records the revocation of a single credential
func (a *Auditor) LogTokenRevoked(userID, ipAddress, tokenType string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		UserID:    userID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogLogout records a terminated session
func (a *Auditor) LogLogout(userID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventLogout,
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure records a rejected protected request
func (a *Auditor) LogAuthFailure(ipAddress, path, identifier string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		IPAddress: ipAddress,
		Details: map[string]any{
			"path":       path,
			"identifier": identifier,
		},
	})
}

// LogRateLimitExceeded records a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}

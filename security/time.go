package security

import "time"

// DefaultClockSkewGracePeriod tolerates small clock drift between this
// service and its clients when checking expiry.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether expiresAt is more than grace before now.
// A zero expiresAt never expires.
func IsExpired(now, expiresAt time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(grace))
}

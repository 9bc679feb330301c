package valkey

import (
	"context"
	"fmt"
	"time"
)

// Revoke records key as revoked. The entry expires with ttl, so revocations
// never outlive the token they block.
func (s *Store) Revoke(ctx context.Context, key string, ttl time.Duration) error {
	if err := validateLength(key, MaxKeyLength, "revocation key"); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	cmd := s.client.B().Set().Key(s.revokedKey(key)).Value("1").Ex(expiry(ttl)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether key is currently revoked.
func (s *Store) IsRevoked(ctx context.Context, key string) (bool, error) {
	if err := validateLength(key, MaxKeyLength, "revocation key"); err != nil {
		return false, err
	}

	n, err := s.client.Do(ctx, s.client.B().Exists().Key(s.revokedKey(key)).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return n > 0, nil
}

// RevokeOnce records key with SET NX, so only the first caller wins.
func (s *Store) RevokeOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validateLength(key, MaxKeyLength, "revocation key"); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, fmt.Errorf("revocation ttl must be positive")
	}

	cmd := s.client.B().Set().Key(s.revokedKey(key)).Value("1").Nx().Ex(expiry(ttl)).Build()
	err := s.client.Do(ctx, cmd).Error()
	if isNilError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	return true, nil
}

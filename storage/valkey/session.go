package valkey

import (
	"context"
	"fmt"
	"time"
)

// LoadSession implements session.Backend.
func (s *Store) LoadSession(ctx context.Context, id string) ([]byte, error) {
	if err := validateLength(id, MaxKeyLength, "session ID"); err != nil {
		return nil, err
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.sessionKey(id)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if enc := s.getEncryptor(); enc != nil {
		plain, err := enc.Open(data, []byte(id))
		if err != nil {
			// Unreadable data is treated as a missing session.
			s.logger.Warn("Discarding undecryptable session", "error", err)
			return nil, nil
		}
		return plain, nil
	}
	return []byte(data), nil
}

// SaveSession implements session.Backend.
func (s *Store) SaveSession(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	if err := validateLength(id, MaxKeyLength, "session ID"); err != nil {
		return err
	}
	if len(data) > MaxSessionDataSize {
		return fmt.Errorf("session data: %w", errInputTooLarge)
	}

	value := string(data)
	if enc := s.getEncryptor(); enc != nil {
		sealed, err := enc.Seal(data, []byte(id))
		if err != nil {
			return fmt.Errorf("failed to encrypt session: %w", err)
		}
		value = sealed
	}

	cmd := s.client.B().Set().Key(s.sessionKey(id)).Value(value).Ex(expiry(ttl)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// DeleteSession implements session.Backend.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := validateLength(id, MaxKeyLength, "session ID"); err != nil {
		return err
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.sessionKey(id)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

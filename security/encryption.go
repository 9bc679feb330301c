package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the AES-256 key length.
const KeySize = 32

// ErrDecrypt is returned when a sealed value cannot be opened. Callers
// should treat it as "no value" rather than surface it.
var ErrDecrypt = errors.New("security: failed to decrypt value")

// Encryptor seals values with AES-256-GCM. Output is base64url of
// [nonce][ciphertext].
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an encryptor for a 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// NewEncryptorFromSecret derives a key from secret with DeriveKey.
func NewEncryptorFromSecret(secret, purpose string) (*Encryptor, error) {
	key, err := DeriveKey(secret, purpose)
	if err != nil {
		return nil, err
	}
	return NewEncryptor(key)
}

// DeriveKey derives a 32-byte key from an arbitrary-length secret using
// HKDF-SHA256. purpose separates keys derived from the same secret.
func DeriveKey(secret, purpose string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("secret must not be empty")
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("identity-adapter/"+purpose))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext. additionalData is authenticated but not encrypted;
// the same value must be supplied to Open.
func (e *Encryptor) Seal(plaintext, additionalData []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, plaintext, additionalData)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (e *Encryptor) Open(encoded string, additionalData []byte) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecrypt
	}
	n := e.aead.NonceSize()
	if len(raw) < n {
		return nil, ErrDecrypt
	}
	plaintext, err := e.aead.Open(nil, raw[:n], raw[n:], additionalData)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

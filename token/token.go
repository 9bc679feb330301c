package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/giantswarm/identity-adapter/apierror"
	"github.com/giantswarm/identity-adapter/authz"
)

// DefaultExpiry is the lifetime of an access token.
const DefaultExpiry = time.Hour

// Verification and configuration errors.
var (
	ErrConfiguration    = apierror.Internal("Authentication is not available. Please contact support.", "AUTH_CONFIGURATION_ERROR")
	ErrInvalidToken     = apierror.Unauthorized("The provided authentication token is invalid or expired.", "INVALID_TOKEN")
	ErrTokenExpired     = apierror.Unauthorized("Token expired", "TOKEN_EXPIRED")
	ErrInvalidIssuer    = apierror.Unauthorized("Invalid token issuer", "INVALID_ISSUER")
	ErrTokenNotYetValid = apierror.Unauthorized("Token not yet valid", "TOKEN_NOT_YET_VALID")
)

var errMissingSubject = errors.New("token has no subject")

// Claims is the payload of an access token.
type Claims struct {
	jwt.RegisteredClaims

	Provider    string   `json:"provider,omitempty"`
	Username    string   `json:"username,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
	Email       string   `json:"email,omitempty"`
	AvatarURL   string   `json:"avatarUrl,omitempty"`
	ProfileURL  string   `json:"profileUrl,omitempty"`
	Groups      []string `json:"groups"`
	Scopes      []string `json:"scopes"`
}

// HasScope reports whether the token grants key.
func (c *Claims) HasScope(key string) bool {
	for _, s := range c.Scopes {
		if s == key {
			return true
		}
	}
	return false
}

// RemainingLifetime returns how long the token stays valid after now.
func (c *Claims) RemainingLifetime(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Config configures an Issuer.
type Config struct {
	// Secret is the HS256 signing key. Required.
	Secret string

	// Issuer is the iss claim, typically the public API base URL.
	Issuer string

	// Expiry is the token lifetime (default: 1 hour).
	Expiry time.Duration

	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// Issuer signs and verifies access tokens. A nil *Issuer fails every call
// with ErrConfiguration.
type Issuer struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. It fails with ErrConfiguration when no secret is set.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, ErrConfiguration
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		expiry: expiry,
		now:    now,
	}, nil
}

// Expiry returns the configured token lifetime.
func (i *Issuer) Expiry() time.Duration {
	if i == nil {
		return DefaultExpiry
	}
	return i.expiry
}

// Issue signs a token carrying auth's user profile and entitlements.
func (i *Issuer) Issue(auth *authz.Authorization) (string, *Claims, error) {
	if i == nil {
		return "", nil, ErrConfiguration
	}
	if auth == nil || auth.User == nil {
		return "", nil, fmt.Errorf("authorization has no user")
	}

	user := auth.User
	now := i.now()
	displayName := user.DisplayName
	if displayName == "" {
		displayName = user.Username
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expiry)),
		},
		Provider:    user.Provider,
		Username:    user.Username,
		DisplayName: displayName,
		Email:       user.Email,
		AvatarURL:   user.AvatarURL,
		ProfileURL:  user.ProfileURL,
		Groups:      auth.GroupSlugs(),
		Scopes:      auth.ScopeKeys(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify parses raw and checks its signature, algorithm, issuer, and
// validity window. Failures map to the Unauthorized errors of this package.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	if i == nil {
		return nil, ErrConfiguration
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, mapVerifyError(err)
	}

	if claims.Subject == "" {
		return nil, ErrInvalidToken.Wrap(errMissingSubject)
	}
	return claims, nil
}

func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired.Wrap(err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrTokenNotYetValid.Wrap(err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrInvalidIssuer.Wrap(err)
	default:
		return ErrInvalidToken.Wrap(err)
	}
}

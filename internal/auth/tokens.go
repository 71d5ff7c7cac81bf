// Package auth issues and verifies the HS256 access tokens that admit
// connections to the chat hub. Tokens are self-contained: nothing is stored
// between issuance and verification.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/erilali/chathub/internal/identity"
	"github.com/erilali/chathub/internal/logger"
)

// MinKeyBytes is the shortest accepted signing key (128 bits).
const MinKeyBytes = 16

// DefaultTTL is the access token lifetime.
const DefaultTTL = 30 * 24 * time.Hour

var (
	// ErrInvalidCredentials is returned for unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrTokenRejected is returned for any token that fails verification.
	ErrTokenRejected = errors.New("token rejected")
)

// ConfigError reports signing configuration that must stop startup.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "auth: configuration error: " + e.Reason
}

// Keys is the shared signing configuration for Issuer and Verifier.
// Issuer doubles as the audience.
type Keys struct {
	Secret []byte
	Issuer string
}

func (k Keys) validate() error {
	if len(k.Secret) < MinKeyBytes {
		return &ConfigError{Reason: fmt.Sprintf("signing key is %d bits, need at least %d", len(k.Secret)*8, MinKeyBytes*8)}
	}
	if strings.TrimSpace(k.Issuer) == "" {
		return &ConfigError{Reason: "issuer is empty"}
	}
	return nil
}

// Issuer mints access tokens for users that pass the identity store check.
type Issuer struct {
	keys   Keys
	ttl    time.Duration
	store  identity.Store
	logger *logger.Logger
	now    func() time.Time
}

// NewIssuer returns a *ConfigError when keys are unusable.
func NewIssuer(keys Keys, ttl time.Duration, store identity.Store, log *logger.Logger) (*Issuer, error) {
	if err := keys.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, &ConfigError{Reason: "identity store is nil"}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Issuer{keys: keys, ttl: ttl, store: store, logger: log, now: time.Now}, nil
}

// IssueToken checks the credential pair and returns a signed token.
// Unknown user and wrong password both return ErrInvalidCredentials; the
// distinction is logged only.
func (i *Issuer) IssueToken(ctx context.Context, username, password string) (string, error) {
	if username == "" {
		i.logger.LogEvent("warn", "login_failed", username, "empty username")
		return "", ErrInvalidCredentials
	}

	err := i.store.VerifyPassword(ctx, username, password)
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		i.logger.LogEvent("warn", "login_failed", username, "user not found")
		return "", ErrInvalidCredentials
	case errors.Is(err, identity.ErrPasswordMismatch):
		i.logger.LogEvent("warn", "login_failed", username, "invalid password")
		return "", ErrInvalidCredentials
	case err != nil:
		return "", fmt.Errorf("auth: verify credentials: %w", err)
	}

	token, err := i.sign(username)
	if err != nil {
		return "", err
	}
	i.logger.LogEvent("info", "token_issued", username, "")
	return token, nil
}

func (i *Issuer) sign(subject string) (string, error) {
	now := i.now().UTC()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    i.keys.Issuer,
		Audience:  jwt.ClaimStrings{i.keys.Issuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.keys.Secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return token, nil
}

// Verifier validates tokens minted by an Issuer sharing the same Keys.
type Verifier struct {
	keys Keys
	now  func() time.Time
}

func NewVerifier(keys Keys) (*Verifier, error) {
	if err := keys.validate(); err != nil {
		return nil, err
	}
	return &Verifier{keys: keys, now: time.Now}, nil
}

// Verify returns the token subject or ErrTokenRejected.
func (v *Verifier) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return v.keys.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.keys.Issuer),
		jwt.WithAudience(v.keys.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", ErrTokenRejected
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value, or "".
func BearerToken(header string) string {
	const prefix = "bearer "
	v := strings.TrimSpace(header)
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}

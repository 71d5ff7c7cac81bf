// Package identity stores user credentials for the token issuer. It hashes
// passwords with bcrypt and never returns or logs plaintext.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound     = errors.New("identity: user not found")
	ErrPasswordMismatch = errors.New("identity: password mismatch")
	ErrUserExists       = errors.New("identity: username already taken")
)

// Store creates accounts and verifies credentials.
type Store interface {
	CreateUser(ctx context.Context, username, password string) error
	VerifyPassword(ctx context.Context, username, password string) error
}

// ValidationError lists every policy rule a registration attempt broke.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "identity: " + strings.Join(e.Reasons, "; ")
}

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// Policy is the password complexity policy applied on registration.
// MaxBytes of 0 means MaxPasswordBytes.
type Policy struct {
	MinLength        int
	MaxBytes         int
	MinUniqueChars   int
	RequireDigit     bool
	RequireLowercase bool
	RequireUppercase bool
	RequireSymbol    bool
}

func DefaultPolicy() Policy {
	return Policy{
		MinLength:        6,
		MaxBytes:         MaxPasswordBytes,
		MinUniqueChars:   1,
		RequireDigit:     true,
		RequireLowercase: true,
		RequireUppercase: true,
	}
}

// Validate returns a *ValidationError when username or password break the policy.
func (p Policy) Validate(username, password string) error {
	var reasons []string
	if strings.TrimSpace(username) == "" {
		reasons = append(reasons, "Username is required.")
	}
	if len(password) < p.MinLength {
		reasons = append(reasons, fmt.Sprintf("Passwords must be at least %d characters.", p.MinLength))
	}
	maxBytes := p.MaxBytes
	if maxBytes <= 0 || maxBytes > MaxPasswordBytes {
		maxBytes = MaxPasswordBytes
	}
	if len(password) > maxBytes {
		reasons = append(reasons, fmt.Sprintf("Passwords must be at most %d bytes.", maxBytes))
	}

	var digit, lower, upper, symbol bool
	unique := make(map[rune]struct{})
	for _, r := range password {
		unique[r] = struct{}{}
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case !unicode.IsLetter(r):
			symbol = true
		}
	}
	if p.RequireDigit && !digit {
		reasons = append(reasons, "Passwords must have at least one digit ('0'-'9').")
	}
	if p.RequireLowercase && !lower {
		reasons = append(reasons, "Passwords must have at least one lowercase ('a'-'z').")
	}
	if p.RequireUppercase && !upper {
		reasons = append(reasons, "Passwords must have at least one uppercase ('A'-'Z').")
	}
	if p.RequireSymbol && !symbol {
		reasons = append(reasons, "Passwords must have at least one non alphanumeric character.")
	}
	if len(unique) < p.MinUniqueChars {
		reasons = append(reasons, fmt.Sprintf("Passwords must use at least %d different characters.", p.MinUniqueChars))
	}

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}

// Hasher hashes and verifies passwords using bcrypt.
type Hasher struct {
	Cost int
}

// NewHasher clamps cost into bcrypt's accepted range.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

func (h *Hasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", &ValidationError{Reasons: []string{fmt.Sprintf("Passwords must be at most %d bytes.", MaxPasswordBytes)}}
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare returns ErrPasswordMismatch when password does not match hash.
func (h *Hasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}

// Package auth inspects the bearer tokens issued by the grocery backend.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("bearer token is required")
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrTokenExpired = errors.New("bearer token has expired")
)

var adminRoles = map[string]struct{}{
	"ADMIN":       {},
	"STORE_ADMIN": {},
	"SUPER_ADMIN": {},
}

type Claims struct {
	UserID string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserSubject returns the user id, falling back to the sub claim.
func (c *Claims) UserSubject() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

func (c *Claims) Expiry() time.Time {
	if c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}

func IsAdminRole(role string) bool {
	_, ok := adminRoles[strings.ToUpper(strings.TrimSpace(role))]
	return ok
}

// Verifier checks bearer tokens. With a shared secret it verifies HS256
// signatures; without one it only reads claims and lets the backend decide,
// and opaque (non-JWT) tokens pass with empty claims.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(strings.TrimSpace(secret)),
		now:    time.Now,
	}
}

func (v *Verifier) Verifies() bool {
	return len(v.secret) > 0
}

func (v *Verifier) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	if v.Verifies() {
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return v.secret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(v.now),
		)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return claims, nil
	}

	if strings.Count(raw, ".") != 2 {
		return claims, nil
	}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp := claims.Expiry(); !exp.IsZero() && !v.now().Before(exp) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// Package auth validates bearer tokens and carries the authenticated owner through contexts.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds signer verification parameters.
type Config struct {
	Secret string
	Issuer string
}

// Claims is the verified identity of a caller. Subject is the owner id stamped on every record
// the caller writes.
type Claims struct {
	Subject   string
	Scopes    map[string]struct{}
	ExpiresAt time.Time
}

var (
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken wraps parsing and validation errors.
	ErrInvalidToken = errors.New("invalid bearer token")
	// ErrForbidden is returned when valid claims lack every accepted scope.
	ErrForbidden = errors.New("insufficient scope")
)

// tokenClaims is the wire form of a fitsync access token.
type tokenClaims struct {
	jwt.RegisteredClaims
	Scopes scopeList `json:"scopes,omitempty"`
}

// scopeList accepts the space-delimited OAuth form as well as a JSON array.
type scopeList []string

func (s *scopeList) UnmarshalJSON(data []byte) error {
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		*s = strings.Fields(joined)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("scopes: %w", err)
	}
	*s = list
	return nil
}

// MarshalJSON writes scopes in the space-delimited form.
func (s scopeList) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.Join(s, " "))
}

// Parse validates an HS256 token issued by cfg.Issuer and returns its claims.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	var tc tokenClaims
	_, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	},
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(tc.Subject) == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	claims := &Claims{
		Subject:   tc.Subject,
		Scopes:    make(map[string]struct{}, len(tc.Scopes)),
		ExpiresAt: tc.ExpiresAt.Time,
	}
	for _, scope := range tc.Scopes {
		claims.Scopes[scope] = struct{}{}
	}
	return claims, nil
}

// Sign issues an HS256 token for subject. It backs local tooling and tests; production tokens
// come from the identity service.
func Sign(cfg Config, subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	tc := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString([]byte(cfg.Secret))
}

// HasScope reports whether the claim set includes the provided scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Scopes[scope]
	return ok
}

// HasAny reports whether the claim set includes at least one of scopes.
func (c *Claims) HasAny(scopes ...string) bool {
	for _, scope := range scopes {
		if c.HasScope(scope) {
			return true
		}
	}
	return false
}

// Package auth is the boundary to the external credential store.
//
// Tokens are issued and persisted elsewhere; this package only hands them to
// the session client and reads the user identity they carry.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrNoToken      = errors.New("auth: no token available")
)

// Demo credentials used when nothing else is configured.
const (
	DemoToken  = "demo-token"
	DemoUserID = "demo-user"
)

// TokenSource yields the bearer credential for backend calls.
type TokenSource interface {
	Token() (string, error)
}

// StaticSource serves a fixed token.
type StaticSource string

func (s StaticSource) Token() (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// FuncSource adapts a function into a TokenSource.
type FuncSource func() (string, error)

func (f FuncSource) Token() (string, error) {
	return f()
}

// FallbackSource tries Primary and serves Fallback when it has nothing.
type FallbackSource struct {
	Primary  TokenSource
	Fallback string
}

func (s FallbackSource) Token() (string, error) {
	if s.Primary != nil {
		if tok, err := s.Primary.Token(); err == nil && strings.TrimSpace(tok) != "" {
			return strings.TrimSpace(tok), nil
		}
	}
	return StaticSource(s.Fallback).Token()
}

type userClaims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// UserIDFromToken reads the user identity from a JWT without verifying it.
// Verification belongs to the backend; the client only needs the id for the
// registration body. Opaque tokens return ok=false.
func UserIDFromToken(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return "", false
	}
	claims := &userClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", false
	}
	if id := strings.TrimSpace(claims.UserID); id != "" {
		return id, true
	}
	if id := strings.TrimSpace(claims.Subject); id != "" {
		return id, true
	}
	return "", false
}

// ResolveUserID picks the configured id, then the token subject, then the demo id.
func ResolveUserID(configured string, src TokenSource) string {
	if id := strings.TrimSpace(configured); id != "" {
		return id
	}
	if src != nil {
		if tok, err := src.Token(); err == nil {
			if id, ok := UserIDFromToken(tok); ok {
				return id
			}
		}
	}
	return DemoUserID
}

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken is a simple validator for a single shared token.
// It is intended only for development and test backends.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

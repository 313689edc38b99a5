// Package auth carries the participant identity and bearer token that a
// conversation socket is opened with.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken    = errors.New("missing access token")
	ErrMissingUsername = errors.New("missing username")
	ErrTokenExpired    = errors.New("access token expired")
)

// Claims are the fields the client reads from an access token. The server
// verifies the signature; the client only inspects it.
type Claims struct {
	Username string `json:"username,omitempty"`
	UserID   any    `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Credentials is the capability handed to the transport when it opens a
// conversation.
type Credentials struct {
	Username  string
	Token     string
	ExpiresAt time.Time
}

// NewCredentials builds credentials from a configured username and token.
// When the token is a JWT its username claim fills in a missing username and
// its expiry is checked against now. Opaque tokens are accepted as-is.
func NewCredentials(username, token string, now time.Time) (Credentials, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credentials{}, ErrMissingToken
	}
	creds := Credentials{Username: strings.TrimSpace(username), Token: token}

	if claims, err := Inspect(token); err == nil {
		if creds.Username == "" {
			creds.Username = claims.Username
		}
		if claims.ExpiresAt != nil {
			creds.ExpiresAt = claims.ExpiresAt.Time
		}
	}

	if creds.Username == "" {
		return Credentials{}, ErrMissingUsername
	}
	if creds.Expired(now) {
		return Credentials{}, fmt.Errorf("%w at %s", ErrTokenExpired, creds.ExpiresAt.Format(time.RFC3339))
	}
	return creds, nil
}

// Inspect parses a JWT without verifying its signature.
func Inspect(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

// Expired reports whether the token carried an expiry that is not after now.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// String hides the token.
func (c Credentials) String() string {
	return fmt.Sprintf("%s (token ****)", c.Username)
}

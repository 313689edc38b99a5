package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestNewCredentialsUsernameFromClaim(t *testing.T) {
	now := time.Now()
	token := signToken(t, Claims{
		Username: "alice",
		UserID:   7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	creds, err := NewCredentials("", token, now)
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}
	if creds.Username != "alice" {
		t.Errorf("Username = %q, want alice", creds.Username)
	}
	if creds.ExpiresAt.IsZero() {
		t.Error("ExpiresAt not populated from claim")
	}
}

func TestNewCredentialsConfiguredUsernameWins(t *testing.T) {
	token := signToken(t, Claims{Username: "alice"})
	creds, err := NewCredentials("bob", token, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if creds.Username != "bob" {
		t.Errorf("Username = %q, want bob", creds.Username)
	}
}

func TestNewCredentialsErrors(t *testing.T) {
	now := time.Now()
	expired := signToken(t, Claims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
		},
	})
	noName := signToken(t, Claims{UserID: 3})

	tests := []struct {
		name     string
		username string
		token    string
		want     error
	}{
		{"empty token", "alice", "", ErrMissingToken},
		{"blank token", "alice", "   ", ErrMissingToken},
		{"opaque token without username", "", "opaque-token", ErrMissingUsername},
		{"jwt without username claim", "", noName, ErrMissingUsername},
		{"expired", "", expired, ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCredentials(tt.username, tt.token, now)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewCredentialsOpaqueToken(t *testing.T) {
	creds, err := NewCredentials("alice", "opaque-token", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !creds.ExpiresAt.IsZero() || creds.Expired(time.Now()) {
		t.Error("opaque token should never expire client-side")
	}
}

func TestCredentialsStringHidesToken(t *testing.T) {
	creds := Credentials{Username: "alice", Token: "secret-value"}
	if strings.Contains(creds.String(), "secret-value") {
		t.Errorf("String() leaks token: %q", creds.String())
	}
}

package auth

import (
	"errors"
	"testing"
	"time"

	"counsel-platform/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:          "secret",
		JWTIssuer:          "issuer",
		JWTAudience:        "aud",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    24 * time.Hour,
		ConnectionTokenTTL: 12 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "user-1", "client")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "client" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m := newTestManager(t)
	p, err := m.IssuePair(time.Now(), "u", "client")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestConnectionTokenRoundTrip(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.IssueConnectionToken(now, "user-2", "counselor")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, TokenTypeConnection, now.Add(11*time.Hour))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-2" || claims.Role != "counselor" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	// The realtime credential must not be usable on the REST surface.
	if _, err := m.Verify(tok, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected connection token to fail as access token")
	}
}

func TestConnectionTokenExpires(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.IssueConnectionToken(now, "user-2", "counselor")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = m.Verify(tok, TokenTypeConnection, now.Add(13*time.Hour))
	if err == nil {
		t.Fatalf("expected expiry error")
	}
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

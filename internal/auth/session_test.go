package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestSigner(t *testing.T) *SessionSigner {
	t.Helper()
	key, err := SigningKey("", "secret")
	if err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	return NewSessionSigner(key, "https://mcp.example.org", "https://mcp.example.org/mcp", time.Hour)
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestSigner(t)

	token, exp, err := s.Issue("person-1", "grant-1", "client-1", DefaultScopes())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("token is not a compact JWT: %q", token)
	}
	if time.Until(exp) <= 59*time.Minute {
		t.Errorf("expiry too early: %v", exp)
	}

	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "person-1" || claims.GrantID != "grant-1" || claims.ClientID != "client-1" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.Scope != "services people" {
		t.Errorf("scope = %q", claims.Scope)
	}
	if claims.ID == "" {
		t.Error("expected jti")
	}
}

func TestSessionVerifyRejects(t *testing.T) {
	s := newTestSigner(t)
	token, _, _ := s.Issue("person-1", "grant-1", "client-1", nil)

	otherKey, _ := SigningKey("", "other-secret")
	wrongKey := NewSessionSigner(otherKey, s.issuer, s.audience, time.Hour)

	wrongAudience := NewSessionSigner(s.key, s.issuer, "https://elsewhere/mcp", time.Hour)

	expired := newTestSigner(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, _, _ := expired.Issue("person-1", "grant-1", "client-1", nil)

	noGrant, _, _ := s.Issue("person-1", "", "client-1", nil)

	tests := []struct {
		name   string
		signer *SessionSigner
		token  string
	}{
		{"wrong key", wrongKey, token},
		{"wrong audience", wrongAudience, token},
		{"expired", s, expiredToken},
		{"missing grant id", s, noGrant},
		{"garbage", s, "not-a-jwt"},
		{"raw upstream token", s, "pco_abc123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.signer.Verify(tt.token)
			if !errors.Is(err, ErrInvalidSession) {
				t.Errorf("err = %v, want ErrInvalidSession", err)
			}
		})
	}
}

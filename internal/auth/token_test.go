package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trivia-board-service/internal/domain"
)

func TestVerifyHost(t *testing.T) {
	v := NewVerifier("secret", "trivia")
	token, err := v.IssueHost("host-1", "g1", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	hostID, err := v.VerifyHost(token, "g1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if hostID != "host-1" {
		t.Fatalf("expected host-1, got %s", hostID)
	}
}

func TestVerifyHostRejects(t *testing.T) {
	v := NewVerifier("secret", "trivia")
	now := time.Now()

	expired, _ := v.IssueHost("host-1", "g1", time.Minute, now.Add(-time.Hour))
	otherGame, _ := v.IssueHost("host-1", "g2", time.Hour, now)
	wrongKey, _ := NewVerifier("other", "trivia").IssueHost("host-1", "g1", time.Hour, now)
	wrongIssuer, _ := NewVerifier("secret", "someone-else").IssueHost("host-1", "g1", time.Hour, now)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, HostClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "trivia", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	}).SignedString([]byte("secret"))

	cases := map[string]string{
		"expired":      expired,
		"other game":   otherGame,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		if _, err := v.VerifyHost(token, "g1"); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("%s: expected unauthorized, got %v", name, err)
		}
	}
}

func TestDisabledVerifier(t *testing.T) {
	v := NewVerifier("", "")
	if v.Enabled() {
		t.Fatalf("expected verifier without secret to be disabled")
	}
	if _, err := v.VerifyHost("x", "g1"); err == nil {
		t.Fatalf("expected error from disabled verifier")
	}
}

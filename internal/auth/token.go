// Package auth verifies host tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trivia-board-service/internal/domain"
)

// HostClaims identifies a host. The subject is the host id checked by the score ledger.
type HostClaims struct {
	GameID string `json:"gameId,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 host tokens.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Enabled reports whether a secret is configured. Without one, callers fall back to trusting
// the host id they were given.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// VerifyHost parses token and returns the host id it carries. A token scoped to a game is only
// valid for that game.
func (v *Verifier) VerifyHost(token, gameID string) (string, error) {
	if !v.Enabled() {
		return "", errors.New("host token verification is not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &HostClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	if claims.GameID != "" && claims.GameID != gameID {
		return "", fmt.Errorf("%w: token is for game %s", domain.ErrUnauthorized, claims.GameID)
	}
	return claims.Subject, nil
}

// IssueHost signs a host token. It exists for tooling and tests; production tokens come from
// the account service.
func (v *Verifier) IssueHost(hostID, gameID string, ttl time.Duration, now time.Time) (string, error) {
	if !v.Enabled() {
		return "", errors.New("host token signing is not configured")
	}
	claims := HostClaims{
		GameID: gameID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   hostID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

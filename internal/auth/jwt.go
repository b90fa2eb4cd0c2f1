// Package auth holds the building blocks of authentication: session tokens,
// password hashing, OAuth provider adapters and the session cookie.
//
// SESSION FLOW:
//  1. A login (native or OAuth) ends with TokenService.Issue(userID)
//  2. The token goes into the HttpOnly "session" cookie for 2 days
//  3. Later requests send the cookie back; TokenService.Verify checks the
//     signature and expiry and returns the user ID
//
// The server keeps no session state. Everything needed is inside the
// signed token: {userId, iat, exp}.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/docx/internal/apperror"
)

const (
	// SessionLifetime is how long an issued credential stays valid.
	SessionLifetime = 48 * time.Hour

	issuer = "docx"
)

// TokenService signs and verifies session credentials with HMAC-SHA256.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: SESSION_JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims is the JWT payload. UserID duplicates Subject under the name the
// web client reads.
type claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Issue creates a credential for userID that expires after SessionLifetime.
func (s *TokenService) Issue(userID int64) (string, error) {
	return s.IssueWithDuration(userID, SessionLifetime)
}

// IssueWithDuration creates a credential with a custom lifetime.
// Used in tests (negative durations produce already-expired tokens).
func (s *TokenService) IssueWithDuration(userID int64, d time.Duration) (string, error) {
	now := time.Now()
	id := strconv.FormatInt(userID, 10)

	c := claims{
		UserID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verify parses and checks a credential and returns the user ID inside it.
//
// Every failure (bad signature, wrong algorithm or issuer, expiry, missing
// or non-numeric user id) is reported as apperror.VerificationFailed.
// Callers must not tell the user which one it was.
func (s *TokenService) Verify(tokenStr string) (int64, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, apperror.VerificationFailed(err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return 0, apperror.VerificationFailed(errors.New("invalid token claims"))
	}

	raw := c.UserID
	if raw == "" {
		raw = c.Subject
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, apperror.VerificationFailed(fmt.Errorf("bad user id %q", raw))
	}

	return userID, nil
}

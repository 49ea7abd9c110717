// Package auth signs and checks the credentials used by the ingest daemon:
// per-session JWTs for pages posting events, and a bcrypt-hashed admin key
// for the introspection endpoints.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hazyhaar/uxai/horosafe"
)

// Issuer is written into every session token.
const Issuer = "uxaid"

var ErrInvalidToken = errors.New("auth: invalid token")

// GenerateToken signs claims with HS256. IssuedAt and ExpiresAt are set from
// now and ttl; the subject is the session ID.
func GenerateToken(secret []byte, claims *SessionClaims, ttl time.Duration) (string, error) {
	if err := horosafe.ValidateSecret(secret); err != nil {
		return "", fmt.Errorf("auth: %w", err)
	}
	if claims.SessionID == "" {
		return "", fmt.Errorf("auth: generate: empty session id")
	}
	now := time.Now()
	claims.Issuer = Issuer
	claims.Subject = claims.SessionID
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	return signed, nil
}

// ValidateToken parses tokenStr, pinning the algorithm to HS256.
func ValidateToken(secret []byte, tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v (only HS256 allowed)", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

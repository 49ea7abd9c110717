package auth

import "github.com/golang-jwt/jwt/v5"

// SessionClaims is the token handed to a page when its capture session is
// created. The page presents it on every event batch; it binds the batch to
// exactly one session.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Origin    string `json:"origin,omitempty"`
	Layout    int    `json:"layout,omitempty"`
}

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/hazyhaar/uxai/kit"
)

type claimsKey struct{}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireSession rejects requests without a valid session token. The token
// must be issued for the session named by sessionID(r) when that returns a
// non-empty value. Claims are placed in the context along with kit.SessionIDKey.
func RequireSession(secret []byte, sessionID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := BearerToken(r)
			if tok == "" {
				http.Error(w, "missing session token", http.StatusUnauthorized)
				return
			}
			claims, err := ValidateToken(secret, tok)
			if err != nil {
				http.Error(w, "invalid session token", http.StatusUnauthorized)
				return
			}
			if sessionID != nil {
				if want := sessionID(r); want != "" && want != claims.SessionID {
					http.Error(w, "token not valid for this session", http.StatusForbidden)
					return
				}
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = kit.WithSessionID(ctx, claims.SessionID)
			ctx = kit.WithRole(ctx, "page")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin checks the X-Admin-Key header (or bearer token) against the
// bcrypt hash. An empty hash disables the admin surface entirely.
func RequireAdmin(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Admin-Key")
			if key == "" {
				key = BearerToken(r)
			}
			if !CheckAdminKey(hash, key) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(kit.WithRole(r.Context(), "admin")))
		})
	}
}

// GetClaims returns the session claims placed by RequireSession, or nil.
func GetClaims(ctx context.Context) *SessionClaims {
	c, _ := ctx.Value(claimsKey{}).(*SessionClaims)
	return c
}

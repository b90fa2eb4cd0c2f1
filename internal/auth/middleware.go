package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	// SessionCookieName carries the signed session credential.
	SessionCookieName = "session"

	// StateCookieName carries the OAuth state between /auth/redirect and
	// the callback.
	StateCookieName = "oauth_state"

	stateCookieMaxAge = 10 * time.Minute
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// A plain string key can be read or shadowed by any package that knows the
// string. A package-private type means only this package can create the key.
type contextKey string

const userIDKey contextKey = "userID"

// SetSessionCookie stores the credential in the browser.
//
// COOKIE ATTRIBUTES:
//   - HttpOnly: JavaScript can't read it, so XSS can't steal the session
//   - Secure: only sent over HTTPS (production only, localhost is plain HTTP)
//   - SameSite=Lax: sent on top-level navigations (the OAuth redirect back
//     to us) but not on cross-site subrequests
//   - MaxAge matches the token lifetime
func SetSessionCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionLifetime / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie (logout).
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetStateCookie stores a single-use OAuth state value for 10 minutes.
func SetStateCookie(w http.ResponseWriter, state string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateCookieMaxAge / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearStateCookie removes the state cookie once the callback has used it.
func ClearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   StateCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// CredentialFromRequest returns the session cookie's value, or "" when the
// request has none.
func CredentialFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		// http.ErrNoCookie: anonymous, not an error
		return ""
	}
	return cookie.Value
}

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the credential from the "session" cookie, verifies it, and
// stores the user ID in the request context. If the cookie is missing or
// invalid, it returns 401 Unauthorized and stops the request chain.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware takes an http.Handler and returns a new one that wraps it.
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := verifyRequest(r, tokens)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "unauthorized",
					"message": "valid authentication required",
				})
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext retrieves the authenticated user's ID from the request
// context. Returns (0, false) outside RequireAuth.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok && id > 0
}

// verifyRequest reads the session cookie and checks it. A nil TokenService
// (no secret configured) authenticates nobody.
func verifyRequest(r *http.Request, tokens *TokenService) (int64, bool) {
	if tokens == nil {
		return 0, false
	}
	credential := CredentialFromRequest(r)
	if credential == "" {
		return 0, false
	}
	userID, err := tokens.Verify(credential)
	if err != nil {
		return 0, false
	}
	return userID, true
}

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/exambook/apiserver/internal/auth"
)

const (
	accessCookieName  = "accessToken"
	refreshCookieName = "refreshToken"
	refreshCookiePath = "/api/user"
)

// Authenticator verifies access tokens for protected routes.
type Authenticator struct {
	tokens *auth.Tokens
}

func NewAuthenticator(tokens *auth.Tokens) *Authenticator {
	return &Authenticator{tokens: tokens}
}

// RequireAuth rejects requests without a valid access token.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := accessToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "No token provided")
			return
		}
		claims, err := a.tokens.ParseAccess(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), claims.Subject)))
	})
}

// OptionalAuth attaches the caller when a valid access token is present
// and lets anonymous requests through otherwise.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := accessToken(r); token != "" {
			if claims, err := a.tokens.ParseAccess(token); err == nil {
				r = r.WithContext(withSubject(r.Context(), claims.Subject))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// accessToken reads the bearer header first and falls back to the cookie.
func accessToken(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	if cookie, err := r.Cookie(accessCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// CookieOptions controls the session cookie attributes.
type CookieOptions struct {
	Secure bool
}

func (o CookieOptions) setAccess(w http.ResponseWriter, token string, claims auth.Claims) {
	http.SetCookie(w, o.cookie(accessCookieName, "/", token, claims.ExpiresAt.Sub(claims.IssuedAt)))
}

func (o CookieOptions) setRefresh(w http.ResponseWriter, token string, claims auth.Claims) {
	http.SetCookie(w, o.cookie(refreshCookieName, refreshCookiePath, token, claims.ExpiresAt.Sub(claims.IssuedAt)))
}

func (o CookieOptions) clear(w http.ResponseWriter) {
	http.SetCookie(w, o.cookie(accessCookieName, "/", "", -1))
	http.SetCookie(w, o.cookie(refreshCookieName, refreshCookiePath, "", -1))
}

func (o CookieOptions) cookie(name, path, value string, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	if ttl < 0 {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		return c
	}
	c.MaxAge = int(ttl.Seconds())
	c.Expires = time.Now().Add(ttl)
	return c
}

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sportsai/authcore"
	"github.com/sportsai/authcore/jwt"
)

// Cookie names shared with the HTTP surface.
const (
	AccessCookie  = "sportsai_access_token"
	RefreshCookie = "sportsai_refresh_token"
)

// Older clients set these instead of AccessCookie.
var legacyAccessCookies = []string{"access_token", "accessToken"}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by RequireAccess.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*jwt.Claims)
	return c, ok
}

// WithClaims stores claims in ctx the way RequireAccess does.
func WithClaims(ctx context.Context, c *jwt.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// Verifier checks access tokens. *authcore.Engine implements it.
type Verifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*jwt.Claims, error)
}

var _ Verifier = (*authcore.Engine)(nil)

// RequireAccess rejects requests without a valid access token.
func RequireAccess(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, msg := authenticate(r, v)
			if claims == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"message": msg})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// authenticate returns the verified claims, or nil and the message to
// send back.
func authenticate(r *http.Request, v Verifier) (*jwt.Claims, string) {
	if v == nil {
		return nil, "Unauthorized"
	}
	token, ok := AccessToken(r)
	if !ok {
		return nil, "No token provided"
	}
	claims, err := v.VerifyAccessToken(r.Context(), token)
	if err != nil {
		return nil, "Invalid token"
	}
	return claims, ""
}

// AccessToken reads the access token from its cookie, then from a Bearer
// Authorization header.
func AccessToken(r *http.Request) (string, bool) {
	for _, name := range append([]string{AccessCookie}, legacyAccessCookies...) {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

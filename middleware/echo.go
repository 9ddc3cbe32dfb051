package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sportsai/authcore/jwt"
	"github.com/sportsai/authcore/ratelimit"
)

const echoClaimsKey = "authcore.claims"

// EchoClaims returns the claims stored by EchoRequireAccess.
func EchoClaims(c echo.Context) (*jwt.Claims, bool) {
	claims, ok := c.Get(echoClaimsKey).(*jwt.Claims)
	return claims, ok
}

// EchoRequireAccess is RequireAccess for echo. Claims are stored both on
// the echo context and in the request context.
func EchoRequireAccess(v Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, msg := authenticate(c.Request(), v)
			if claims == nil {
				return c.JSON(http.StatusUnauthorized, map[string]any{"message": msg})
			}
			c.Set(echoClaimsKey, claims)
			c.SetRequest(c.Request().WithContext(WithClaims(c.Request().Context(), claims)))
			return next(c)
		}
	}
}

// EchoRateLimit is RateLimit for echo.
func EchoRateLimit(l *ratelimit.Limiter, opts ...RateOption) echo.MiddlewareFunc {
	o := newRateOptions(opts)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d, ok := limit(l, o, c.Response(), c.Request())
			if !ok {
				return c.JSON(http.StatusTooManyRequests, refusal(d))
			}
			return next(c)
		}
	}
}

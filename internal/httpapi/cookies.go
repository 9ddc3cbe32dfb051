package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sportsai/authcore/middleware"
)

const refreshCookieMaxAge = 7 * 24 * time.Hour

func (s *Server) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	}
}

// setAuthCookies writes both tokens. persistent=false makes the refresh
// cookie last for the browser session only.
func (s *Server) setAuthCookies(c echo.Context, access, refresh string, expiresIn int, persistent bool) {
	c.SetCookie(s.cookie(middleware.AccessCookie, access, time.Duration(expiresIn)*time.Second))
	var refreshAge time.Duration
	if persistent {
		refreshAge = refreshCookieMaxAge
	}
	c.SetCookie(s.cookie(middleware.RefreshCookie, refresh, refreshAge))
}

func (s *Server) clearAuthCookies(c echo.Context) {
	for _, name := range []string{middleware.AccessCookie, middleware.RefreshCookie} {
		ck := s.cookie(name, "", 0)
		ck.MaxAge = -1
		c.SetCookie(ck)
	}
}

func refreshFromCookie(c echo.Context) string {
	if ck, err := c.Cookie(middleware.RefreshCookie); err == nil {
		return ck.Value
	}
	return ""
}

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sportsai/authcore"
	"github.com/sportsai/authcore/middleware"
	"github.com/sportsai/authcore/ratelimit"
)

const shutdownTimeout = 5 * time.Second

// Config configures a Server.
type Config struct {
	// FrontendURL is where OAuth callbacks redirect the browser.
	FrontendURL string
	// SecureCookies sets the Secure flag on auth cookies.
	SecureCookies bool
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Server is the HTTP surface of an Engine.
type Server struct {
	echo   *echo.Echo
	engine *authcore.Engine
	cfg    Config
	log    *zap.Logger
}

// New registers every route on a fresh echo instance.
func New(engine *authcore.Engine, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, engine: engine, cfg: cfg, log: cfg.Logger}
	e.HTTPErrorHandler = s.handleError
	s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() {
	s.echo.Use(clientContext)

	anonymous := middleware.EchoRateLimit(s.engine.Limiter(), middleware.WithLogger(s.log))
	perUser := middleware.EchoRateLimit(s.engine.Limiter(),
		middleware.WithLogger(s.log),
		middleware.WithTier(s.engine.SubscriptionTier),
	)

	if s.cfg.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.cfg.Metrics), anonymous)
	}

	g := s.echo.Group("/v1/auth")

	pub := g.Group("", anonymous)
	pub.POST("/signup", s.signup)
	pub.POST("/login", s.login)
	pub.POST("/logout", s.logout)
	pub.POST("/refresh", s.refresh)
	pub.POST("/forgot-password", s.forgotPassword)
	pub.POST("/validate-reset-token", s.validateResetToken)
	pub.POST("/reset-password", s.resetPassword)
	pub.POST("/2fa/validate", s.validateTwoFactor)
	pub.POST("/2fa/complete-login", s.completeTwoFactorLogin)

	for _, provider := range []string{"google", "github"} {
		pub.GET("/"+provider+"/status", s.oauthStatus(provider))
		pub.GET("/"+provider+"/url", s.oauthURL(provider))
		pub.GET("/"+provider+"/callback", s.oauthCallback(provider))
	}

	// Authenticated routes are limited per user after the token checks out.
	auth := g.Group("", middleware.EchoRequireAccess(s.engine), perUser)
	auth.GET("/me", s.me)
	auth.GET("/preferences", s.preferences)
	auth.POST("/change-password", s.changePassword)
	auth.GET("/2fa/status", s.twoFactorStatus)
	auth.POST("/2fa/enable", s.twoFactorSetup)
	auth.POST("/2fa/verify", s.twoFactorEnable)
	auth.POST("/2fa/disable", s.twoFactorDisable)
	auth.POST("/2fa/regenerate-backup-codes", s.regenerateBackupCodes)
	auth.GET("/sessions", s.listSessions)
	auth.POST("/sessions/:sessionId/revoke", s.revokeSession)
	auth.POST("/sessions/revoke-others", s.revokeOtherSessions)
	auth.POST("/sessions/revoke-all", s.revokeAllSessions)
}

// clientContext hands the caller's IP and user agent to the engine.
func clientContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := c.Request()
		ctx := authcore.WithClientIP(r.Context(), ratelimit.ClientIP(r))
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())
		c.SetRequest(r.WithContext(ctx))
		return next(c)
	}
}

// handleError writes engine errors with their status and message. Other
// errors become 500 without detail.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var ae *authcore.Error
	if errors.As(err, &ae) {
		body := map[string]any{"statusCode": ae.HTTPStatus(), "message": ae.Message}
		if ae.Kind == authcore.KindTooManyRequests && ae.RetryAfter > 0 {
			body["retryAfter"] = ae.RetryAfter
		}
		if ae.Kind == authcore.KindUnavailable {
			s.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		}
		_ = c.JSON(ae.HTTPStatus(), body)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.JSON(he.Code, map[string]any{"statusCode": he.Code, "message": he.Message})
		return
	}

	s.log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
	_ = c.JSON(http.StatusInternalServerError, map[string]any{
		"statusCode": http.StatusInternalServerError,
		"message":    "Internal server error",
	})
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}

package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sportsai/authcore"
	"github.com/sportsai/authcore/middleware"
)

type credentialsRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type codeRequest struct {
	Token string `json:"token"`
}

type userCodeRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type sessionResponse struct {
	ExpiresIn int               `json:"expiresIn"`
	User      authcore.UserView `json:"user"`
}

func message(text string) map[string]any {
	return map[string]any{"message": text}
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

func unauthorized(msg string) error {
	return echo.NewHTTPError(http.StatusUnauthorized, msg)
}

// bind decodes the JSON body into dst. An empty body leaves dst zero.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return badRequest("Invalid request body")
	}
	return nil
}

func userID(c echo.Context) string {
	claims, ok := middleware.EchoClaims(c)
	if !ok {
		return ""
	}
	return claims.UserID()
}

// -------- PASSWORD LOGIN --------

func (s *Server) signup(c echo.Context) error {
	var req credentialsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Email == "" || req.Password == "" {
		return badRequest("Email and password are required")
	}
	tokens, err := s.engine.Signup(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	s.setAuthCookies(c, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresIn, true)
	return c.JSON(http.StatusCreated, sessionResponse{ExpiresIn: tokens.ExpiresIn, User: tokens.User})
}

func (s *Server) login(c echo.Context) error {
	var req credentialsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Email == "" || req.Password == "" {
		return badRequest("Email and password are required")
	}
	res, err := s.engine.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	if res.RequiresTwoFactor {
		return c.JSON(http.StatusOK, res)
	}
	t := res.Tokens
	s.setAuthCookies(c, t.AccessToken, t.RefreshToken, t.ExpiresIn, req.RememberMe)
	return c.JSON(http.StatusOK, sessionResponse{ExpiresIn: t.ExpiresIn, User: t.User})
}

func (s *Server) completeTwoFactorLogin(c echo.Context) error {
	var req userCodeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.UserID == "" || req.Token == "" {
		return badRequest("userId and token are required")
	}
	tokens, err := s.engine.CompleteTwoFactorLogin(c.Request().Context(), req.UserID, req.Token)
	if err != nil {
		return err
	}
	s.setAuthCookies(c, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresIn, false)
	return c.JSON(http.StatusOK, sessionResponse{ExpiresIn: tokens.ExpiresIn, User: tokens.User})
}

func (s *Server) validateTwoFactor(c echo.Context) error {
	var req userCodeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	valid, err := s.engine.ValidateTwoFactor(c.Request().Context(), req.UserID, req.Token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"valid": valid})
}

func (s *Server) logout(c echo.Context) error {
	if token := refreshFromCookie(c); token != "" {
		s.engine.Logout(c.Request().Context(), token)
	}
	s.clearAuthCookies(c)
	return c.JSON(http.StatusOK, message("Logged out successfully"))
}

func (s *Server) refresh(c echo.Context) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	token := req.RefreshToken
	if token == "" {
		token = refreshFromCookie(c)
	}
	if token == "" {
		return unauthorized("Missing refresh token")
	}
	res, err := s.engine.Refresh(c.Request().Context(), token)
	if err != nil {
		return err
	}
	s.setAuthCookies(c, res.AccessToken, res.RefreshToken, res.ExpiresIn, true)
	return c.JSON(http.StatusOK, map[string]any{"success": true, "expiresIn": res.ExpiresIn})
}

func (s *Server) me(c echo.Context) error {
	view, err := s.engine.Profile(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) preferences(c echo.Context) error {
	prefs, err := s.engine.Preferences(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, prefs)
}

// -------- PASSWORDS --------

func (s *Server) changePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.engine.ChangePassword(c.Request().Context(), userID(c), req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "Password changed successfully"})
}

func (s *Server) forgotPassword(c echo.Context) error {
	var req emailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.engine.RequestPasswordReset(c.Request().Context(), req.Email)
	if err != nil {
		return err
	}
	// The token goes out by email, never in the response.
	return c.JSON(http.StatusOK, message(res.Message))
}

func (s *Server) validateResetToken(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.engine.ValidateResetToken(c.Request().Context(), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) resetPassword(c echo.Context) error {
	var req resetRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.engine.ResetPassword(c.Request().Context(), req.Token, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "Password has been reset successfully"})
}

// -------- TWO-FACTOR --------

func (s *Server) twoFactorStatus(c echo.Context) error {
	st, err := s.engine.TwoFactorStatus(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) twoFactorSetup(c echo.Context) error {
	res, err := s.engine.SetupTwoFactor(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) twoFactorEnable(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	codes, err := s.engine.EnableTwoFactor(c.Request().Context(), userID(c), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "backupCodes": codes})
}

func (s *Server) twoFactorDisable(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.engine.DisableTwoFactor(c.Request().Context(), userID(c), req.Token); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

func (s *Server) regenerateBackupCodes(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	codes, err := s.engine.RegenerateBackupCodes(c.Request().Context(), userID(c), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"backupCodes": codes})
}

// -------- DEVICE SESSIONS --------

func (s *Server) listSessions(c echo.Context) error {
	res, err := s.engine.ListSessions(c.Request().Context(), userID(c), refreshFromCookie(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) revokeSession(c echo.Context) error {
	ok, err := s.engine.RevokeSession(c.Request().Context(), userID(c), c.Param("sessionId"))
	if err != nil {
		return err
	}
	if !ok {
		return c.JSON(http.StatusOK, map[string]any{"success": false, "message": "Session not found or already revoked"})
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "Session revoked successfully"})
}

func (s *Server) revokeOtherSessions(c echo.Context) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	current := req.RefreshToken
	if current == "" {
		current = refreshFromCookie(c)
	}
	if current == "" {
		return unauthorized("Missing refresh token")
	}
	n, err := s.engine.RevokeOtherSessions(c.Request().Context(), userID(c), current)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "revokedCount": n})
}

func (s *Server) revokeAllSessions(c echo.Context) error {
	n, err := s.engine.RevokeAllSessions(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "revokedCount": n})
}

// -------- OAUTH --------

func (s *Server) oauthStatus(provider string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"configured": s.engine.OAuthConfigured(provider)})
	}
}

func (s *Server) oauthURL(provider string) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := s.engine.OAuthAuthorize(c.Request().Context(), provider)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"authUrl": res.URL, "state": res.State})
	}
}

// oauthCallback always answers with a redirect to the frontend. Tokens
// travel only in cookies.
func (s *Server) oauthCallback(provider string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if upstream := c.QueryParam("error"); upstream != "" {
			s.log.Warn("oauth provider returned an error", zap.String("provider", provider), zap.String("error", upstream))
			return c.Redirect(http.StatusFound, s.cfg.FrontendURL+"/login?error=oauth_failed")
		}
		code, state := c.QueryParam("code"), c.QueryParam("state")
		if code == "" || state == "" {
			return c.Redirect(http.StatusFound, s.cfg.FrontendURL+"/login?error=missing_params")
		}

		res, err := s.engine.OAuthCallback(c.Request().Context(), provider, code, state)
		if err != nil {
			return c.Redirect(http.StatusFound, s.cfg.FrontendURL+"/login?error=oauth_failed")
		}
		s.setAuthCookies(c, res.AccessToken, res.RefreshToken, res.ExpiresIn, true)
		return c.Redirect(http.StatusFound, s.cfg.FrontendURL+"/oauth/callback?status=success")
	}
}

package authcore

import (
	"context"
	"strconv"

	"github.com/sportsai/authcore/internal/audit"
)

// AuditEvent is one security event handed to an AuditSink.
type AuditEvent = audit.Event

// AuditSink receives audit events off the request path.
type AuditSink = audit.Sink

// ChannelAuditSink buffers events in a channel, for tests and in-process
// consumers.
type ChannelAuditSink = audit.ChannelSink

// NewZapAuditSink and NewChannelAuditSink expose the built-in sinks.
var (
	NewZapAuditSink     = audit.NewZapSink
	NewChannelAuditSink = audit.NewChannelSink
)

// Audit event types.
const (
	AuditLogin                 = "login"
	AuditLoginLockedOut        = "login_locked_out"
	AuditSignup                = "signup"
	AuditTwoFactorLogin        = "two_factor_login"
	AuditTwoFactorEnabled      = "two_factor_enabled"
	AuditTwoFactorDisabled     = "two_factor_disabled"
	AuditBackupCodesRegenerate = "backup_codes_regenerated"
	AuditRefresh               = "refresh"
	AuditLogout                = "logout"
	AuditSessionRevoked        = "session_revoked"
	AuditSessionsRevokedOthers = "sessions_revoked_others"
	AuditSessionsRevokedAll    = "sessions_revoked_all"
	AuditOAuthCallback         = "oauth_callback"
	AuditPasswordResetRequest  = "password_reset_request"
	AuditPasswordReset         = "password_reset"
	AuditPasswordChange        = "password_change"
	AuditSecretRotated         = "secret_rotated"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, sessionID string, err error, meta map[string]string) {
	if e.audit == nil {
		return
	}
	ev := AuditEvent{
		Timestamp: e.clock.Now(),
		Type:      eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  meta,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if p, ok := meta["provider"]; ok {
		ev.Provider = p
	}
	e.audit.Emit(ctx, ev)
}

func (e *Engine) auditRotation(oldVersion, newVersion int) {
	if e.audit == nil {
		return
	}
	e.audit.Emit(context.Background(), AuditEvent{
		Timestamp: e.clock.Now(),
		Type:      AuditSecretRotated,
		Success:   true,
		Metadata: map[string]string{
			"old_version": strconv.Itoa(oldVersion),
			"new_version": strconv.Itoa(newVersion),
		},
	})
}

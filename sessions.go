package authcore

import (
	"context"
	"strconv"
)

// ListSessions returns the user's live device sessions, most recently
// active first. currentRefreshToken marks the caller's own session and may
// be empty.
func (e *Engine) ListSessions(ctx context.Context, userID, currentRefreshToken string) (*SessionListResult, error) {
	list, err := e.sessions.List(ctx, userID, currentRefreshToken)
	if err != nil {
		return nil, unavailable("list device sessions", err)
	}
	return &SessionListResult{Sessions: list, Total: len(list)}, nil
}

// RevokeSession revokes one of the user's sessions. It reports false when
// the session does not exist, belongs to someone else, or is already
// revoked.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) (bool, error) {
	ok, err := e.sessions.Revoke(ctx, sessionID, userID)
	if err != nil {
		return false, unavailable("revoke device session", err)
	}
	if ok {
		e.metrics.Inc(MetricSessionRevoked)
		e.emitAudit(ctx, AuditSessionRevoked, true, userID, sessionID, nil, nil)
	}
	return ok, nil
}

// RevokeOtherSessions revokes every session of the user except the one
// holding currentRefreshToken.
func (e *Engine) RevokeOtherSessions(ctx context.Context, userID, currentRefreshToken string) (int, error) {
	if currentRefreshToken == "" {
		return 0, unauthorized("Missing refresh token", nil)
	}
	n, err := e.sessions.RevokeOthers(ctx, userID, currentRefreshToken)
	if err != nil {
		return 0, unavailable("revoke device sessions", err)
	}
	e.countRevoked(n)
	e.emitAudit(ctx, AuditSessionsRevokedOthers, true, userID, "", nil, revokedMeta(n))
	return n, nil
}

// RevokeAllSessions revokes every session of the user.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	n, err := e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return 0, unavailable("revoke device sessions", err)
	}
	e.countRevoked(n)
	e.emitAudit(ctx, AuditSessionsRevokedAll, true, userID, "", nil, revokedMeta(n))
	return n, nil
}

func (e *Engine) countRevoked(n int) {
	for i := 0; i < n; i++ {
		e.metrics.Inc(MetricSessionRevoked)
	}
}

func revokedMeta(n int) map[string]string {
	return map[string]string{"revoked": strconv.Itoa(n)}
}

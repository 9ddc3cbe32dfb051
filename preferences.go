package authcore

import (
	"context"

	"go.uber.org/zap"

	"github.com/sportsai/authcore/locale"
)

// ensureLanguage stores a detected display language for a user who has
// none. Detection is best effort and never fails the caller.
func (e *Engine) ensureLanguage(ctx context.Context, userID string) {
	if e.prefs == nil || e.detector == nil {
		return
	}
	stored, err := e.prefs.GetPreferences(ctx, userID)
	if err != nil {
		e.logger.Debug("read preferences failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if stored.Display.Language != "" {
		return
	}
	lang := e.detector.Detect(ctx, clientIPFromContext(ctx))
	stored.Display.Language = lang.Code
	if err := e.prefs.UpdatePreferences(ctx, userID, stored); err != nil {
		e.logger.Debug("store detected language failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Preferences returns the user's effective display preferences: stored
// values, then the language detected from the client IP, then defaults.
func (e *Engine) Preferences(ctx context.Context, userID string) (locale.Preferences, error) {
	if e.prefs == nil {
		return locale.DefaultPreferences(), nil
	}
	stored, err := e.prefs.GetPreferences(ctx, userID)
	if err != nil {
		return locale.Preferences{}, unavailable("read preferences", err)
	}
	var detected locale.Preferences
	if stored.Display.Language == "" && e.detector != nil {
		detected.Display.Language = e.detector.Detect(ctx, clientIPFromContext(ctx)).Code
	}
	return locale.MergePreferences(stored, detected), nil
}

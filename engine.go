package authcore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sportsai/authcore/internal/audit"
	"github.com/sportsai/authcore/internal/clock"
	"github.com/sportsai/authcore/jwt"
	"github.com/sportsai/authcore/locale"
	"github.com/sportsai/authcore/oauth"
	"github.com/sportsai/authcore/password"
	"github.com/sportsai/authcore/ratelimit"
	"github.com/sportsai/authcore/secrets"
	"github.com/sportsai/authcore/session"
	"github.com/sportsai/authcore/twofactor"
)

// Engine runs the account use cases. It is safe for concurrent use once
// built and is never mutated afterwards.
type Engine struct {
	config Config

	users  UserStore
	prefs  PreferenceStore
	resets ResetStore

	rotator   *secrets.Rotator
	issuer    *jwt.Issuer
	sessions  *session.Registry
	twoFactor *twofactor.Authenticator
	broker    *oauth.Broker
	states    oauth.StateStore

	limiter        *ratelimit.Limiter
	loginThrottle  *ratelimit.LoginThrottle
	twoFactorGuard *ratelimit.LoginThrottle
	hasher         password.Hasher
	detector       *locale.Detector
	audit          *audit.Dispatcher
	metrics        *Metrics
	clock          clock.Clock
	logger         *zap.Logger
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped is the number of audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Limiter is the request rate limiter for use by HTTP middleware.
func (e *Engine) Limiter() *ratelimit.Limiter { return e.limiter }

// Initialize seeds the first signing secret when the store has none.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.rotator.Initialize(ctx); err != nil {
		return unavailable("initialize signing secrets", err)
	}
	return nil
}

// RotateSecret rotates the signing secret now.
func (e *Engine) RotateSecret(ctx context.Context) (secrets.Rotation, error) {
	rot, err := e.rotator.Rotate(ctx)
	if err != nil {
		return secrets.Rotation{}, unavailable("rotate signing secret", err)
	}
	return rot, nil
}

func (e *Engine) RotationStatus(ctx context.Context) (secrets.Status, error) {
	st, err := e.rotator.Status(ctx)
	if err != nil {
		return st, unavailable("signing secret status", err)
	}
	return st, nil
}

func (e *Engine) onRotate(rot secrets.Rotation) {
	e.metrics.Inc(MetricSecretRotated)
	e.auditRotation(rot.OldVersion, rot.NewVersion)
}

// Run drives the background work until ctx is done: the rotation check,
// device session cleanup, and sweeps of rate limit buckets, login
// throttles and OAuth states.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() { e.rotator.Run(ctx, e.config.Rotation.CheckInterval) })
	spawn(func() { e.sessions.RunCleanup(ctx, e.config.Session.CleanupInterval) })
	spawn(func() { e.limiter.RunSweeper(ctx, e.config.RateLimit.SweepInterval) })
	spawn(func() { e.sweepThrottles(ctx, e.config.Lockout.Window) })
	if mem, ok := e.states.(*oauth.MemoryStateStore); ok {
		spawn(func() { mem.RunSweeper(ctx, e.config.OAuth.SweepInterval) })
	}

	wg.Wait()
}

func (e *Engine) sweepThrottles(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.loginThrottle.Sweep() + e.twoFactorGuard.Sweep(); n > 0 {
				e.logger.Debug("login throttle sweep", zap.Int("removed", n))
			}
		}
	}
}

package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sportsai/authcore/internal/clock"
)

// DefaultIdleTTL is how long an untouched bucket survives before a sweep
// removes it.
const DefaultIdleTTL = 24 * time.Hour

// Store persists buckets. Take and Peek must be atomic per key.
type Store interface {
	Take(ctx context.Context, key string, rule Rule, now time.Time) (remaining int, allowed bool, err error)
	Peek(ctx context.Context, key string, rule Rule, now time.Time) (remaining int, err error)
	Sweep(ctx context.Context, idleBefore time.Time) (int, error)
}

// Principal identifies who is making a request.
type Principal struct {
	UserID string
	IP     string
	Tier   Tier
}

// Key is the bucket identifier for principal on endpoint.
func (p Principal) Key(endpoint string) string {
	if p.UserID != "" {
		return "user:" + p.UserID + ":" + endpoint
	}
	return "ip:" + p.IP + ":" + endpoint
}

// effectiveTier drops the tier of anonymous callers.
func (p Principal) effectiveTier() Tier {
	if p.UserID == "" {
		return TierNone
	}
	return p.Tier
}

// Decision is the outcome of one CheckAndConsume call.
type Decision struct {
	Allowed    bool
	Remaining  int
	Limit      int
	RetryAfter int
	ResetAt    time.Time
}

// Status reports bucket state without consuming a token.
type Status struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Config configures a Limiter.
type Config struct {
	Table   Table
	IdleTTL time.Duration
	Clock   clock.Clock
	Logger  *zap.Logger
}

// Limiter is a per-identifier token bucket limiter.
type Limiter struct {
	table   Table
	store   Store
	idleTTL time.Duration
	clock   clock.Clock
	logger  *zap.Logger
}

// NewLimiter validates cfg and returns a limiter over store.
func NewLimiter(store Store, cfg Config) (*Limiter, error) {
	if err := cfg.Table.Validate(); err != nil {
		return nil, err
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		table:   cfg.Table,
		store:   store,
		idleTTL: cfg.IdleTTL,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}, nil
}

// CheckAndConsume refills the principal's bucket for endpoint and tries to
// take one token.
func (l *Limiter) CheckAndConsume(ctx context.Context, p Principal, endpoint string) (Decision, error) {
	rule := l.table.Resolve(endpoint, p.effectiveTier())
	now := l.clock.Now()

	remaining, allowed, err := l.store.Take(ctx, p.Key(endpoint), rule, now)
	if err != nil {
		return Decision{Limit: rule.MaxTokens}, err
	}
	d := decide(rule, remaining, allowed, now)
	if !allowed {
		l.logger.Debug("rate limit refused",
			zap.String("endpoint", endpoint),
			zap.Bool("authenticated", p.UserID != ""),
			zap.Int("retry_after", d.RetryAfter),
		)
	}
	return d, nil
}

// Status returns the current state of the principal's bucket for endpoint.
func (l *Limiter) Status(ctx context.Context, p Principal, endpoint string) (Status, error) {
	rule := l.table.Resolve(endpoint, p.effectiveTier())
	now := l.clock.Now()

	remaining, err := l.store.Peek(ctx, p.Key(endpoint), rule, now)
	if err != nil {
		return Status{Limit: rule.MaxTokens}, err
	}
	return status(rule, remaining, now), nil
}

// Sweep removes buckets idle for longer than the configured TTL.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx, l.clock.Now().Add(-l.idleTTL))
}

// RunSweeper sweeps every interval until ctx is done.
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if err != nil {
				l.logger.Warn("rate limit sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				l.logger.Debug("rate limit sweep", zap.Int("removed", n))
			}
		}
	}
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sportsai/authcore/internal/clock"
)

// LockoutConfig shapes the failed-login throttle.
type LockoutConfig struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

// DefaultLockoutConfig is 5 failures per 15 minutes, then a 15 minute lockout.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 15 * time.Minute}
}

// LockoutState is the result of a check or a recorded failure.
type LockoutState struct {
	Locked            bool
	RetryAfter        int
	AttemptsRemaining int
}

// LockoutStore persists per-key failure counters. Both operations must be
// atomic per key.
type LockoutStore interface {
	Check(ctx context.Context, key string, cfg LockoutConfig, now time.Time) (LockoutState, error)
	RecordFailure(ctx context.Context, key string, cfg LockoutConfig, now time.Time) (LockoutState, error)
	Reset(ctx context.Context, key string) error
}

// LoginThrottle counts failed password checks per normalized email. It is
// independent of the token bucket limiter.
type LoginThrottle struct {
	store  LockoutStore
	config LockoutConfig
	clock  clock.Clock
}

// NewLoginThrottle returns a throttle over store. A nil store keeps state
// in memory; a nil clock uses wall time.
func NewLoginThrottle(store LockoutStore, cfg LockoutConfig, clk clock.Clock) *LoginThrottle {
	if store == nil {
		store = NewMemoryLockoutStore()
	}
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultLockoutConfig()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &LoginThrottle{store: store, config: cfg, clock: clk}
}

// Key normalizes an email into a throttle key.
func (t *LoginThrottle) Key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Check reports whether email is currently locked out.
func (t *LoginThrottle) Check(ctx context.Context, email string) (LockoutState, error) {
	if t == nil {
		return LockoutState{}, nil
	}
	return t.store.Check(ctx, t.Key(email), t.config, t.clock.Now())
}

// RecordFailure counts one failed attempt. The returned state is Locked
// when this failure reached the threshold.
func (t *LoginThrottle) RecordFailure(ctx context.Context, email string) (LockoutState, error) {
	if t == nil {
		return LockoutState{}, nil
	}
	return t.store.RecordFailure(ctx, t.Key(email), t.config, t.clock.Now())
}

// Clear forgets all failures for email.
func (t *LoginThrottle) Clear(ctx context.Context, email string) error {
	if t == nil {
		return nil
	}
	return t.store.Reset(ctx, t.Key(email))
}

// Sweep drops entries whose window and lockout have both lapsed.
func (t *LoginThrottle) Sweep() int {
	if t == nil {
		return 0
	}
	m, ok := t.store.(*MemoryLockoutStore)
	if !ok {
		return 0
	}
	return m.sweep(t.config, t.clock.Now())
}

func retrySeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

type lockoutEntry struct {
	attempts     int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// MemoryLockoutStore keeps failure counters in process memory.
type MemoryLockoutStore struct {
	entries *shardedMap[lockoutEntry]
}

// NewMemoryLockoutStore returns an empty in-process lockout store.
func NewMemoryLockoutStore() *MemoryLockoutStore {
	return &MemoryLockoutStore{entries: newShardedMap[lockoutEntry]()}
}

func (s *MemoryLockoutStore) Check(_ context.Context, key string, cfg LockoutConfig, now time.Time) (LockoutState, error) {
	state := LockoutState{AttemptsRemaining: cfg.MaxAttempts}
	s.entries.update(key, func(e lockoutEntry, ok bool) (lockoutEntry, bool) {
		if !ok {
			return e, false
		}
		if e.lockedUntil.After(now) {
			state = LockoutState{Locked: true, RetryAfter: retrySeconds(e.lockedUntil.Sub(now))}
			return e, true
		}
		if now.Sub(e.firstAttempt) > cfg.Window {
			return e, false
		}
		if e.attempts >= cfg.MaxAttempts {
			e.lockedUntil = now.Add(cfg.Lockout)
			state = LockoutState{Locked: true, RetryAfter: retrySeconds(cfg.Lockout)}
			return e, true
		}
		state.AttemptsRemaining = cfg.MaxAttempts - e.attempts
		return e, true
	})
	return state, nil
}

func (s *MemoryLockoutStore) RecordFailure(_ context.Context, key string, cfg LockoutConfig, now time.Time) (LockoutState, error) {
	var state LockoutState
	s.entries.update(key, func(e lockoutEntry, ok bool) (lockoutEntry, bool) {
		if !ok || now.Sub(e.firstAttempt) > cfg.Window {
			e = lockoutEntry{attempts: 1, firstAttempt: now}
		} else {
			e.attempts++
		}
		if e.attempts >= cfg.MaxAttempts {
			e.lockedUntil = now.Add(cfg.Lockout)
			state = LockoutState{Locked: true, RetryAfter: retrySeconds(cfg.Lockout)}
			return e, true
		}
		state = LockoutState{AttemptsRemaining: cfg.MaxAttempts - e.attempts}
		return e, true
	})
	return state, nil
}

func (s *MemoryLockoutStore) Reset(_ context.Context, key string) error {
	s.entries.update(key, func(e lockoutEntry, _ bool) (lockoutEntry, bool) {
		return e, false
	})
	return nil
}

func (s *MemoryLockoutStore) sweep(cfg LockoutConfig, now time.Time) int {
	return s.entries.deleteIf(func(e lockoutEntry) bool {
		return !e.lockedUntil.After(now) && now.Sub(e.firstAttempt) > cfg.Window
	})
}

// RedisLockoutStore keeps counters in Redis. The attempt counter uses a
// fixed window from the first failure; the lock is a separate key with the
// lockout TTL.
type RedisLockoutStore struct {
	redis redis.UniversalClient
}

// NewRedisLockoutStore returns a lockout store on client.
func NewRedisLockoutStore(client redis.UniversalClient) *RedisLockoutStore {
	return &RedisLockoutStore{redis: client}
}

func (s *RedisLockoutStore) attemptsKey(key string) string { return "llo:a:" + key }
func (s *RedisLockoutStore) lockKey(key string) string     { return "llo:l:" + key }

func (s *RedisLockoutStore) Check(ctx context.Context, key string, cfg LockoutConfig, _ time.Time) (LockoutState, error) {
	ttl, err := s.redis.PTTL(ctx, s.lockKey(key)).Result()
	if err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl > 0 {
		return LockoutState{Locked: true, RetryAfter: retrySeconds(ttl)}, nil
	}

	count, err := s.redis.Get(ctx, s.attemptsKey(key)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return LockoutState{AttemptsRemaining: cfg.MaxAttempts}, nil
		}
		return LockoutState{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return LockoutState{AttemptsRemaining: max(cfg.MaxAttempts-count, 0)}, nil
}

func (s *RedisLockoutStore) RecordFailure(ctx context.Context, key string, cfg LockoutConfig, _ time.Time) (LockoutState, error) {
	attempts := s.attemptsKey(key)
	count, err := s.redis.Incr(ctx, attempts).Result()
	if err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.PExpire(ctx, attempts, cfg.Window).Err(); err != nil {
			return LockoutState{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	if count < int64(cfg.MaxAttempts) {
		return LockoutState{AttemptsRemaining: cfg.MaxAttempts - int(count)}, nil
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.lockKey(key), "1", cfg.Lockout)
	pipe.Del(ctx, attempts)
	if _, err := pipe.Exec(ctx); err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return LockoutState{Locked: true, RetryAfter: retrySeconds(cfg.Lockout)}, nil
}

func (s *RedisLockoutStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.attemptsKey(key), s.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

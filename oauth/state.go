package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sportsai/authcore/internal/clock"
)

// DefaultStateTTL is how long an authorization URL stays redeemable.
const DefaultStateTTL = 10 * time.Minute

// State is what the broker remembers between issuing an authorization URL
// and receiving its callback.
type State struct {
	State       string    `json:"state"`
	Nonce       string    `json:"nonce,omitempty"`
	Provider    string    `json:"provider"`
	RedirectURI string    `json:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at"`
}

// StateStore holds pending states. Take removes the entry whether or not it
// has expired and returns ErrStateInvalid when it is absent or stale.
type StateStore interface {
	Save(ctx context.Context, s State, ttl time.Duration) error
	Take(ctx context.Context, state string) (*State, error)
}

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

// MemoryStateStore keeps states in process memory. Expiry is checked on
// read; Sweep bounds growth.
type MemoryStateStore struct {
	entries sync.Map
	clock   clock.Clock
}

// NewMemoryStateStore returns an empty store. A nil clock uses wall time.
func NewMemoryStateStore(clk clock.Clock) *MemoryStateStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryStateStore{clock: clk}
}

// Save records s until ttl elapses.
func (m *MemoryStateStore) Save(_ context.Context, s State, ttl time.Duration) error {
	m.entries.Store(s.State, memoryEntry{state: s, expiresAt: m.clock.Now().Add(ttl)})
	return nil
}

// Take deletes and returns the state.
func (m *MemoryStateStore) Take(_ context.Context, state string) (*State, error) {
	v, ok := m.entries.LoadAndDelete(state)
	if !ok {
		return nil, ErrStateInvalid
	}
	e := v.(memoryEntry)
	if !m.clock.Now().Before(e.expiresAt) {
		return nil, ErrStateInvalid
	}
	s := e.state
	return &s, nil
}

// Sweep drops expired states and returns how many were removed.
func (m *MemoryStateStore) Sweep() int {
	now := m.clock.Now()
	removed := 0
	m.entries.Range(func(k, v any) bool {
		if !now.Before(v.(memoryEntry).expiresAt) {
			m.entries.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

// Len reports the number of stored states, expired or not.
func (m *MemoryStateStore) Len() int {
	n := 0
	m.entries.Range(func(any, any) bool { n++; return true })
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *MemoryStateStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

const redisStatePrefix = "oauth:state:"

// RedisStateStore shares pending states across instances. Redis key expiry
// replaces the sweep.
type RedisStateStore struct {
	client redis.UniversalClient
}

// NewRedisStateStore wraps client.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Save writes s with a TTL.
func (r *RedisStateStore) Save(ctx context.Context, s State, ttl time.Duration) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisStatePrefix+s.State, payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}
	return nil
}

// Take reads and deletes the state in one GETDEL.
func (r *RedisStateStore) Take(ctx context.Context, state string) (*State, error) {
	raw, err := r.client.GetDel(ctx, redisStatePrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateStoreUnavailable, err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, ErrStateInvalid
	}
	return &s, nil
}

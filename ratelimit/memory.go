package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

// shardedMap spreads keys over independently locked shards so unrelated
// principals never contend on one mutex.
type shardedMap[V any] struct {
	shards [shardCount]shard[V]
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

func newShardedMap[V any]() *shardedMap[V] {
	m := &shardedMap[V]{}
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return m
}

func (m *shardedMap[V]) shardFor(key string) *shard[V] {
	return &m.shards[xxhash.Sum64String(key)%shardCount]
}

// update runs fn under the key's shard lock. fn returns the new value and
// whether to keep it.
func (m *shardedMap[V]) update(key string, fn func(v V, ok bool) (V, bool)) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[key]
	next, keep := fn(cur, ok)
	if keep {
		s.items[key] = next
	} else if ok {
		delete(s.items, key)
	}
}

// deleteIf removes every entry for which drop returns true.
func (m *shardedMap[V]) deleteIf(drop func(V) bool) int {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.items {
			if drop(v) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (m *shardedMap[V]) len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// MemoryStore keeps buckets in process memory.
type MemoryStore struct {
	buckets *shardedMap[Bucket]
}

// NewMemoryStore returns an empty in-process bucket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: newShardedMap[Bucket]()}
}

func (s *MemoryStore) Take(_ context.Context, key string, rule Rule, now time.Time) (int, bool, error) {
	var (
		remaining int
		allowed   bool
	)
	s.buckets.update(key, func(b Bucket, ok bool) (Bucket, bool) {
		if !ok {
			b = newBucket(rule, now)
		}
		allowed = b.take(rule, now)
		remaining = b.Tokens
		return b, true
	})
	return remaining, allowed, nil
}

func (s *MemoryStore) Peek(_ context.Context, key string, rule Rule, now time.Time) (int, error) {
	var remaining int
	s.buckets.update(key, func(b Bucket, ok bool) (Bucket, bool) {
		if !ok {
			b = newBucket(rule, now)
		}
		b.refill(rule, now)
		remaining = b.Tokens
		return b, true
	})
	return remaining, nil
}

func (s *MemoryStore) Sweep(_ context.Context, idleBefore time.Time) (int, error) {
	return s.buckets.deleteIf(func(b Bucket) bool {
		return b.LastSeen.Before(idleBefore)
	}), nil
}

// Len reports the number of live buckets.
func (s *MemoryStore) Len() int {
	return s.buckets.len()
}

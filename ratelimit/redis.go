package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript mirrors Bucket.take. ARGV: max, rate, now_ms, ttl_ms, consume.
var takeScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local consume = tonumber(ARGV[5])

local data = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil or last == nil then
  tokens = max
  last = now
end

if now > last then
  local add = math.floor((now - last) / 1000 * rate)
  if add > 0 then
    tokens = tokens + add
    last = now
  end
end
if tokens > max then
  tokens = max
end

local allowed = 0
if consume == 1 and tokens > 0 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last', last)
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, tokens}
`)

// RedisStore shares buckets across processes. Idle buckets expire through
// key TTLs, so Sweep has nothing to do.
type RedisStore struct {
	redis   redis.UniversalClient
	prefix  string
	idleTTL time.Duration
}

// NewRedisStore returns a bucket store on client. Keys are namespaced "rl:".
func NewRedisStore(client redis.UniversalClient, idleTTL time.Duration) *RedisStore {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &RedisStore{redis: client, prefix: "rl:", idleTTL: idleTTL}
}

func (s *RedisStore) Take(ctx context.Context, key string, rule Rule, now time.Time) (int, bool, error) {
	return s.run(ctx, key, rule, now, true)
}

func (s *RedisStore) Peek(ctx context.Context, key string, rule Rule, now time.Time) (int, error) {
	remaining, _, err := s.run(ctx, key, rule, now, false)
	return remaining, err
}

func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) run(ctx context.Context, key string, rule Rule, now time.Time, consume bool) (int, bool, error) {
	flag := "0"
	if consume {
		flag = "1"
	}
	res, err := takeScript.Run(ctx, s.redis, []string{s.prefix + key},
		rule.MaxTokens,
		strconv.FormatFloat(rule.RefillRate, 'f', -1, 64),
		now.UnixMilli(),
		s.idleTTL.Milliseconds(),
		flag,
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("%w: unexpected script reply", ErrStoreUnavailable)
	}
	return int(res[1]), res[0] == 1, nil
}

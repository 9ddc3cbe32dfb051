// Package ratelimit implements the per-identifier token bucket limiter and
// the failed-login throttle.
//
// # Buckets
//
// Each (principal, endpoint) pair owns one bucket keyed "user:<id>:<endpoint>"
// or "ip:<addr>:<endpoint>". The bucket shape comes from a [Table] lookup over
// endpoint and subscription tier. Refill is lazy: whole tokens are added on
// access in proportion to elapsed time, capped at capacity.
//
// Two stores are provided. [MemoryStore] shards keys over independently
// locked maps. [RedisStore] runs the same arithmetic in a Lua script so the
// read-modify-write is atomic across processes.
//
// # Login throttle
//
// [LoginThrottle] counts failed password checks per lowercased email and
// locks the key out once the threshold is reached inside the window. It
// shares nothing with the bucket limiter.
//
// # What this package must NOT do
//
//   - Decide HTTP responses; see package middleware.
//   - Know about users beyond an opaque id and tier.
package ratelimit

package ratelimit

import (
	"math"
	"time"
)

// Bucket is the persisted state for one (principal, endpoint) pair.
type Bucket struct {
	Tokens     int
	LastRefill time.Time
	LastSeen   time.Time
}

func newBucket(rule Rule, now time.Time) Bucket {
	return Bucket{Tokens: rule.MaxTokens, LastRefill: now, LastSeen: now}
}

// refill adds floor(elapsed*rate) whole tokens. LastRefill only moves when a
// token was added so partial progress carries over to the next call.
func (b *Bucket) refill(rule Rule, now time.Time) {
	elapsed := now.Sub(b.LastRefill).Seconds()
	if elapsed > 0 {
		add := int(math.Floor(elapsed * rule.RefillRate))
		if add > 0 {
			b.Tokens += add
			b.LastRefill = now
		}
	}
	if b.Tokens > rule.MaxTokens {
		b.Tokens = rule.MaxTokens
	}
	b.LastSeen = now
}

// take refills, then consumes one token if available.
func (b *Bucket) take(rule Rule, now time.Time) bool {
	b.refill(rule, now)
	if b.Tokens <= 0 {
		return false
	}
	b.Tokens--
	return true
}

func decide(rule Rule, tokens int, allowed bool, now time.Time) Decision {
	d := Decision{
		Allowed:   allowed,
		Remaining: tokens,
		Limit:     rule.MaxTokens,
	}
	if !allowed {
		d.Remaining = 0
		d.RetryAfter = rule.RetryAfter()
		d.ResetAt = now.Add(time.Duration(d.RetryAfter) * time.Second)
	}
	return d
}

func status(rule Rule, tokens int, now time.Time) Status {
	missing := rule.MaxTokens - tokens
	if missing < 0 {
		missing = 0
	}
	secondsToFull := int(math.Ceil(float64(missing) / rule.RefillRate))
	return Status{
		Remaining: tokens,
		Limit:     rule.MaxTokens,
		ResetAt:   now.Add(time.Duration(secondsToFull) * time.Second),
	}
}

package ratelimit

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// Tier is a subscription tier. The zero value is an unauthenticated caller.
type Tier string

const (
	TierNone    Tier = ""
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	TierPro     Tier = "pro"
	TierAdmin   Tier = "admin"
)

// ParseTier maps a stored subscription tier to a Tier. Unknown and empty
// values map to TierFree.
func ParseTier(s string) Tier {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierFree, TierPremium, TierPro, TierAdmin:
		return t
	}
	return TierFree
}

// Rule is a bucket shape: capacity plus a refill rate in tokens per second.
type Rule struct {
	MaxTokens  int
	RefillRate float64
}

// PerWindow builds a rule that refills n tokens over window.
func PerWindow(n int, window time.Duration) Rule {
	return Rule{MaxTokens: n, RefillRate: float64(n) / window.Seconds()}
}

// RetryAfter is the number of seconds until one more token is available.
func (r Rule) RetryAfter() int {
	if r.RefillRate <= 0 {
		return 0
	}
	return int(math.Ceil(1 / r.RefillRate))
}

func (r Rule) valid() bool {
	return r.MaxTokens > 0 && r.RefillRate > 0
}

// Table resolves the rule for an endpoint and tier.
//
// Lookup order:
//  1. Endpoints[endpoint][tier]
//  2. Endpoints[endpoint][TierFree]
//  3. Tiers[tier]
//  4. Default
//
// Steps 1 and 3 are skipped for TierNone, so an unauthenticated caller never
// receives a tier-specific allowance.
type Table struct {
	Default   Rule
	Tiers     map[Tier]Rule
	Endpoints map[string]map[Tier]Rule
}

// DefaultTable returns the production limits.
func DefaultTable() Table {
	return Table{
		Default: Rule{MaxTokens: 60, RefillRate: 1},
		Tiers: map[Tier]Rule{
			TierFree:    PerWindow(100, time.Minute),
			TierPremium: PerWindow(300, time.Minute),
			TierPro:     PerWindow(600, time.Minute),
			TierAdmin:   PerWindow(1200, time.Minute),
		},
		Endpoints: map[string]map[Tier]Rule{
			"/v1/auth/login":           {TierFree: PerWindow(5, 15*time.Minute)},
			"/v1/auth/signup":          {TierFree: PerWindow(3, time.Hour)},
			"/v1/auth/forgot-password": {TierFree: PerWindow(3, time.Hour)},
			"/v1/credits/purchase": {
				TierFree:    PerWindow(10, time.Hour),
				TierPremium: PerWindow(30, time.Hour),
				TierPro:     PerWindow(60, time.Hour),
			},
			"/v1/arbitrage/unlock": {
				TierFree:    PerWindow(20, time.Hour),
				TierPremium: PerWindow(60, time.Hour),
				TierPro:     PerWindow(120, time.Hour),
			},
		},
	}
}

var routeParam = regexp.MustCompile(`/:[^/]+`)

// Resolve returns the rule that applies to endpoint for tier.
func (t Table) Resolve(endpoint string, tier Tier) Rule {
	if rules, ok := t.endpointRules(endpoint); ok {
		if tier != TierNone {
			if r, ok := rules[tier]; ok && r.valid() {
				return r
			}
		}
		if r, ok := rules[TierFree]; ok && r.valid() {
			return r
		}
	}
	if tier != TierNone {
		if r, ok := t.Tiers[tier]; ok && r.valid() {
			return r
		}
	}
	return t.Default
}

// endpointRules matches exactly first, then by the longest pattern prefix
// with route parameters stripped.
func (t Table) endpointRules(endpoint string) (map[Tier]Rule, bool) {
	if rules, ok := t.Endpoints[endpoint]; ok {
		return rules, true
	}
	var (
		best    map[Tier]Rule
		bestLen int
	)
	for pattern, rules := range t.Endpoints {
		prefix := routeParam.ReplaceAllString(pattern, "")
		if prefix == "" || !strings.HasPrefix(endpoint, prefix) {
			continue
		}
		if len(prefix) > bestLen {
			best, bestLen = rules, len(prefix)
		}
	}
	return best, best != nil
}

// Validate reports the first malformed rule in the table.
func (t Table) Validate() error {
	if !t.Default.valid() {
		return ErrInvalidRule
	}
	for _, r := range t.Tiers {
		if !r.valid() {
			return ErrInvalidRule
		}
	}
	for _, rules := range t.Endpoints {
		for _, r := range rules {
			if !r.valid() {
				return ErrInvalidRule
			}
		}
	}
	return nil
}

package middleware

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sportsai/authcore/ratelimit"
)

const tooManyRequests = "Too many requests. Please try again later."

// PrincipalFunc identifies the caller of r for rate limiting.
type PrincipalFunc func(r *http.Request) ratelimit.Principal

// TierFunc looks up the subscription tier of an authenticated user.
type TierFunc func(ctx context.Context, userID string) (ratelimit.Tier, error)

type rateOptions struct {
	principal PrincipalFunc
	tier      TierFunc
	logger    *zap.Logger
}

// RateOption configures RateLimit and EchoRateLimit.
type RateOption func(*rateOptions)

// WithPrincipal replaces the default principal, which is the user from
// RequireAccess claims when present and the client IP otherwise.
func WithPrincipal(fn PrincipalFunc) RateOption {
	return func(o *rateOptions) { o.principal = fn }
}

// WithTier resolves the tier of callers that carry RequireAccess claims.
// Without it, or when the lookup fails, they are treated as TierFree.
func WithTier(fn TierFunc) RateOption {
	return func(o *rateOptions) { o.tier = fn }
}

func WithLogger(l *zap.Logger) RateOption {
	return func(o *rateOptions) { o.logger = l }
}

func newRateOptions(opts []RateOption) rateOptions {
	o := rateOptions{principal: defaultPrincipal, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func defaultPrincipal(r *http.Request) ratelimit.Principal {
	p := ratelimit.Principal{IP: ratelimit.ClientIP(r)}
	if c, ok := ClaimsFromContext(r.Context()); ok {
		p.UserID = c.UserID()
		p.Tier = ratelimit.TierFree
	}
	return p
}

// endpoint is the request path without its query string.
func endpoint(r *http.Request) string {
	if r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

func (o rateOptions) resolve(r *http.Request) ratelimit.Principal {
	p := o.principal(r)
	if p.UserID == "" || o.tier == nil {
		return p
	}
	tier, err := o.tier(r.Context(), p.UserID)
	if err != nil {
		o.logger.Warn("tier lookup failed", zap.String("user_id", p.UserID), zap.Error(err))
		return p
	}
	if tier != ratelimit.TierNone {
		p.Tier = tier
	}
	return p
}

// limit consumes one token and writes the headers. It reports whether
// the request may proceed. A store failure lets the request through.
func limit(l *ratelimit.Limiter, o rateOptions, w http.ResponseWriter, r *http.Request) (ratelimit.Decision, bool) {
	d, err := l.CheckAndConsume(r.Context(), o.resolve(r), endpoint(r))
	if err != nil {
		o.logger.Warn("rate limit check failed", zap.String("endpoint", endpoint(r)), zap.Error(err))
		return d, true
	}

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(d.RetryAfter))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	return d, d.Allowed
}

func refusal(d ratelimit.Decision) map[string]any {
	return map[string]any{
		"statusCode": http.StatusTooManyRequests,
		"message":    tooManyRequests,
		"error":      "Too Many Requests",
		"retryAfter": d.RetryAfter,
	}
}

// RateLimit applies the limiter to every request.
func RateLimit(l *ratelimit.Limiter, opts ...RateOption) func(http.Handler) http.Handler {
	o := newRateOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, ok := limit(l, o, w, r)
			if !ok {
				writeJSON(w, http.StatusTooManyRequests, refusal(d))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

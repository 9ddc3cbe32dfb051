// Command authcore-loadtest replays match-day auth traffic against an
// in-process engine: a burst of signups followed by a weighted mix of
// access token checks, refresh rotations and session listings.
package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"github.com/sportsai/authcore"
	"github.com/sportsai/authcore/password"
	"github.com/sportsai/authcore/store/memory"
)

const (
	bettorPassword = "Odds#Load2026"
	bettorAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// bettor is one seeded account. Refresh rotates its pair, so reads and
// writes go through mu.
type bettor struct {
	mu      sync.Mutex
	userID  string
	access  string
	refresh string
}

func (b *bettor) accessToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.access
}

// action is one kind of request in the traffic mix.
type action struct {
	name   string
	weight int
	run    func(ctx context.Context, e *authcore.Engine, b *bettor) error
}

var mix = []action{
	{name: "verify", weight: 80, run: func(ctx context.Context, e *authcore.Engine, b *bettor) error {
		_, err := e.VerifyAccessToken(ctx, b.accessToken())
		return err
	}},
	{name: "refresh", weight: 15, run: func(ctx context.Context, e *authcore.Engine, b *bettor) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		res, err := e.Refresh(ctx, b.refresh)
		if err != nil {
			return err
		}
		b.access, b.refresh = res.AccessToken, res.RefreshToken
		return nil
	}},
	{name: "sessions", weight: 5, run: func(ctx context.Context, e *authcore.Engine, b *bettor) error {
		_, err := e.ListSessions(ctx, b.userID, "")
		return err
	}},
}

func main() {
	var (
		bettors     = flag.Int("users", 2000, "accounts to sign up before the mix starts")
		concurrency = flag.Int("concurrency", 64, "concurrent workers")
		requests    = flag.Int("ops", 50000, "requests in the mixed phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; falls back to REDIS_ADDR, then miniredis")
		argonMemory = flag.Uint32("argon2-memory", 8192, "argon2id memory in KiB for seeded accounts")
	)
	flag.Parse()

	if *bettors <= 0 || *concurrency <= 0 || *requests <= 0 {
		fmt.Fprintln(os.Stderr, "--users, --concurrency and --ops must be positive")
		os.Exit(2)
	}

	client, closeRedis, err := connectRedis(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeRedis()

	cfg := authcore.DefaultConfig()
	cfg.Password.Argon2 = password.Config{Memory: *argonMemory, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Locale.Disabled = true
	cfg.Audit.Enabled = false
	cfg.Rotation.FallbackSecret = "loadtest-fallback-secret"

	engine, err := authcore.New().WithConfig(cfg).WithStore(memory.New()).WithRedis(client).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := authcore.WithClientIP(authcore.WithUserAgent(context.Background(), bettorAgent), "198.51.100.7")
	if err := engine.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "initialize: %v\n", err)
		os.Exit(1)
	}

	pool, seeded, err := signupBettors(ctx, engine, *bettors)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("signed up %d bettors in %s\n", len(pool), seeded.Round(time.Millisecond))

	results, wall := replay(ctx, engine, pool, *requests, *concurrency)
	report(os.Stdout, results, wall)

	snap := engine.MetricsSnapshot()
	fmt.Printf("refresh_success=%d refresh_revoked=%d\n",
		snap.Counters[authcore.MetricRefreshSuccess], snap.Counters[authcore.MetricRefreshRevoked])
}

func connectRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("redis: %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("redis: miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func signupBettors(ctx context.Context, e *authcore.Engine, n int) ([]*bettor, time.Duration, error) {
	start := time.Now()
	pool := make([]*bettor, n)
	for i := range pool {
		t, err := e.Signup(ctx, fmt.Sprintf("bettor-%d@sportsai.test", i), bettorPassword)
		if err != nil {
			return nil, 0, fmt.Errorf("signup bettor %d: %w", i, err)
		}
		pool[i] = &bettor{userID: t.User.ID, access: t.AccessToken, refresh: t.RefreshToken}
	}
	return pool, time.Since(start), nil
}

// sample is one timed request.
type sample struct {
	action  int
	latency time.Duration
	failed  bool
}

// replay spreads requests over workers. Each worker keeps its own samples
// and they are merged after the run.
func replay(ctx context.Context, e *authcore.Engine, pool []*bettor, requests, workers int) ([][]sample, time.Duration) {
	total := 0
	for _, a := range mix {
		total += a.weight
	}

	perWorker := make([][]sample, workers)
	var wg sync.WaitGroup
	start := time.Now()
	for w := range workers {
		share := requests / workers
		if w < requests%workers {
			share++
		}
		wg.Add(1)
		go func(w, share int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w) + 1))
			out := make([]sample, 0, share)
			for range share {
				idx := pick(rng.Intn(total))
				b := pool[rng.Intn(len(pool))]
				t0 := time.Now()
				err := mix[idx].run(ctx, e, b)
				out = append(out, sample{action: idx, latency: time.Since(t0), failed: err != nil})
			}
			perWorker[w] = out
		}(w, share)
	}
	wg.Wait()
	return perWorker, time.Since(start)
}

// pick maps a roll in [0, sum of weights) to an index into mix.
func pick(roll int) int {
	for i, a := range mix {
		if roll < a.weight {
			return i
		}
		roll -= a.weight
	}
	return len(mix) - 1
}

// summary is the latency profile of one action.
type summary struct {
	count, failed int
	p50, p95, p99 time.Duration
	max           time.Duration
}

func summarize(latencies []time.Duration, failed int) summary {
	if len(latencies) == 0 {
		return summary{}
	}
	slices.Sort(latencies)
	return summary{
		count:  len(latencies),
		failed: failed,
		p50:    nearestRank(latencies, 0.50),
		p95:    nearestRank(latencies, 0.95),
		p99:    nearestRank(latencies, 0.99),
		max:    latencies[len(latencies)-1],
	}
}

// nearestRank returns the q-quantile of sorted using the nearest-rank
// method.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q * float64(len(sorted))))
	return sorted[max(rank, 1)-1]
}

func report(out *os.File, perWorker [][]sample, wall time.Duration) {
	latencies := make([][]time.Duration, len(mix))
	failures := make([]int, len(mix))
	requests := 0
	for _, samples := range perWorker {
		for _, s := range samples {
			latencies[s.action] = append(latencies[s.action], s.latency)
			if s.failed {
				failures[s.action]++
			}
			requests++
		}
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "action\trequests\tfailed\tp50\tp95\tp99\tmax\t")
	for i, a := range mix {
		s := summarize(latencies[i], failures[i])
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\t\n", a.name, s.count, s.failed,
			s.p50.Round(time.Microsecond), s.p95.Round(time.Microsecond),
			s.p99.Round(time.Microsecond), s.max.Round(time.Microsecond))
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "%d requests in %s (%.0f req/s)\n", requests, wall.Round(time.Millisecond),
		float64(requests)/wall.Seconds())
}

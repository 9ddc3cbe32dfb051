package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sportsai/authcore/internal/clock"
	"github.com/sportsai/authcore/internal/randutil"
)

const (
	day = 24 * time.Hour

	secretBytes = 64
)

var (
	// ErrNoActiveSecret is returned by Rotate when the store has no active row.
	ErrNoActiveSecret = errors.New("no active signing secret")
	// ErrStoreUnavailable wraps credential store failures.
	ErrStoreUnavailable = errors.New("signing secret store unavailable")
	// ErrInvalidConfig reports an unusable rotation configuration.
	ErrInvalidConfig = errors.New("invalid secret rotation config")
)

// Secret is one signing secret row.
type Secret struct {
	ID        string
	Material  []byte
	Version   int
	CreatedAt time.Time
	ExpiresAt time.Time
	Active    bool
	// RotatedAt is when the secret stopped signing. Zero while active.
	RotatedAt time.Time
}

// Versioned is a secret usable for verification.
type Versioned struct {
	Material []byte
	Version  int
}

// Store persists signing secrets.
type Store interface {
	CreateSigningSecret(ctx context.Context, s Secret) error
	DeactivateSigningSecret(ctx context.Context, id string, at time.Time) error
	ListSigningSecrets(ctx context.Context) ([]Secret, error)
	DeleteSigningSecrets(ctx context.Context, ids []string) error
}

// Config configures a Rotator.
type Config struct {
	RotationInterval time.Duration
	TransitionPeriod time.Duration
	RenewBefore      time.Duration
	MaxHistory       int
	CacheTTL         time.Duration
	// Fallback signs and verifies when the store is unreachable or empty.
	// It also seeds version 1 on first boot. When empty, random material
	// private to this process is generated instead.
	Fallback []byte
	// OnRotate, when set, is called after every successful rotation.
	OnRotate func(Rotation)
	Clock    clock.Clock
	Logger   *zap.Logger
}

// DefaultConfig is a 90 day rotation with a 7 day transition, 3 retained
// secrets, and a 5 minute verifier cache.
func DefaultConfig() Config {
	return Config{
		RotationInterval: 90 * day,
		TransitionPeriod: 7 * day,
		RenewBefore:      7 * day,
		MaxHistory:       3,
		CacheTTL:         5 * time.Minute,
	}
}

// Rotation reports the versions involved in one rotation.
type Rotation struct {
	OldVersion int
	NewVersion int
}

// Status summarizes the current signing secret.
type Status struct {
	CurrentVersion  int
	CreatedAt       time.Time
	ExpiresAt       time.Time
	DaysUntilExpiry float64
	NextRotation    time.Time
	TotalSecrets    int
	UsingFallback   bool
}

// Rotator owns the versioned signing secret set.
type Rotator struct {
	store  Store
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger

	rotateMu sync.Mutex

	cacheMu  sync.RWMutex
	cached   []Versioned
	cachedAt time.Time
}

// NewRotator validates cfg and returns a rotator over store.
func NewRotator(store Store, cfg Config) (*Rotator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	def := DefaultConfig()
	if cfg.RotationInterval == 0 {
		cfg.RotationInterval = def.RotationInterval
	}
	if cfg.TransitionPeriod == 0 {
		cfg.TransitionPeriod = def.TransitionPeriod
	}
	if cfg.RenewBefore == 0 {
		cfg.RenewBefore = def.RenewBefore
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.RotationInterval < 0 || cfg.TransitionPeriod < 0 || cfg.RenewBefore < 0 || cfg.CacheTTL < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	if cfg.RenewBefore >= cfg.RotationInterval {
		return nil, fmt.Errorf("%w: renew window must be shorter than rotation interval", ErrInvalidConfig)
	}
	if cfg.MaxHistory < 1 {
		return nil, fmt.Errorf("%w: max history must be >= 1", ErrInvalidConfig)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if len(cfg.Fallback) == 0 {
		material, err := randutil.Bytes(secretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate fallback secret: %w", err)
		}
		cfg.Logger.Warn("no fallback signing secret configured, generated a process-local one")
		cfg.Fallback = material
	}
	return &Rotator{store: store, cfg: cfg, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Initialize creates version 1 when the store has no active secret.
func (r *Rotator) Initialize(ctx context.Context) error {
	r.rotateMu.Lock()
	defer r.rotateMu.Unlock()

	all, err := r.store.ListSigningSecrets(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, ok := newestActive(all); ok {
		return nil
	}

	now := r.clock.Now()
	s := Secret{
		ID:        uuid.NewString(),
		Material:  append([]byte(nil), r.cfg.Fallback...),
		Version:   1,
		CreatedAt: now,
		ExpiresAt: now.Add(r.cfg.RotationInterval),
		Active:    true,
	}
	if err := r.store.CreateSigningSecret(ctx, s); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	r.invalidate()
	r.logger.Info("created initial signing secret", zap.Int("secret_version", 1))
	return nil
}

// ActiveSecret returns the material new tokens are signed with.
func (r *Rotator) ActiveSecret(ctx context.Context) Versioned {
	all, err := r.store.ListSigningSecrets(ctx)
	if err != nil {
		r.logger.Warn("signing secret lookup failed, using fallback", zap.Error(err))
		return r.fallback()
	}
	cur, ok := newestActive(all)
	if !ok {
		r.logger.Warn("no active signing secret, using fallback")
		return r.fallback()
	}
	return Versioned{Material: cur.Material, Version: cur.Version}
}

// ActiveSecrets returns the verification set: the active secret plus
// secrets rotated out within the transition period, newest first, capped
// at MaxHistory. The result is cached for CacheTTL.
func (r *Rotator) ActiveSecrets(ctx context.Context) []Versioned {
	now := r.clock.Now()

	r.cacheMu.RLock()
	if r.cached != nil && now.Sub(r.cachedAt) < r.cfg.CacheTTL {
		out := r.cached
		r.cacheMu.RUnlock()
		return out
	}
	r.cacheMu.RUnlock()

	all, err := r.store.ListSigningSecrets(ctx)
	if err != nil {
		r.logger.Warn("signing secret list failed, using fallback", zap.Error(err))
		return []Versioned{r.fallback()}
	}

	out := r.verificationSet(all, now)
	if len(out) == 0 {
		return []Versioned{r.fallback()}
	}

	r.cacheMu.Lock()
	r.cached = out
	r.cachedAt = now
	r.cacheMu.Unlock()
	return out
}

func (r *Rotator) verificationSet(all []Secret, now time.Time) []Versioned {
	cutoff := now.Add(-r.cfg.TransitionPeriod)
	sortNewestFirst(all)

	out := make([]Versioned, 0, r.cfg.MaxHistory)
	for _, s := range all {
		if len(out) == r.cfg.MaxHistory {
			break
		}
		if s.Active || !s.RotatedAt.Before(cutoff) {
			out = append(out, Versioned{Material: s.Material, Version: s.Version})
		}
	}
	return out
}

// Rotate creates version current+1, then deactivates the previous secret,
// then prunes. Readers always see at least one active secret.
func (r *Rotator) Rotate(ctx context.Context) (Rotation, error) {
	r.rotateMu.Lock()
	defer r.rotateMu.Unlock()
	return r.rotateLocked(ctx)
}

func (r *Rotator) rotateLocked(ctx context.Context) (Rotation, error) {
	all, err := r.store.ListSigningSecrets(ctx)
	if err != nil {
		return Rotation{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	cur, ok := newestActive(all)
	if !ok {
		return Rotation{}, ErrNoActiveSecret
	}

	material, err := randutil.Hex(secretBytes)
	if err != nil {
		return Rotation{}, err
	}

	now := r.clock.Now()
	next := Secret{
		ID:        uuid.NewString(),
		Material:  []byte(material),
		Version:   cur.Version + 1,
		CreatedAt: now,
		ExpiresAt: now.Add(r.cfg.RotationInterval),
		Active:    true,
	}
	if err := r.store.CreateSigningSecret(ctx, next); err != nil {
		return Rotation{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := r.store.DeactivateSigningSecret(ctx, cur.ID, now); err != nil {
		return Rotation{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	r.invalidate()

	if err := r.prune(ctx, now); err != nil {
		r.logger.Warn("signing secret prune failed", zap.Error(err))
	}

	r.logger.Info("rotated signing secret",
		zap.Int("old_version", cur.Version),
		zap.Int("new_version", next.Version),
	)
	rot := Rotation{OldVersion: cur.Version, NewVersion: next.Version}
	if r.cfg.OnRotate != nil {
		r.cfg.OnRotate(rot)
	}
	return rot, nil
}

// prune deletes the oldest inactive secrets that left the transition
// window, keeping at most MaxHistory of them.
func (r *Rotator) prune(ctx context.Context, now time.Time) error {
	all, err := r.store.ListSigningSecrets(ctx)
	if err != nil {
		return err
	}
	cutoff := now.Add(-r.cfg.TransitionPeriod)

	var stale []Secret
	for _, s := range all {
		if !s.Active && s.RotatedAt.Before(cutoff) {
			stale = append(stale, s)
		}
	}
	if len(stale) <= r.cfg.MaxHistory {
		return nil
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].Version < stale[j].Version })

	excess := stale[:len(stale)-r.cfg.MaxHistory]
	ids := make([]string, 0, len(excess))
	for _, s := range excess {
		ids = append(ids, s.ID)
	}
	if err := r.store.DeleteSigningSecrets(ctx, ids); err != nil {
		return err
	}
	for _, s := range excess {
		r.logger.Info("pruned signing secret", zap.Int("secret_version", s.Version))
	}
	return nil
}

// CheckAndRotate rotates when the active secret expires within RenewBefore.
// It seeds the store instead when no active secret exists.
func (r *Rotator) CheckAndRotate(ctx context.Context) (bool, error) {
	r.rotateMu.Lock()
	all, err := r.store.ListSigningSecrets(ctx)
	if err != nil {
		r.rotateMu.Unlock()
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	cur, ok := newestActive(all)
	if !ok {
		r.rotateMu.Unlock()
		return false, r.Initialize(ctx)
	}
	defer r.rotateMu.Unlock()

	remaining := cur.ExpiresAt.Sub(r.clock.Now())
	if remaining > r.cfg.RenewBefore {
		return false, nil
	}
	r.logger.Info("signing secret near expiry",
		zap.Int("secret_version", cur.Version),
		zap.Float64("days_until_expiry", remaining.Hours()/24),
	)
	if _, err := r.rotateLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Status reports the current signing secret for monitoring.
func (r *Rotator) Status(ctx context.Context) (Status, error) {
	all, err := r.store.ListSigningSecrets(ctx)
	if err != nil {
		return Status{UsingFallback: true}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	cur, ok := newestActive(all)
	if !ok {
		return Status{UsingFallback: true, TotalSecrets: len(all)}, nil
	}
	now := r.clock.Now()
	return Status{
		CurrentVersion:  cur.Version,
		CreatedAt:       cur.CreatedAt,
		ExpiresAt:       cur.ExpiresAt,
		DaysUntilExpiry: cur.ExpiresAt.Sub(now).Hours() / 24,
		NextRotation:    cur.ExpiresAt.Add(-r.cfg.RenewBefore),
		TotalSecrets:    len(all),
	}, nil
}

// Run checks for rotation once at start and then every interval until ctx
// is done.
func (r *Rotator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = day
	}
	r.runCheck(ctx)

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runCheck(ctx)
		}
	}
}

func (r *Rotator) runCheck(ctx context.Context) {
	if _, err := r.CheckAndRotate(ctx); err != nil {
		r.logger.Error("scheduled rotation check failed", zap.Error(err))
	}
}

func (r *Rotator) fallback() Versioned {
	return Versioned{Material: r.cfg.Fallback, Version: 0}
}

// Invalidate drops the cached verification set so the next ActiveSecrets
// call reads the store.
func (r *Rotator) Invalidate() {
	r.invalidate()
}

func (r *Rotator) invalidate() {
	r.cacheMu.Lock()
	r.cached = nil
	r.cacheMu.Unlock()
}

func newestActive(all []Secret) (Secret, bool) {
	var (
		best  Secret
		found bool
	)
	for _, s := range all {
		if s.Active && (!found || s.Version > best.Version) {
			best, found = s, true
		}
	}
	return best, found
}

func sortNewestFirst(all []Secret) {
	sort.Slice(all, func(i, j int) bool { return all[i].Version > all[j].Version })
}

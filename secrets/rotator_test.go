package secrets

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sportsai/authcore/internal/clock"
)

type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]Secret
	listErr error
	creates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]Secret)}
}

func (f *fakeStore) CreateSigningSecret(_ context.Context, s Secret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.ID] = s
	f.creates++
	return nil
}

func (f *fakeStore) DeactivateSigningSecret(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return errors.New("missing")
	}
	s.Active = false
	s.RotatedAt = at
	f.rows[id] = s
	return nil
}

func (f *fakeStore) ListSigningSecrets(context.Context) ([]Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Secret, 0, len(f.rows))
	for _, s := range f.rows {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) DeleteSigningSecrets(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.rows, id)
	}
	return nil
}

func (f *fakeStore) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.rows {
		if s.Active {
			n++
		}
	}
	return n
}

func newTestRotator(t *testing.T, store Store) (*Rotator, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))
	r, err := NewRotator(store, Config{Fallback: []byte("fallback-material"), Clock: clk})
	if err != nil {
		t.Fatalf("NewRotator failed: %v", err)
	}
	return r, clk
}

func TestInitializeSeedsVersionOneOnce(t *testing.T) {
	store := newFakeStore()
	r, _ := newTestRotator(t, store)
	ctx := context.Background()

	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if store.creates != 1 {
		t.Fatalf("expected exactly one seeded secret, got %d", store.creates)
	}

	active := r.ActiveSecret(ctx)
	if active.Version != 1 || string(active.Material) != "fallback-material" {
		t.Fatalf("unexpected active secret: version=%d", active.Version)
	}
}

func TestRotateKeepsExactlyOneActive(t *testing.T) {
	store := newFakeStore()
	r, clk := newTestRotator(t, store)
	ctx := context.Background()
	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		clk.Advance(time.Hour)
		rot, err := r.Rotate(ctx)
		if err != nil {
			t.Fatalf("Rotate failed: %v", err)
		}
		if rot.NewVersion != rot.OldVersion+1 {
			t.Fatalf("expected monotonic versions, got %+v", rot)
		}
		if n := store.activeCount(); n != 1 {
			t.Fatalf("expected one active secret after rotation, got %d", n)
		}
	}

	if v := r.ActiveSecret(ctx).Version; v != 4 {
		t.Fatalf("expected version 4 active, got %d", v)
	}
}

func TestActiveSecretsNewestFirstWithinTransition(t *testing.T) {
	store := newFakeStore()
	r, clk := newTestRotator(t, store)
	ctx := context.Background()
	_ = r.Initialize(ctx)

	clk.Advance(24 * time.Hour)
	if _, err := r.Rotate(ctx); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	set := r.ActiveSecrets(ctx)
	if len(set) != 2 {
		t.Fatalf("expected 2 verification secrets, got %d", len(set))
	}
	if set[0].Version != 2 || set[1].Version != 1 {
		t.Fatalf("expected [2 1], got [%d %d]", set[0].Version, set[1].Version)
	}

	// Past the transition window the old secret stops verifying.
	clk.Advance(8 * 24 * time.Hour)
	r.Invalidate()
	set = r.ActiveSecrets(ctx)
	if len(set) != 1 || set[0].Version != 2 {
		t.Fatalf("expected only version 2 after transition, got %+v", set)
	}
}

func TestActiveSecretsCappedAtMaxHistory(t *testing.T) {
	store := newFakeStore()
	r, clk := newTestRotator(t, store)
	ctx := context.Background()
	_ = r.Initialize(ctx)

	for i := 0; i < 5; i++ {
		clk.Advance(time.Minute)
		if _, err := r.Rotate(ctx); err != nil {
			t.Fatalf("Rotate failed: %v", err)
		}
	}

	set := r.ActiveSecrets(ctx)
	if len(set) != 3 {
		t.Fatalf("expected MaxHistory=3 secrets, got %d", len(set))
	}
	if set[0].Version != 6 || set[2].Version != 4 {
		t.Fatalf("unexpected order: %+v", set)
	}
}

func TestActiveSecretsCachedUntilRotation(t *testing.T) {
	store := newFakeStore()
	r, _ := newTestRotator(t, store)
	ctx := context.Background()
	_ = r.Initialize(ctx)

	first := r.ActiveSecrets(ctx)
	store.listErr = errors.New("down")
	cached := r.ActiveSecrets(ctx)
	if len(cached) != len(first) || cached[0].Version != first[0].Version {
		t.Fatal("expected cached verification set while store is down")
	}

	r.Invalidate()
	degraded := r.ActiveSecrets(ctx)
	if len(degraded) != 1 || degraded[0].Version != 0 {
		t.Fatalf("expected fallback after invalidation, got %+v", degraded)
	}
}

func TestStoreFailureFallsBack(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("connection refused")
	r, _ := newTestRotator(t, store)

	got := r.ActiveSecret(context.Background())
	if got.Version != 0 || string(got.Material) != "fallback-material" {
		t.Fatalf("expected fallback secret, got version %d", got.Version)
	}

	if _, err := r.Rotate(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from Rotate, got %v", err)
	}
}

func TestCheckAndRotateNearExpiry(t *testing.T) {
	store := newFakeStore()
	r, clk := newTestRotator(t, store)
	ctx := context.Background()
	_ = r.Initialize(ctx)

	clk.Advance(80 * 24 * time.Hour)
	rotated, err := r.CheckAndRotate(ctx)
	if err != nil || rotated {
		t.Fatalf("expected no rotation 10 days before expiry, rotated=%v err=%v", rotated, err)
	}

	clk.Advance(4 * 24 * time.Hour)
	rotated, err = r.CheckAndRotate(ctx)
	if err != nil || !rotated {
		t.Fatalf("expected rotation 6 days before expiry, rotated=%v err=%v", rotated, err)
	}

	st, err := r.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.CurrentVersion != 2 || st.TotalSecrets != 2 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.DaysUntilExpiry < 89 {
		t.Fatalf("expected fresh secret, got %.1f days", st.DaysUntilExpiry)
	}
}

func TestCheckAndRotateSeedsEmptyStore(t *testing.T) {
	store := newFakeStore()
	r, _ := newTestRotator(t, store)

	if _, err := r.CheckAndRotate(context.Background()); err != nil {
		t.Fatalf("CheckAndRotate failed: %v", err)
	}
	if store.activeCount() != 1 {
		t.Fatal("expected CheckAndRotate to seed the first secret")
	}
}

func TestPruneDropsOldestBeyondHistory(t *testing.T) {
	store := newFakeStore()
	r, clk := newTestRotator(t, store)
	ctx := context.Background()
	_ = r.Initialize(ctx)

	for i := 0; i < 6; i++ {
		clk.Advance(10 * 24 * time.Hour)
		if _, err := r.Rotate(ctx); err != nil {
			t.Fatalf("Rotate failed: %v", err)
		}
	}

	all, _ := store.ListSigningSecrets(ctx)
	// One active plus at most MaxHistory stale rows, plus the row that is
	// still inside its transition window.
	if len(all) > 5 {
		t.Fatalf("expected pruning to bound history, have %d rows", len(all))
	}
	for _, s := range all {
		if s.Version == 1 {
			t.Fatal("expected version 1 to be pruned")
		}
	}
}

func TestMissingFallbackGeneratesPrivateMaterial(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))

	a, err := NewRotator(newFakeStore(), Config{Clock: clk})
	if err != nil {
		t.Fatalf("NewRotator failed: %v", err)
	}
	b, err := NewRotator(newFakeStore(), Config{Clock: clk})
	if err != nil {
		t.Fatalf("NewRotator failed: %v", err)
	}

	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	seeded := a.ActiveSecret(ctx)
	if len(seeded.Material) != secretBytes {
		t.Fatalf("expected %d bytes of seeded material, got %d", secretBytes, len(seeded.Material))
	}
	if string(seeded.Material) == "sportsai-secret-key-change-in-production" {
		t.Fatal("seeded material must not be a well-known literal")
	}
	if bytes.Equal(a.fallback().Material, b.fallback().Material) {
		t.Fatal("two rotators without a fallback must not share material")
	}
}

func TestNewRotatorRejectsBadConfig(t *testing.T) {
	if _, err := NewRotator(nil, Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for nil store, got %v", err)
	}
	_, err := NewRotator(newFakeStore(), Config{RotationInterval: 24 * time.Hour, RenewBefore: 48 * time.Hour})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for renew window, got %v", err)
	}
}

func TestOnRotateHookFires(t *testing.T) {
	store := newFakeStore()
	var got []Rotation
	r, err := NewRotator(store, Config{
		Fallback: []byte("fallback-material"),
		Clock:    clock.Fake(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)),
		OnRotate: func(rot Rotation) { got = append(got, rot) },
	})
	if err != nil {
		t.Fatalf("NewRotator failed: %v", err)
	}
	ctx := context.Background()
	_ = r.Initialize(ctx)
	if _, err := r.Rotate(ctx); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if len(got) != 1 || got[0].OldVersion != 1 || got[0].NewVersion != 2 {
		t.Fatalf("unexpected hook calls %+v", got)
	}
}

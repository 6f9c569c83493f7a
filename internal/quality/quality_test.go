package quality

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/observability"
)

func sp(s string) *string { return &s }
func fp(f float64) *float64 { return &f }

type memStore struct {
	mu        sync.Mutex
	products  map[string]*domain.CanonicalProduct
	events    []*domain.LifecycleEvent
	snapshots []domain.BrandQualitySnapshot
}

func newMemStore(products ...*domain.CanonicalProduct) *memStore {
	m := &memStore{products: make(map[string]*domain.CanonicalProduct)}
	for _, p := range products {
		m.products[p.ProductKey] = p
	}
	return m
}

func (m *memStore) Get(ctx context.Context, key string) (*domain.CanonicalProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[key]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListByStatus(ctx context.Context, status domain.LifecycleStatus) ([]*domain.CanonicalProduct, error) {
	var out []*domain.CanonicalProduct
	for _, p := range m.sorted() {
		if p.LifecycleStatus == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListAll(ctx context.Context) ([]*domain.CanonicalProduct, error) {
	return m.sorted(), nil
}

func (m *memStore) sorted() []*domain.CanonicalProduct {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.CanonicalProduct, 0, len(m.products))
	for _, p := range m.products {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductKey < out[j].ProductKey })
	return out
}

func (m *memStore) TransitionStatus(ctx context.Context, key string, from, to domain.LifecycleStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[key]
	if !ok || p.LifecycleStatus != from {
		return false, nil
	}
	p.LifecycleStatus = to
	return true, nil
}

func (m *memStore) Record(ctx context.Context, e *domain.LifecycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) ReplaceAll(ctx context.Context, s []domain.BrandQualitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = s
	return nil
}

func newTestService(store *memStore, c cache.Client) *Service {
	return NewService(store, store, store, c, time.Minute, DefaultPolicy(), observability.NopLogger())
}

func completeProduct(key string) *domain.CanonicalProduct {
	return &domain.CanonicalProduct{
		ProductKey:        key,
		BrandSlug:         "acana",
		Brand:             "Acana",
		ImageURL:          sp("https://img/" + key),
		IngredientsTokens: []string{"chicken"},
		Nutrients:         domain.Nutrients{ProteinPercent: fp(28)},
		LifecycleStatus:   domain.StatusPending,
	}
}

func TestPromotable(t *testing.T) {
	complete := completeProduct("a")
	assert.True(t, Promotable(complete))

	noImage := completeProduct("b")
	noImage.ImageURL = nil
	assert.False(t, Promotable(noImage))

	emptyImage := completeProduct("c")
	emptyImage.ImageURL = sp("")
	assert.False(t, Promotable(emptyImage))

	noIngredients := completeProduct("d")
	noIngredients.IngredientsTokens = nil
	assert.False(t, Promotable(noIngredients))

	noMacros := completeProduct("e")
	noMacros.ProteinPercent = nil
	assert.False(t, Promotable(noMacros))

	kcalOnly := completeProduct("f")
	kcalOnly.ProteinPercent = nil
	kcalOnly.KcalPer100g = fp(360)
	assert.True(t, Promotable(kcalOnly))

	fiberOnly := completeProduct("g")
	fiberOnly.ProteinPercent = nil
	fiberOnly.FiberPercent = fp(3)
	assert.False(t, Promotable(fiberOnly))
}

func TestValidateTransition(t *testing.T) {
	admin := Actor("ops@example.com")
	tests := []struct {
		name    string
		from    domain.LifecycleStatus
		to      domain.LifecycleStatus
		actor   Actor
		wantErr error
	}{
		{"gate promotes pending", domain.StatusPending, domain.StatusActive, ActorGate, nil},
		{"admin approves pending", domain.StatusPending, domain.StatusActive, admin, nil},
		{"admin rejects pending", domain.StatusPending, domain.StatusRejected, admin, nil},
		{"admin rejects active", domain.StatusActive, domain.StatusRejected, admin, nil},
		{"gate cannot reject", domain.StatusPending, domain.StatusRejected, ActorGate, ErrInvalidTransition},
		{"no demotion", domain.StatusActive, domain.StatusPending, admin, ErrInvalidTransition},
		{"rejected is terminal", domain.StatusRejected, domain.StatusActive, admin, ErrTerminalState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to, tt.actor)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestService_Promote(t *testing.T) {
	incomplete := completeProduct("acana|b|dry")
	incomplete.ImageURL = nil
	active := completeProduct("acana|c|dry")
	active.LifecycleStatus = domain.StatusActive
	store := newMemStore(completeProduct("acana|a|dry"), incomplete, active)

	res, err := newTestService(store, nil).Promote(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Evaluated)
	assert.Equal(t, 1, res.Promoted)
	assert.Equal(t, domain.StatusActive, store.products["acana|a|dry"].LifecycleStatus)
	assert.Equal(t, domain.StatusPending, store.products["acana|b|dry"].LifecycleStatus)
	require.Len(t, store.events, 1)
	assert.Equal(t, string(ActorGate), store.events[0].Actor)
}

func TestService_PromoteNeverDemotes(t *testing.T) {
	// an ACTIVE product that later loses its image stays ACTIVE
	active := completeProduct("acana|a|dry")
	active.LifecycleStatus = domain.StatusActive
	active.ImageURL = nil
	store := newMemStore(active)

	_, err := newTestService(store, nil).Promote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, store.products["acana|a|dry"].LifecycleStatus)
}

func TestService_AdminOverrides(t *testing.T) {
	ctx := context.Background()
	incomplete := completeProduct("acana|a|dry")
	incomplete.ImageURL = nil
	store := newMemStore(incomplete, completeProduct("acana|b|dry"))
	svc := newTestService(store, nil)

	require.NoError(t, svc.Approve(ctx, "acana|a|dry", "ops", "manual review"))
	assert.Equal(t, domain.StatusActive, store.products["acana|a|dry"].LifecycleStatus)

	assert.ErrorIs(t, svc.Approve(ctx, "acana|b|dry", ActorGate, ""), ErrInvalidTransition)

	require.NoError(t, svc.Reject(ctx, "acana|a|dry", "ops", "wrong product"))
	assert.Equal(t, domain.StatusRejected, store.products["acana|a|dry"].LifecycleStatus)

	assert.ErrorIs(t, svc.Approve(ctx, "acana|a|dry", "ops", "undo"), ErrTerminalState)
	assert.Len(t, store.events, 2)
}

func TestComputeSnapshots_BrandGate(t *testing.T) {
	// 100 SKUs: ingredients 86%, form 90%, life stage 96%, kcal in range 91%
	var products []*domain.CanonicalProduct
	for i := 0; i < 100; i++ {
		p := &domain.CanonicalProduct{
			ProductKey: "brandx|p" + string(rune('a'+i%26)) + string(rune('a'+i/26)) + "|dry",
			BrandSlug:  "brandx",
			Brand:      "BrandX",
			Form:       domain.FormDry,
			LifeStage:  domain.LifeStageAdult,
		}
		if i < 86 {
			p.IngredientsTokens = []string{"chicken"}
		}
		if i >= 90 {
			p.Form = domain.FormUnknown
		}
		if i >= 96 {
			p.LifeStage = domain.LifeStageUnknown
		}
		if i < 91 {
			p.KcalPer100g = fp(380)
		} else if i < 95 {
			p.KcalPer100g = fp(120)
		}
		products = append(products, p)
	}

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	snaps := ComputeSnapshots(products, DefaultPolicy(), now)
	require.Len(t, snaps, 1)

	s := snaps[0]
	assert.Equal(t, 100, s.SKUCount)
	assert.Equal(t, 86.0, s.IngredientsCoverage)
	assert.Equal(t, 90.0, s.FormCoverage)
	assert.Equal(t, 96.0, s.LifeStageCoverage)
	assert.Equal(t, 91.0, s.KcalValidCoverage)
	assert.True(t, s.ProductionEligible)
	assert.Equal(t, now, s.ComputedAt)

	// one more unknown life stage drops it below 95%
	products[95].LifeStage = domain.LifeStageUnknown
	products[94].LifeStage = domain.LifeStageUnknown
	s = ComputeSnapshots(products, DefaultPolicy(), now)[0]
	assert.Equal(t, 94.0, s.LifeStageCoverage)
	assert.False(t, s.ProductionEligible)
}

func TestComputeSnapshots_ExcludesRejectedAndSorts(t *testing.T) {
	rejected := completeProduct("acana|r|dry")
	rejected.LifecycleStatus = domain.StatusRejected
	other := completeProduct("orijen|a|dry")
	other.BrandSlug = "orijen"
	other.Brand = "Orijen"

	snaps := ComputeSnapshots([]*domain.CanonicalProduct{other, rejected, completeProduct("acana|a|dry")}, DefaultPolicy(), time.Now())
	require.Len(t, snaps, 2)
	assert.Equal(t, "acana", snaps[0].BrandSlug)
	assert.Equal(t, 1, snaps[0].SKUCount)
	assert.Equal(t, "orijen", snaps[1].BrandSlug)
}

func TestPolicy_ThresholdsConfigurable(t *testing.T) {
	s := domain.BrandQualitySnapshot{SKUCount: 10, IngredientsCoverage: 80, FormCoverage: 100, LifeStageCoverage: 100, KcalValidCoverage: 100}
	assert.False(t, DefaultPolicy().Eligible(s))

	relaxed := DefaultPolicy()
	relaxed.IngredientsCoverage = 75
	assert.True(t, relaxed.Eligible(s))
}

func TestService_RecomputeSnapshotsCaches(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(completeProduct("acana|a|dry"))
	c := cache.NewMemoryClient(10)
	defer c.Close()

	snaps, err := newTestService(store, c).RecomputeSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, snaps, store.snapshots)

	var cached domain.BrandQualitySnapshot
	require.NoError(t, cache.GetJSON(ctx, c, cache.BrandQualityKey("acana"), &cached))
	assert.Equal(t, 1, cached.SKUCount)
}

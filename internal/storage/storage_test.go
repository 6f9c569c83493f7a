package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/domain"
)

func sp(s string) *string { return &s }
func fp(f float64) *float64 { return &f }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := Open(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "catalog.db"), MaxOpenConns: 1},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = NewMigrationManager(db, dialect).Migrate(ctx)
	require.NoError(t, err)
	return NewStore(db, dialect)
}

func testProduct(key, brandSlug string) *domain.CanonicalProduct {
	return &domain.CanonicalProduct{
		ProductKey:      key,
		Brand:           "Acana",
		BrandSlug:       brandSlug,
		ProductName:     "Adult Dog",
		NameSlug:        "adult-dog",
		Form:            domain.FormDry,
		LifeStage:       domain.LifeStageAdult,
		ProductURL:      sp("https://shop.example/acana-adult"),
		BaseURL:         sp("https://shop.example/acana-adult"),
		Source:          "zooplus",
		LifecycleStatus: domain.StatusPending,
	}
}

func TestDialect_Rebind(t *testing.T) {
	q := `SELECT * FROM t WHERE a = $1 AND b = $2 OR c = $1`
	assert.Equal(t, `SELECT * FROM t WHERE a = ?1 AND b = ?2 OR c = ?1`, DialectSQLite.Rebind(q))
	assert.Equal(t, q, DialectPostgres.Rebind(q))
}

func TestMigrationManager_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mm := NewMigrationManager(store.DB, store.Dialect)
	status, err := mm.CheckMigrations(ctx)
	require.NoError(t, err)
	assert.True(t, status.UpToDate)
	assert.Equal(t, []string{"0001_init_sqlite.sql"}, status.Applied)

	_, err = mm.Migrate(ctx)
	require.NoError(t, err)
}

func TestProductRepository_UpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := testProduct("acana|adult-dog|dry", "acana")
	p.IngredientsTokens = []string{"chicken", "oats"}
	p.ProteinPercent = fp(27)
	require.NoError(t, store.Products.UpsertBatch(ctx, []*domain.CanonicalProduct{p}))

	got, err := store.Products.Get(ctx, p.ProductKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"chicken", "oats"}, got.IngredientsTokens)
	assert.Equal(t, 27.0, *got.ProteinPercent)
	assert.Nil(t, got.FatPercent)
	assert.Equal(t, domain.FormDry, got.Form)
	assert.Equal(t, domain.StatusPending, got.LifecycleStatus)

	// a later write with missing fields keeps stored values and status
	moved, err := store.Products.TransitionStatus(ctx, p.ProductKey, domain.StatusPending, domain.StatusActive)
	require.NoError(t, err)
	require.True(t, moved)
	update := testProduct("acana|adult-dog|dry", "acana")
	update.FatPercent = fp(16)
	require.NoError(t, store.Products.UpsertBatch(ctx, []*domain.CanonicalProduct{update}))

	got, err = store.Products.Get(ctx, p.ProductKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"chicken", "oats"}, got.IngredientsTokens)
	assert.Equal(t, 27.0, *got.ProteinPercent)
	assert.Equal(t, 16.0, *got.FatPercent)
	assert.Equal(t, domain.StatusActive, got.LifecycleStatus)

	n, err := store.Products.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Products.Get(ctx, "missing|x|dry")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProductRepository_TransitionStatusGuardsFrom(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := testProduct("acana|adult-dog|dry", "acana")
	require.NoError(t, store.Products.UpsertBatch(ctx, []*domain.CanonicalProduct{p}))

	moved, err := store.Products.TransitionStatus(ctx, p.ProductKey, domain.StatusActive, domain.StatusRejected)
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = store.Products.TransitionStatus(ctx, p.ProductKey, domain.StatusPending, domain.StatusRejected)
	require.NoError(t, err)
	assert.True(t, moved)

	rejected, err := store.Products.ListByStatus(ctx, domain.StatusRejected)
	require.NoError(t, err)
	assert.Len(t, rejected, 1)
}

func TestProductRepository_ListView(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	eligibleActive := testProduct("acana|a|dry", "acana")
	eligibleActive.LifecycleStatus = domain.StatusActive
	eligiblePending := testProduct("acana|b|dry", "acana")
	otherActive := testProduct("orijen|a|dry", "orijen")
	otherActive.LifecycleStatus = domain.StatusActive
	rejected := testProduct("acana|c|dry", "acana")
	rejected.LifecycleStatus = domain.StatusRejected
	require.NoError(t, store.Products.UpsertBatch(ctx, []*domain.CanonicalProduct{eligibleActive, eligiblePending, otherActive, rejected}))

	now := time.Now().UTC()
	require.NoError(t, store.Snapshots.ReplaceAll(ctx, []domain.BrandQualitySnapshot{
		{BrandSlug: "acana", Brand: "Acana", SKUCount: 3, ProductionEligible: true, ComputedAt: now},
		{BrandSlug: "orijen", Brand: "Orijen", SKUCount: 1, ProductionEligible: false, ComputedAt: now},
	}))

	production, err := store.Products.ListView(ctx, ViewProduction, "")
	require.NoError(t, err)
	require.Len(t, production, 1)
	assert.Equal(t, "acana|a|dry", production[0].ProductKey)

	preview, err := store.Products.ListView(ctx, ViewPreview, "")
	require.NoError(t, err)
	assert.Len(t, preview, 3)

	preview, err = store.Products.ListView(ctx, ViewPreview, "orijen")
	require.NoError(t, err)
	require.Len(t, preview, 1)
	assert.Equal(t, "orijen|a|dry", preview[0].ProductKey)

	_, err = store.Products.ListView(ctx, View("draft"), "")
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestStagingRepository_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	recs := []*domain.StagingRecord{
		{BatchID: "b1", Source: "zooplus", RawBrand: "Acana", RawName: "Adult Dog", RawURL: "https://shop.example/a",
			IngredientsTokens: []string{"chicken"}, Nutrients: domain.Nutrients{KcalPer100g: fp(370)}},
		{BatchID: "b1", Source: "zooplus", RawName: ""},
		{BatchID: "b2", Source: "catalog_import", RawBrand: "Orijen", RawName: "Puppy"},
	}
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, r := range recs {
		r.CreatedAt = base.Add(time.Duration(i) * time.Second)
	}
	require.NoError(t, store.Staging.Insert(ctx, recs))
	for _, r := range recs {
		assert.NotEmpty(t, r.ID)
	}

	pending, err := store.Staging.ListUnprocessed(ctx, "b1", 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []string{"chicken"}, pending[0].IngredientsTokens)
	assert.Equal(t, 370.0, *pending[0].KcalPer100g)

	require.NoError(t, store.Staging.MarkMatched(ctx, recs[0].ID, domain.MatchNew, 0, "acana|adult-dog|unknown"))
	require.NoError(t, store.Staging.Quarantine(ctx, recs[1].ID, "missing product name"))

	pending, err = store.Staging.ListUnprocessed(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b2", pending[0].BatchID)

	n, err := store.Staging.CountQuarantined(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, store.Staging.Quarantine(ctx, "nope", "x"), ErrNotFound)
}

func TestBrandAliasRepository_UpsertMany(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	changed, err := store.Aliases.UpsertMany(ctx, []domain.BrandAlias{
		{Alias: "hills", CanonicalBrand: "Hill's"},
		{Alias: "hillsscienceplan", CanonicalBrand: "Hill's"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	changed, err = store.Aliases.UpsertMany(ctx, []domain.BrandAlias{
		{Alias: "hills", CanonicalBrand: "Hill's"},
		{Alias: "hillsscienceplan", CanonicalBrand: "Hill's Science Plan"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	all, err := store.Aliases.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Hill's Science Plan", all[1].CanonicalBrand)
}

func TestSnapshotRepository_ReplaceAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Snapshots.ReplaceAll(ctx, []domain.BrandQualitySnapshot{
		{BrandSlug: "acana", Brand: "Acana", SKUCount: 10, IngredientsCoverage: 90, ComputedAt: now},
		{BrandSlug: "orijen", Brand: "Orijen", SKUCount: 5, ComputedAt: now},
	}))
	require.NoError(t, store.Snapshots.ReplaceAll(ctx, []domain.BrandQualitySnapshot{
		{BrandSlug: "acana", Brand: "Acana", SKUCount: 12, IngredientsCoverage: 91.5, ProductionEligible: true, ComputedAt: now},
	}))

	all, err := store.Snapshots.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	s, err := store.Snapshots.Get(ctx, "acana")
	require.NoError(t, err)
	assert.Equal(t, 12, s.SKUCount)
	assert.Equal(t, 91.5, s.IngredientsCoverage)
	assert.True(t, s.ProductionEligible)

	_, err = store.Snapshots.Get(ctx, "orijen")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHarvestFailureRepository_Queue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Failures.Enqueue(ctx, "zooplus", "https://shop.example/a", "de", errors.New("timeout")))
	require.NoError(t, store.Failures.Enqueue(ctx, "zooplus", "https://shop.example/a", "se", errors.New("status 503")))
	require.NoError(t, store.Failures.Enqueue(ctx, "zooplus", "https://shop.example/b", "de", nil))

	open, err := store.Failures.ListOpen(ctx, "zooplus", 0)
	require.NoError(t, err)
	require.Len(t, open, 2)
	byURL := map[string]domain.HarvestFailure{}
	for _, f := range open {
		byURL[f.URL] = f
	}
	assert.Equal(t, 2, byURL["https://shop.example/a"].Attempts)
	assert.Equal(t, "se", byURL["https://shop.example/a"].Country)
	assert.Equal(t, "status 503", byURL["https://shop.example/a"].LastError)

	require.NoError(t, store.Failures.Resolve(ctx, "zooplus", "https://shop.example/a"))
	open, err = store.Failures.ListOpen(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "https://shop.example/b", open[0].URL)
}

func TestEventRepository_Record(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Events.Record(ctx, &domain.LifecycleEvent{
		ProductKey: "acana|a|dry", FromStatus: domain.StatusPending, ToStatus: domain.StatusActive, Actor: "quality-gate",
	}))
	events, err := store.Events.ListByProduct(ctx, "acana|a|dry")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusActive, events[0].ToStatus)
	assert.NotEmpty(t, events[0].ID)
}

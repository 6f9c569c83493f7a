package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

type fakeProducts struct {
	byKey    map[string]*domain.CanonicalProduct
	lastView storage.View
	lastSlug string
}

func (f *fakeProducts) Get(ctx context.Context, key string) (*domain.CanonicalProduct, error) {
	p, ok := f.byKey[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakeProducts) ListView(ctx context.Context, view storage.View, brandSlug string) ([]*domain.CanonicalProduct, error) {
	f.lastView, f.lastSlug = view, brandSlug
	var out []*domain.CanonicalProduct
	for _, p := range f.byKey {
		if brandSlug == "" || p.BrandSlug == brandSlug {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeSnapshots struct {
	bySlug map[string]domain.BrandQualitySnapshot
	gets   int
}

func (f *fakeSnapshots) Get(ctx context.Context, slug string) (*domain.BrandQualitySnapshot, error) {
	f.gets++
	s, ok := f.bySlug[slug]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &s, nil
}

func (f *fakeSnapshots) List(ctx context.Context) ([]domain.BrandQualitySnapshot, error) {
	var out []domain.BrandQualitySnapshot
	for _, s := range f.bySlug {
		out = append(out, s)
	}
	return out, nil
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(ctx context.Context) error { return p.err }

func newTestRouter(t *testing.T, db Pinger) (http.Handler, *fakeProducts, *fakeSnapshots) {
	t.Helper()
	products := &fakeProducts{byKey: map[string]*domain.CanonicalProduct{
		"acana|puppy|dry": {ProductKey: "acana|puppy|dry", Brand: "Acana", BrandSlug: "acana", Form: domain.FormDry, LifecycleStatus: domain.StatusActive},
		"orijen|cat|dry":  {ProductKey: "orijen|cat|dry", Brand: "Orijen", BrandSlug: "orijen", Form: domain.FormDry, LifecycleStatus: domain.StatusPending},
	}}
	snapshots := &fakeSnapshots{bySlug: map[string]domain.BrandQualitySnapshot{
		"acana": {BrandSlug: "acana", Brand: "Acana", SKUCount: 1, IngredientsCoverage: 100, ProductionEligible: true},
	}}
	c := cache.NewMemoryClient(100)
	t.Cleanup(func() { _ = c.Close() })

	router := NewRouter(observability.NopLogger(), &AppConfig{
		RequestTimeout: 5 * time.Second,
		CacheTTL:       time.Minute,
		Products:       products,
		Snapshots:      snapshots,
		Cache:          c,
		DB:             db,
	})
	return router, products, snapshots
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestRouter(t, fakePinger{})
	rec := get(t, router, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	router, _, _ = newTestRouter(t, fakePinger{err: errors.New("connection refused")})
	rec = get(t, router, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetProduct(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	rec := get(t, router, "/v1/products/acana%7Cpuppy%7Cdry")
	require.Equal(t, http.StatusOK, rec.Code)
	var p domain.CanonicalProduct
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "acana|puppy|dry", p.ProductKey)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = get(t, router, "/v1/products/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCatalog(t *testing.T) {
	router, products, _ := newTestRouter(t, nil)

	rec := get(t, router, "/v1/catalog")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storage.ViewProduction, products.lastView)

	rec = get(t, router, "/v1/catalog?view=preview&brand=orijen")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		View     string                     `json:"view"`
		Brand    string                     `json:"brand"`
		Count    int                        `json:"count"`
		Products []*domain.CanonicalProduct `json:"products"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "preview", resp.View)
	assert.Equal(t, "orijen", resp.Brand)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "orijen", products.lastSlug)

	rec = get(t, router, "/v1/catalog?view=draft")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBrandQuality_ReadsThroughCache(t *testing.T) {
	router, _, snapshots := newTestRouter(t, nil)

	for i := 0; i < 3; i++ {
		rec := get(t, router, "/v1/brands/acana/quality")
		require.Equal(t, http.StatusOK, rec.Code)
		var snap domain.BrandQualitySnapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.True(t, snap.ProductionEligible)
	}
	assert.Equal(t, 1, snapshots.gets)

	rec := get(t, router, "/v1/brands/unknown/quality")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBrandQuality(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	rec := get(t, router, "/v1/brands/quality")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count  int                           `json:"count"`
		Brands []domain.BrandQualitySnapshot `json:"brands"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "acana", resp.Brands[0].BrandSlug)
}

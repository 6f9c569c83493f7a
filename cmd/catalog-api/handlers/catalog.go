// Package handlers provides HTTP handlers for the catalog read API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

// ProductReader reads canonical products.
type ProductReader interface {
	Get(ctx context.Context, key string) (*domain.CanonicalProduct, error)
	ListView(ctx context.Context, view storage.View, brandSlug string) ([]*domain.CanonicalProduct, error)
}

// SnapshotReader reads brand quality snapshots.
type SnapshotReader interface {
	Get(ctx context.Context, brandSlug string) (*domain.BrandQualitySnapshot, error)
	List(ctx context.Context) ([]domain.BrandQualitySnapshot, error)
}

// CatalogHandler serves products, catalog views and brand quality.
type CatalogHandler struct {
	logger    *observability.Logger
	products  ProductReader
	snapshots SnapshotReader
	cache     cache.Client
	cacheTTL  time.Duration
}

// NewCatalogHandler creates a catalog handler. c may be nil.
func NewCatalogHandler(logger *observability.Logger, products ProductReader, snapshots SnapshotReader, c cache.Client, cacheTTL time.Duration) *CatalogHandler {
	return &CatalogHandler{
		logger:    logger,
		products:  products,
		snapshots: snapshots,
		cache:     c,
		cacheTTL:  cacheTTL,
	}
}

// CatalogResponseDTO is the response of a catalog listing.
type CatalogResponseDTO struct {
	View     string                     `json:"view"`
	Brand    string                     `json:"brand,omitempty"`
	Count    int                        `json:"count"`
	Products []*domain.CanonicalProduct `json:"products"`
}

// BrandQualityListDTO is the response of the brand quality listing.
type BrandQualityListDTO struct {
	Count  int                           `json:"count"`
	Brands []domain.BrandQualitySnapshot `json:"brands"`
}

// GetProduct handles GET /v1/products/{key}.
func (h *CatalogHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	p, err := h.products.Get(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "product not found", key)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Product(key).Msg("Product lookup failed")
		writeError(w, http.StatusInternalServerError, "product lookup failed", "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListCatalog handles GET /v1/catalog?view=production|preview&brand=.
func (h *CatalogHandler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	view := storage.View(r.URL.Query().Get("view"))
	if view == "" {
		view = storage.ViewProduction
	}
	if view != storage.ViewProduction && view != storage.ViewPreview {
		writeError(w, http.StatusBadRequest, "invalid view", "Must be one of: production, preview")
		return
	}
	brandSlug := r.URL.Query().Get("brand")

	products, err := h.products.ListView(r.Context(), view, brandSlug)
	if err != nil {
		h.logger.Error().Err(err).Str("view", string(view)).Msg("Catalog listing failed")
		writeError(w, http.StatusInternalServerError, "catalog listing failed", "")
		return
	}
	if products == nil {
		products = []*domain.CanonicalProduct{}
	}
	writeJSON(w, http.StatusOK, CatalogResponseDTO{
		View:     string(view),
		Brand:    brandSlug,
		Count:    len(products),
		Products: products,
	})
}

// GetBrandQuality handles GET /v1/brands/{slug}/quality. Snapshots are read
// through the cache the quality service fills on recompute.
func (h *CatalogHandler) GetBrandQuality(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")

	if h.cache != nil {
		var snap domain.BrandQualitySnapshot
		if err := cache.GetJSON(ctx, h.cache, cache.BrandQualityKey(slug), &snap); err == nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}

	snap, err := h.snapshots.Get(ctx, slug)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "brand not found", slug)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Brand(slug).Msg("Brand quality lookup failed")
		writeError(w, http.StatusInternalServerError, "brand quality lookup failed", "")
		return
	}
	if h.cache != nil {
		if err := cache.SetJSON(ctx, h.cache, cache.BrandQualityKey(slug), snap, h.cacheTTL); err != nil {
			h.logger.Warn().Err(err).Brand(slug).Msg("Brand quality not cached")
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListBrandQuality handles GET /v1/brands/quality.
func (h *CatalogHandler) ListBrandQuality(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.snapshots.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Brand quality listing failed")
		writeError(w, http.StatusInternalServerError, "brand quality listing failed", "")
		return
	}
	if snapshots == nil {
		snapshots = []domain.BrandQualitySnapshot{}
	}
	writeJSON(w, http.StatusOK, BrandQualityListDTO{Count: len(snapshots), Brands: snapshots})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}

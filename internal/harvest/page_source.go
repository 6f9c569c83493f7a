package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spherical-ai/catalog-engine/internal/blob"
	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/extract"
	"github.com/spherical-ai/catalog-engine/internal/fetch"
	"github.com/spherical-ai/catalog-engine/internal/observability"
)

// SnapshotMeta is stored next to each page snapshot so it can be reprocessed
// without the original listing.
type SnapshotMeta struct {
	URL           string    `json:"url"`
	Source        string    `json:"source"`
	Country       string    `json:"country"`
	Brand         string    `json:"brand,omitempty"`
	Name          string    `json:"name,omitempty"`
	FormHint      string    `json:"form_hint,omitempty"`
	LifeStageHint string    `json:"life_stage_hint,omitempty"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// MetaKey returns the metadata key stored next to a snapshot key.
func MetaKey(snapshotKey string) string {
	return strings.TrimSuffix(snapshotKey, ".html") + ".json"
}

// PageSource harvests product pages through the rendering proxy.
type PageSource struct {
	name    string
	items   []Item
	fetcher fetch.Fetcher
	blobs   blob.Store
	engine  *extract.Engine
	logger  *observability.Logger
}

// NewPageSource creates a page source over an explicit item list. blobs may
// be nil to skip snapshots.
func NewPageSource(name string, items []Item, fetcher fetch.Fetcher, blobs blob.Store, engine *extract.Engine, logger *observability.Logger) *PageSource {
	return &PageSource{
		name:    name,
		items:   items,
		fetcher: fetcher,
		blobs:   blobs,
		engine:  engine,
		logger:  logger.WithSource(name),
	}
}

// Name returns the source name.
func (s *PageSource) Name() string { return s.name }

// Items returns the configured item list.
func (s *PageSource) Items(ctx context.Context) ([]Item, error) {
	return s.items, nil
}

// Harvest fetches, snapshots, and extracts one page.
func (s *PageSource) Harvest(ctx context.Context, item Item, country string) (*domain.StagingRecord, error) {
	page, err := s.fetcher.Fetch(ctx, item.Key, country)
	if err != nil {
		return nil, err
	}

	if s.blobs != nil {
		if err := s.snapshot(ctx, item, page); err != nil {
			// extraction still proceeds from memory
			s.logger.Warn().Err(err).URL(item.Key).Msg("Snapshot not stored")
		}
	}

	return BuildRecord(s.engine, s.name, item, page.Body), nil
}

func (s *PageSource) snapshot(ctx context.Context, item Item, page *fetch.Page) error {
	key := blob.SnapshotKey(s.name, page.FetchedAt, item.Key)
	if err := s.blobs.Put(ctx, key, page.Body, "text/html; charset=utf-8"); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	meta, err := json.Marshal(SnapshotMeta{
		URL:           item.Key,
		Source:        s.name,
		Country:       page.Country,
		Brand:         item.Brand,
		Name:          item.Name,
		FormHint:      item.FormHint,
		LifeStageHint: item.LifeStageHint,
		FetchedAt:     page.FetchedAt,
	})
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, MetaKey(key), meta, "application/json")
}

// BuildRecord extracts a staging record from a page body. Listing hints win
// over page metadata. Extraction problems are recorded on the record rather
// than failing it.
func BuildRecord(engine *extract.Engine, source string, item Item, body []byte) *domain.StagingRecord {
	rec := &domain.StagingRecord{
		Source:        source,
		RawBrand:      item.Brand,
		RawName:       item.Name,
		RawURL:        item.Key,
		FormHint:      item.FormHint,
		LifeStageHint: item.LifeStageHint,
	}

	page, res, err := engine.ExtractPage(body, Provenance(source))
	if err != nil {
		rec.ExtractionError = err.Error()
	}
	if page != nil {
		if rec.RawBrand == "" {
			rec.RawBrand = page.Brand
		}
		if rec.RawName == "" {
			rec.RawName = page.Title
		}
		if page.ImageURL != "" {
			img := page.ImageURL
			rec.ImageURL = &img
		}
	}
	if res != nil {
		res.Apply(rec)
	}
	return rec
}

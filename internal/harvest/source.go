// Package harvest runs concurrent harvest sessions over product sources and
// writes the results to staging.
package harvest

import (
	"context"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// Item is one unit of harvest work. Key is the page URL for page sources and
// the row key for exports. Brand and Name are optional listing hints.
type Item struct {
	Key           string
	Brand         string
	Name          string
	FormHint      string
	LifeStageHint string
}

// Source turns items into staging records.
type Source interface {
	// Name identifies the source in staging records, snapshots, and the
	// re-harvest queue.
	Name() string
	// Items lists the work in a stable order.
	Items(ctx context.Context) ([]Item, error)
	// Harvest produces the staging record for one item. country is the
	// session's proxy egress and may be ignored.
	Harvest(ctx context.Context, item Item, country string) (*domain.StagingRecord, error)
}

// StagingWriter persists harvested records.
type StagingWriter interface {
	Insert(ctx context.Context, records []*domain.StagingRecord) error
}

// FailureQueue is the re-harvest queue.
type FailureQueue interface {
	Enqueue(ctx context.Context, source, url, country string, cause error) error
	Resolve(ctx context.Context, source, url string) error
}

// Provenance returns the provenance tag recorded for scraped fields.
func Provenance(source string) string {
	return "scraped:" + source
}

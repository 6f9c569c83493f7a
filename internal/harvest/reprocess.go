package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/catalog-engine/internal/blob"
	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/extract"
	"github.com/spherical-ai/catalog-engine/internal/observability"
)

// Reprocessor re-extracts stored page snapshots into a fresh staging batch.
type Reprocessor struct {
	blobs   blob.Store
	engine  *extract.Engine
	staging StagingWriter
	logger  *observability.Logger
}

// NewReprocessor creates a reprocessor.
func NewReprocessor(blobs blob.Store, engine *extract.Engine, staging StagingWriter, logger *observability.Logger) *Reprocessor {
	return &Reprocessor{blobs: blobs, engine: engine, staging: staging, logger: logger.WithOperation("reprocess")}
}

// Run re-extracts every snapshot of source taken on day.
func (p *Reprocessor) Run(ctx context.Context, source string, day time.Time, batchID string) (*Summary, error) {
	start := time.Now()
	if batchID == "" {
		batchID = uuid.NewString()
	}
	logger := p.logger.WithSource(source).WithBatch(batchID)

	keys, err := p.blobs.List(ctx, blob.DayPrefix(source, day))
	if err != nil {
		return nil, err
	}

	summary := &Summary{BatchID: batchID, Source: source, Sessions: 1}
	var buf []*domain.StagingRecord
	flush := func(ctx context.Context) {
		p.stage(ctx, buf, summary, logger)
		buf = buf[:0]
	}
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			flush(context.WithoutCancel(ctx))
			summary.Duration = time.Since(start)
			return summary, err
		}
		summary.Items++

		rec, err := p.load(ctx, key)
		if err != nil {
			summary.Failed++
			logger.Warn().Err(err).Str("key", key).Msg("Snapshot skipped")
			continue
		}
		rec.BatchID = batchID
		buf = append(buf, rec)
		if len(buf) >= stagingFlushSize {
			flush(ctx)
		}
	}
	flush(ctx)

	summary.Duration = time.Since(start)
	logger.Info().Int("snapshots", summary.Items).Int("staged", summary.Harvested).Int("skipped", summary.Failed).Msg("Reprocess finished")
	return summary, nil
}

// stage writes recs, falling back to one record at a time when the batch is
// rejected. Records the store still refuses are counted as failed; the
// snapshots stay in the blob store for the next reprocess.
func (p *Reprocessor) stage(ctx context.Context, recs []*domain.StagingRecord, summary *Summary, logger *observability.Logger) {
	if len(recs) == 0 {
		return
	}
	ok := func(rec *domain.StagingRecord) {
		summary.Harvested++
		if rec.ExtractionError != "" {
			summary.ExtractionFailures++
		}
	}
	err := p.staging.Insert(ctx, recs)
	if err == nil {
		for _, rec := range recs {
			ok(rec)
		}
		return
	}
	logger.Warn().Err(err).Int("records", len(recs)).Msg("Staging write failed, writing records one by one")
	for _, rec := range recs {
		if err := p.staging.Insert(ctx, []*domain.StagingRecord{rec}); err != nil {
			summary.Failed++
			logger.Error().Err(err).URL(rec.RawURL).Msg("Staging write failed")
			continue
		}
		ok(rec)
	}
}

func (p *Reprocessor) load(ctx context.Context, metaKey string) (*domain.StagingRecord, error) {
	raw, err := p.blobs.Get(ctx, metaKey)
	if err != nil {
		return nil, err
	}
	var meta SnapshotMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode snapshot metadata: %w", err)
	}

	body, err := p.blobs.Get(ctx, strings.TrimSuffix(metaKey, ".json")+".html")
	if err != nil {
		return nil, err
	}

	item := Item{
		Key:           meta.URL,
		Brand:         meta.Brand,
		Name:          meta.Name,
		FormHint:      meta.FormHint,
		LifeStageHint: meta.LifeStageHint,
	}
	return BuildRecord(p.engine, meta.Source, item, body), nil
}

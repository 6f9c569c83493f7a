package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/harvest"
	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/quality"
)

// RunSummary reports a full run.
type RunSummary struct {
	RunID              string        `json:"run_id"`
	Source             string        `json:"source"`
	Harvested          int           `json:"harvested"`
	HarvestFailed      int           `json:"harvest_failed"`
	Processed          int           `json:"processed"`
	MatchedExactURL    int           `json:"matched_exact_url"`
	MatchedBrandName   int           `json:"matched_brand_name"`
	MatchedFuzzy       int           `json:"matched_fuzzy"`
	New                int           `json:"new"`
	Quarantined        int           `json:"quarantined"`
	ExtractionFailures int           `json:"extraction_failures"`
	Promoted           int           `json:"promoted"`
	WriteFailures      []string      `json:"write_failures,omitempty"`
	Brands             int           `json:"brands"`
	EligibleBrands     int           `json:"eligible_brands"`
	Cancelled          bool          `json:"cancelled"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
}

// Pipeline runs harvest, merge, promotion, and brand snapshots in order.
type Pipeline struct {
	runner    *harvest.Runner
	merger    *Merger
	quality   *quality.Service
	publisher cache.Publisher
	logger    *observability.Logger
}

// New creates a pipeline. Summaries are published when c supports it.
func New(runner *harvest.Runner, merger *Merger, svc *quality.Service, c cache.Client, logger *observability.Logger) *Pipeline {
	p := &Pipeline{
		runner:  runner,
		merger:  merger,
		quality: svc,
		logger:  logger.WithOperation("run"),
	}
	if pub, ok := c.(cache.Publisher); ok {
		p.publisher = pub
	}
	return p
}

// Run harvests src into a fresh batch, merges that batch, promotes, and
// recomputes brand snapshots. A cancelled harvest still merges what it
// staged; the summary is returned with the cancellation error.
func (p *Pipeline) Run(ctx context.Context, src harvest.Source, opts harvest.Options) (*RunSummary, error) {
	summary := &RunSummary{RunID: uuid.NewString(), Source: src.Name(), StartedAt: time.Now().UTC()}
	if opts.BatchID == "" {
		opts.BatchID = summary.RunID
	}
	ctx = observability.ContextWithRunID(ctx, summary.RunID)
	logger := p.logger.WithSource(src.Name()).WithBatch(opts.BatchID)
	logger.Info().Str("run_id", summary.RunID).Msg("Run started")

	hs, runErr := p.runner.Run(ctx, src, opts)
	if hs == nil {
		return summary, fmt.Errorf("harvest: %w", runErr)
	}
	summary.Harvested = hs.Harvested
	summary.HarvestFailed = hs.Failed
	if runErr != nil {
		if !harvest.IsCancelled(runErr) {
			return summary, fmt.Errorf("harvest: %w", runErr)
		}
		summary.Cancelled = true
		logger.Warn().Err(runErr).Msg("Harvest interrupted, merging staged records")
		ctx = context.WithoutCancel(ctx)
	}

	if err := p.finish(ctx, summary, opts.BatchID, nil); err != nil {
		return summary, err
	}
	return summary, runErr
}

// Finish merges a batch, promotes, and recomputes snapshots without
// harvesting. An empty batchID merges every unprocessed record.
func (p *Pipeline) Finish(ctx context.Context, batchID string, progress func(done, total int)) (*RunSummary, error) {
	summary := &RunSummary{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	return summary, p.finish(ctx, summary, batchID, progress)
}

func (p *Pipeline) finish(ctx context.Context, summary *RunSummary, batchID string, progress func(done, total int)) error {
	ms, err := p.merger.Merge(ctx, MergeOptions{BatchID: batchID, Progress: progress})
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	summary.Processed = ms.Processed
	summary.MatchedExactURL = ms.MatchedExactURL
	summary.MatchedBrandName = ms.MatchedBrandName
	summary.MatchedFuzzy = ms.MatchedFuzzy
	summary.New = ms.New
	summary.Quarantined = ms.Quarantined
	summary.ExtractionFailures = ms.ExtractionFailures
	summary.WriteFailures = ms.WriteFailures

	promotion, err := p.quality.Promote(ctx)
	if err != nil {
		return fmt.Errorf("promote: %w", err)
	}
	summary.Promoted = promotion.Promoted

	snapshots, err := p.quality.RecomputeSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("recompute brand snapshots: %w", err)
	}
	summary.Brands = len(snapshots)
	for _, snap := range snapshots {
		if snap.ProductionEligible {
			summary.EligibleBrands++
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	p.publish(ctx, summary)
	return nil
}

func (p *Pipeline) publish(ctx context.Context, summary *RunSummary) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, cache.RunsChannel, summary); err != nil {
		p.logger.Warn().Err(err).Str("run_id", summary.RunID).Msg("Run summary not published")
	}
}

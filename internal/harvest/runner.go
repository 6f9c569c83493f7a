package harvest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/retry"
)

const stagingFlushSize = 25

// Options controls one harvest run.
type Options struct {
	BatchID string
	Offset  int
	Limit   int
	// Progress, when set, is called after each item with the session index.
	Progress func(session int, item Item, err error)
}

// Summary reports one harvest run.
type Summary struct {
	BatchID            string        `json:"batch_id"`
	Source             string        `json:"source"`
	Items              int           `json:"items"`
	Harvested          int           `json:"harvested"`
	Failed             int           `json:"failed"`
	ExtractionFailures int           `json:"extraction_failures"`
	Sessions           int           `json:"sessions"`
	Duration           time.Duration `json:"duration"`
}

// Runner fans a source out over one session per configured proxy country.
type Runner struct {
	sessions []config.SessionConfig
	staging  StagingWriter
	failures FailureQueue
	policies retry.Policies
	logger   *observability.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a harvest runner. writeRetry bounds staging writes.
func NewRunner(cfg config.HarvestConfig, writeRetry config.RetryConfig, staging StagingWriter, failures FailureQueue, logger *observability.Logger) *Runner {
	sessions := cfg.Sessions
	if len(sessions) == 0 {
		sessions = []config.SessionConfig{{}}
	}
	return &Runner{
		sessions: sessions,
		staging:  staging,
		failures: failures,
		policies: retry.FromConfig(writeRetry),
		logger:   logger.WithOperation("harvest"),
		sleep:    sleepContext,
	}
}

// Sessions returns the number of concurrent sessions.
func (r *Runner) Sessions() int {
	return len(r.sessions)
}

// Run harvests the windowed items of src. Items are split into disjoint
// ranges, one per session, and each session walks its range sequentially
// with a randomized delay between items. A failed fetch or staging write
// queues the item for re-harvest and the run continues. Cancellation is
// checked between items and is the only error Run returns after listing.
func (r *Runner) Run(ctx context.Context, src Source, opts Options) (*Summary, error) {
	start := time.Now()
	if opts.BatchID == "" {
		opts.BatchID = uuid.NewString()
	}
	logger := r.logger.WithSource(src.Name()).WithBatch(opts.BatchID)

	all, err := src.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s items: %w", src.Name(), err)
	}
	items := Window(all, opts.Offset, opts.Limit)
	parts := Partition(items, len(r.sessions))

	summary := &Summary{BatchID: opts.BatchID, Source: src.Name(), Items: len(items), Sessions: len(r.sessions)}
	var mu sync.Mutex
	count := func(harvested, failed, extraction int) {
		mu.Lock()
		summary.Harvested += harvested
		summary.Failed += failed
		summary.ExtractionFailures += extraction
		mu.Unlock()
	}

	logger.Info().Int("items", len(items)).Int("sessions", len(r.sessions)).Msg("Harvest started")

	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		session := r.sessions[i]
		g.Go(func() error {
			return r.runSession(gctx, src, session, i, part, opts, count, logger)
		})
	}
	err = g.Wait()
	summary.Duration = time.Since(start)

	event := logger.Info()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	event.
		Int("harvested", summary.Harvested).
		Int("failed", summary.Failed).
		Int("extraction_failures", summary.ExtractionFailures).
		Dur("duration", summary.Duration).
		Msg("Harvest finished")
	return summary, err
}

// harvested is a record waiting in a session's staging buffer.
type harvested struct {
	item Item
	rec  *domain.StagingRecord
}

// runSession walks one session's items. Records are staged in buffered
// batches; an item counts as harvested, and leaves the re-harvest queue, only
// once its record is stored. A batch the store keeps rejecting is retried one
// record at a time and records that still fail are queued for re-harvest, so
// a write failure never ends the session.
func (r *Runner) runSession(ctx context.Context, src Source, session config.SessionConfig, index int, items []Item, opts Options, count func(int, int, int), logger *observability.Logger) error {
	logger = logger.WithSession(session.Country)
	var buf []harvested

	flush := func(ctx context.Context) {
		if len(buf) == 0 {
			return
		}
		records := make([]*domain.StagingRecord, len(buf))
		for i, h := range buf {
			records[i] = h.rec
		}
		if err := r.insert(ctx, records, logger); err == nil {
			for _, h := range buf {
				r.staged(ctx, src, h, count, logger)
			}
		} else {
			logger.Warn().Err(err).Int("records", len(buf)).Msg("Staging write failed, writing records one by one")
			for _, h := range buf {
				if err := r.insert(ctx, []*domain.StagingRecord{h.rec}, logger); err != nil {
					logger.Error().Err(err).Str("item", h.item.Key).Msg("Staging write failed, queued for re-harvest")
					r.enqueue(ctx, src, h.item, session.Country, err, logger)
					count(0, 1, 0)
					continue
				}
				r.staged(ctx, src, h, count, logger)
			}
		}
		buf = buf[:0]
	}
	stop := func(err error) error {
		flush(context.WithoutCancel(ctx))
		return err
	}

	for n, item := range items {
		if err := ctx.Err(); err != nil {
			return stop(err)
		}
		if n > 0 {
			if err := r.sleep(ctx, jitter(session.DelayMin, session.DelayMax)); err != nil {
				return stop(err)
			}
		}

		rec, err := src.Harvest(ctx, item, session.Country)
		if err != nil {
			if ctx.Err() != nil {
				return stop(ctx.Err())
			}
			logger.Warn().Err(err).Str("item", item.Key).Msg("Harvest failed, queued for retry")
			r.enqueue(ctx, src, item, session.Country, err, logger)
			count(0, 1, 0)
		} else {
			rec.BatchID = opts.BatchID
			buf = append(buf, harvested{item: item, rec: rec})
		}

		if opts.Progress != nil {
			opts.Progress(index, item, err)
		}
		if len(buf) >= stagingFlushSize {
			flush(ctx)
		}
	}
	flush(ctx)
	return nil
}

func (r *Runner) insert(ctx context.Context, records []*domain.StagingRecord, logger *observability.Logger) error {
	return retry.Do(ctx, r.policies, func(ctx context.Context) error {
		return r.staging.Insert(ctx, records)
	}, func(err error, class retry.Class, attempt int, wait time.Duration) {
		logger.Warn().Err(err).Attempt(attempt).Int("records", len(records)).Dur("wait", wait).Msg("Retrying staging write")
	})
}

func (r *Runner) staged(ctx context.Context, src Source, h harvested, count func(int, int, int), logger *observability.Logger) {
	extractionFailed := 0
	if h.rec.ExtractionError != "" {
		extractionFailed = 1
		logger.Warn().Str("item", h.item.Key).Str("error", h.rec.ExtractionError).Msg("Extraction problem")
	}
	count(1, 0, extractionFailed)
	if err := r.failures.Resolve(ctx, src.Name(), h.item.Key); err != nil {
		logger.Warn().Err(err).Str("item", h.item.Key).Msg("Could not resolve queued failure")
	}
}

func (r *Runner) enqueue(ctx context.Context, src Source, item Item, country string, cause error, logger *observability.Logger) {
	if err := r.failures.Enqueue(ctx, src.Name(), item.Key, country, cause); err != nil {
		logger.Error().Err(err).Str("item", item.Key).Msg("Could not queue failed item")
	}
}

// jitter returns a random delay in [lo, hi].
func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsCancelled reports whether err comes from a cancelled or expired context.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

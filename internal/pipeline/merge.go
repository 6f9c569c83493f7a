// Package pipeline merges staged records into the canonical catalog and
// drives full harvest-to-publication runs.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/spherical-ai/catalog-engine/internal/brand"
	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/identity"
	"github.com/spherical-ai/catalog-engine/internal/matching"
	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/retry"
)

// Writer upserts canonical products. A batch is written atomically.
type Writer interface {
	UpsertBatch(ctx context.Context, products []*domain.CanonicalProduct) error
}

// StagingStore is the staging side of a merge.
type StagingStore interface {
	ListUnprocessed(ctx context.Context, batchID string, limit int) ([]*domain.StagingRecord, error)
	MarkMatched(ctx context.Context, id string, matchType domain.MatchType, confidence float64, productKey string) error
	Quarantine(ctx context.Context, id, reason string) error
}

// CatalogReader loads the current catalog for matching.
type CatalogReader interface {
	ListAll(ctx context.Context) ([]*domain.CanonicalProduct, error)
}

// MergeOptions controls one merge.
type MergeOptions struct {
	// BatchID restricts the merge to one staging batch. Empty merges every
	// unprocessed record.
	BatchID string
	// Progress, when set, is called after each write batch.
	Progress func(done, total int)
}

// MergeSummary reports one merge.
type MergeSummary struct {
	BatchID            string        `json:"batch_id,omitempty"`
	Processed          int           `json:"processed"`
	MatchedExactURL    int           `json:"matched_exact_url"`
	MatchedBrandName   int           `json:"matched_brand_name"`
	MatchedFuzzy       int           `json:"matched_fuzzy"`
	New                int           `json:"new"`
	Quarantined        int           `json:"quarantined"`
	ExtractionFailures int           `json:"extraction_failures"`
	Written            int           `json:"written"`
	WriteFailures      []string      `json:"write_failures,omitempty"`
	Duration           time.Duration `json:"duration"`
}

func (s *MergeSummary) count(t domain.MatchType) {
	switch t {
	case domain.MatchExactURL:
		s.MatchedExactURL++
	case domain.MatchBrandName:
		s.MatchedBrandName++
	case domain.MatchFuzzy:
		s.MatchedFuzzy++
	case domain.MatchNew:
		s.New++
	}
}

// Merger resolves staged records to canonical products and upserts them.
type Merger struct {
	staging  StagingStore
	catalog  CatalogReader
	aliases  brand.AliasReader
	writer   Writer
	cache    cache.Client
	cacheTTL time.Duration
	matcher  *matching.Matcher
	cfg      config.PipelineConfig
	policies retry.Policies
	logger   *observability.Logger
}

// NewMerger creates a merger. c may be nil.
func NewMerger(
	staging StagingStore,
	catalog CatalogReader,
	aliases brand.AliasReader,
	writer Writer,
	c cache.Client,
	cacheTTL time.Duration,
	matchCfg config.MatchingConfig,
	cfg config.PipelineConfig,
	logger *observability.Logger,
) *Merger {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultConfig().Pipeline.BatchSize
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = 1
	}
	return &Merger{
		staging:  staging,
		catalog:  catalog,
		aliases:  aliases,
		writer:   writer,
		cache:    c,
		cacheTTL: cacheTTL,
		matcher:  matching.NewMatcher(matchCfg.FuzzyThreshold),
		cfg:      cfg,
		policies: retry.FromConfig(cfg.WriteRetry),
		logger:   logger.WithOperation("merge"),
	}
}

// pendingMark is a match outcome waiting for its product write.
type pendingMark struct {
	id         string
	matchType  domain.MatchType
	confidence float64
	key        string
}

// Merge consumes unprocessed staging records. Each record is validated,
// resolved to an identity, matched against the catalog, and folded into its
// product. Products are upserted in batches; a record is marked processed
// only after its product is written, so a failed write leaves it for the
// next merge. Write failures are enumerated in the summary and do not stop
// the merge.
func (m *Merger) Merge(ctx context.Context, opts MergeOptions) (*MergeSummary, error) {
	start := time.Now()
	logger := m.logger
	if opts.BatchID != "" {
		logger = logger.WithBatch(opts.BatchID)
	}

	normalizer, err := brand.LoadNormalizer(ctx, m.aliases, m.cache, m.cacheTTL, logger)
	if err != nil {
		return nil, err
	}
	resolver := identity.NewResolver(normalizer)

	products, err := m.catalog.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	idx := matching.NewIndex(products)

	records, err := m.staging.ListUnprocessed(ctx, opts.BatchID, 0)
	if err != nil {
		return nil, fmt.Errorf("load staging records: %w", err)
	}

	summary := &MergeSummary{BatchID: opts.BatchID}
	// keys whose write failed in this merge; records resolving to them stay staged
	unwritten := make(map[string]bool)
	logger.Info().
		Int("records", len(records)).
		Int("catalog_size", idx.Len()).
		Int("aliases", normalizer.Len()).
		Msg("Merge started")

	for from := 0; from < len(records); from += m.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
		end := min(from+m.cfg.BatchSize, len(records))
		m.mergeBatch(ctx, records[from:end], resolver, idx, unwritten, summary, logger)
		if opts.Progress != nil {
			opts.Progress(end, len(records))
		}
	}

	summary.Duration = time.Since(start)
	logger.Info().
		Int("processed", summary.Processed).
		Int("matched_exact_url", summary.MatchedExactURL).
		Int("matched_brand_name", summary.MatchedBrandName).
		Int("matched_fuzzy", summary.MatchedFuzzy).
		Int("new", summary.New).
		Int("quarantined", summary.Quarantined).
		Int("extraction_failures", summary.ExtractionFailures).
		Int("write_failures", len(summary.WriteFailures)).
		Dur("duration", summary.Duration).
		Msg("Merge finished")
	return summary, nil
}

func (m *Merger) mergeBatch(ctx context.Context, records []*domain.StagingRecord, resolver *identity.Resolver, idx *matching.Index, unwritten map[string]bool, summary *MergeSummary, logger *observability.Logger) {
	var (
		marks   []pendingMark
		writes  []*domain.CanonicalProduct
		writeAt = make(map[string]int)
		// index state before this batch touched a key; nil means the key was new
		before = make(map[string]*domain.CanonicalProduct)
	)

	for _, rec := range records {
		summary.Processed++
		if rec.ExtractionError != "" {
			summary.ExtractionFailures++
		}

		id, err := m.resolve(rec, resolver)
		if err != nil {
			summary.Quarantined++
			logger.Warn().Err(err).Str("staging_id", rec.ID).URL(rec.RawURL).Msg("Staging record quarantined")
			if qerr := m.staging.Quarantine(ctx, rec.ID, err.Error()); qerr != nil {
				logger.Error().Err(qerr).Str("staging_id", rec.ID).Msg("Could not quarantine staging record")
			}
			continue
		}

		match := m.matcher.Match(idx, id)
		incoming := rec.ToProduct(id)

		product, changed := incoming, true
		if match.Product != nil {
			product, changed = domain.MergeProduct(match.Product, incoming)
		}
		summary.count(match.Type)

		if unwritten[product.ProductKey] {
			logger.Debug().Str("staging_id", rec.ID).Product(product.ProductKey).Msg("Product write failed earlier in this merge, record left staged")
			continue
		}

		if changed {
			if _, seen := before[product.ProductKey]; !seen {
				before[product.ProductKey] = match.Product
			}
			idx.Put(product)
			// a product touched twice in one batch is written once, latest state
			if i, ok := writeAt[product.ProductKey]; ok {
				writes[i] = product
			} else {
				writeAt[product.ProductKey] = len(writes)
				writes = append(writes, product)
			}
		}
		marks = append(marks, pendingMark{
			id:         rec.ID,
			matchType:  match.Type,
			confidence: match.Confidence,
			key:        product.ProductKey,
		})
	}

	failed := m.write(ctx, writes, logger)
	for _, key := range failed {
		unwritten[key] = true
		summary.WriteFailures = append(summary.WriteFailures, key)
		// the index must only hold rows the store has
		if prev := before[key]; prev != nil {
			idx.Put(prev)
		} else {
			idx.Remove(key)
		}
	}
	summary.Written += len(writes) - len(failed)

	for _, mark := range marks {
		if unwritten[mark.key] {
			continue
		}
		if err := m.staging.MarkMatched(ctx, mark.id, mark.matchType, mark.confidence, mark.key); err != nil {
			logger.Error().Err(err).Str("staging_id", mark.id).Msg("Could not mark staging record processed")
		}
	}
}

func (m *Merger) resolve(rec *domain.StagingRecord, resolver *identity.Resolver) (domain.Identity, error) {
	if err := rec.Validate(); err != nil {
		return domain.Identity{}, err
	}
	return resolver.Resolve(rec)
}

// write upserts products and returns the keys that could not be written.
// A failing batch is retried, then split in halves down to the minimum batch
// size, then written one product at a time.
func (m *Merger) write(ctx context.Context, products []*domain.CanonicalProduct, logger *observability.Logger) []string {
	if len(products) == 0 {
		return nil
	}
	err := m.upsert(ctx, products, logger)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return productKeys(products)
	}

	if len(products) > m.cfg.MinBatchSize {
		half := len(products) / 2
		logger.Warn().Err(err).Int("batch_size", len(products)).Msg("Write failed, splitting batch")
		return append(m.write(ctx, products[:half], logger), m.write(ctx, products[half:], logger)...)
	}

	if len(products) == 1 {
		logger.Error().Err(err).Product(products[0].ProductKey).Msg("Product write failed")
		return productKeys(products)
	}

	var failed []string
	for _, p := range products {
		if err := m.upsert(ctx, []*domain.CanonicalProduct{p}, logger); err != nil {
			logger.Error().Err(err).Product(p.ProductKey).Msg("Product write failed")
			failed = append(failed, p.ProductKey)
		}
	}
	return failed
}

func (m *Merger) upsert(ctx context.Context, products []*domain.CanonicalProduct, logger *observability.Logger) error {
	return retry.Do(ctx, m.policies, func(ctx context.Context) error {
		return m.writer.UpsertBatch(ctx, products)
	}, func(err error, class retry.Class, attempt int, wait time.Duration) {
		logger.Warn().
			Err(err).
			Str("class", string(class)).
			Attempt(attempt).
			Int("batch_size", len(products)).
			Dur("wait", wait).
			Msg("Retrying catalog write")
	})
}

func productKeys(products []*domain.CanonicalProduct) []string {
	keys := make([]string, len(products))
	for i, p := range products {
		keys[i] = p.ProductKey
	}
	return keys
}

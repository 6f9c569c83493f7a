package main

import (
	"context"
	"fmt"

	"github.com/spherical-ai/catalog-engine/internal/blob"
	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/extract"
	"github.com/spherical-ai/catalog-engine/internal/fetch"
	"github.com/spherical-ai/catalog-engine/internal/harvest"
	"github.com/spherical-ai/catalog-engine/internal/pipeline"
	"github.com/spherical-ai/catalog-engine/internal/quality"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

// app holds the collaborators shared by commands. Everything is built from
// the loaded config; nothing is global beyond the cobra flags.
type app struct {
	store *storage.Store
	cache cache.Client
	blobs blob.Store
	bulk  *storage.PgBulkWriter
}

// openApp opens the store and cache and refuses to run against a schema
// with pending migrations.
func openApp(ctx context.Context) (*app, error) {
	db, dialect, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{store: storage.NewStore(db, dialect)}

	status, err := storage.NewMigrationManager(db, dialect).CheckMigrations(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("check migrations: %w", err)
	}
	if !status.UpToDate {
		a.Close()
		return nil, fmt.Errorf("database has %d pending migrations, run `catalog-cli migrate` first", len(status.Pending))
	}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.Cache.Driver).Msg("Cache unavailable, continuing without it")
	} else {
		a.cache = c
	}
	return a, nil
}

// Close releases every opened resource.
func (a *app) Close() {
	if a.bulk != nil {
		a.bulk.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	_ = a.store.Close()
}

func (a *app) blobStore(ctx context.Context) (blob.Store, error) {
	if a.blobs == nil {
		b, err := blob.New(ctx, cfg.Blob)
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		a.blobs = b
	}
	return a.blobs, nil
}

// writer returns the catalog writer: pgx batches when enabled for Postgres,
// the repository otherwise.
func (a *app) writer(ctx context.Context) (pipeline.Writer, error) {
	if a.store.Dialect != storage.DialectPostgres || !cfg.Database.Postgres.BulkWrites {
		return a.store.Products, nil
	}
	if a.bulk == nil {
		w, err := storage.NewPgBulkWriter(ctx, cfg.Database.Postgres.DSN, cfg.Database.Postgres.MaxOpenConns)
		if err != nil {
			return nil, fmt.Errorf("open bulk writer: %w", err)
		}
		a.bulk = w
	}
	return a.bulk, nil
}

func (a *app) merger(ctx context.Context) (*pipeline.Merger, error) {
	w, err := a.writer(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.NewMerger(a.store.Staging, a.store.Products, a.store.Aliases, w, a.cache, cfg.Cache.TTL,
		cfg.Matching, cfg.Pipeline, logger), nil
}

func (a *app) quality() *quality.Service {
	return quality.NewService(a.store.Products, a.store.Events, a.store.Snapshots, a.cache, cfg.Cache.TTL,
		quality.PolicyFromConfig(cfg.Quality), logger)
}

func (a *app) runner() *harvest.Runner {
	return harvest.NewRunner(cfg.Harvest, cfg.Pipeline.WriteRetry, a.store.Staging, a.store.Failures, logger)
}

func (a *app) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	m, err := a.merger(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.New(a.runner(), m, a.quality(), a.cache, logger), nil
}

// pageSource builds a rendering proxy source over explicit items.
func (a *app) pageSource(ctx context.Context, name string, items []harvest.Item) (*harvest.PageSource, error) {
	if cfg.Fetch.Endpoint == "" {
		return nil, fmt.Errorf("rendering proxy endpoint is not configured (fetch.endpoint or RENDER_PROXY_URL)")
	}
	blobs, err := a.blobStore(ctx)
	if err != nil {
		return nil, err
	}
	client := fetch.NewClient(cfg.Fetch, logger)
	return harvest.NewPageSource(name, items, client, blobs, extract.NewEngine(cfg.Extraction), logger), nil
}

// Package main serves the canonical catalog and brand quality over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "catalog-api: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Catalog API stopped")
	}
	logger.Info().Msg("Catalog API stopped")
}

// serve opens the catalog store and answers reads until ctx is cancelled.
// A schema behind the embedded migrations is refused so reads never see a
// half-migrated catalog.
func serve(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	db, dialect, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open %s catalog: %w", cfg.Database.Driver, err)
	}
	store := storage.NewStore(db, dialect)
	defer store.Close()

	status, err := storage.NewMigrationManager(db, dialect).CheckMigrations(ctx)
	if err != nil {
		return fmt.Errorf("check migrations: %w", err)
	}
	if !status.UpToDate {
		return fmt.Errorf("schema has %d pending migrations, run catalog-cli migrate", len(status.Pending))
	}

	var brandCache cache.Client
	if c, err := cache.New(cfg.Cache); err != nil {
		logger.Warn().Err(err).Str("driver", cfg.Cache.Driver).Msg("Brand quality cache disabled")
	} else {
		brandCache = c
		defer c.Close()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: NewRouter(logger, &AppConfig{
			RequestTimeout: cfg.Server.RequestTimeout,
			CacheTTL:       cfg.Cache.TTL,
			Products:       store.Products,
			Snapshots:      store.Snapshots,
			Cache:          brandCache,
			DB:             db,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", addr).Str("database", string(dialect)).Msg("Serving catalog")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.GracefulShutdown)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			logger.Warn().Err(err).Msg("Drain timed out, closing connections")
			return srv.Close()
		}
		return nil
	})
	return g.Wait()
}

package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// PgBulkWriter upserts catalog batches over a pgx pool, sending each batch in
// a single round trip inside one transaction.
type PgBulkWriter struct {
	pool *pgxpool.Pool
}

// NewPgBulkWriter opens a pgx pool for dsn.
func NewPgBulkWriter(ctx context.Context, dsn string, maxConns int) (*PgBulkWriter, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PgBulkWriter{pool: pool}, nil
}

// UpsertBatch writes products atomically.
func (w *PgBulkWriter) UpsertBatch(ctx context.Context, products []*domain.CanonicalProduct) error {
	if len(products) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, p := range products {
		args, err := productArgs(p)
		if err != nil {
			return domain.StoreError("encode product", err)
		}
		b.Queue(upsertProductQuery, args...)
	}

	err := pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, b)
		for i := 0; i < len(products); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("upsert %s: %w", products[i].ProductKey, err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return domain.StoreError(fmt.Sprintf("bulk upsert of %d products", len(products)), err)
	}
	return nil
}

// Close releases the pool.
func (w *PgBulkWriter) Close() {
	w.pool.Close()
}

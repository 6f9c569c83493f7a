package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// BrandAliasRepository handles the brand alias table.
type BrandAliasRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewBrandAliasRepository creates a new alias repository.
func NewBrandAliasRepository(db *sql.DB, dialect Dialect) *BrandAliasRepository {
	return &BrandAliasRepository{db: db, dialect: dialect}
}

// All returns every alias ordered by alias key.
func (r *BrandAliasRepository) All(ctx context.Context) ([]domain.BrandAlias, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT alias, canonical_brand, created_at FROM brand_aliases ORDER BY alias`)
	if err != nil {
		return nil, domain.StoreError("list brand aliases", err)
	}
	defer rows.Close()

	var aliases []domain.BrandAlias
	for rows.Next() {
		var a domain.BrandAlias
		if err := rows.Scan(&a.Alias, &a.CanonicalBrand, &a.CreatedAt); err != nil {
			return nil, err
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// UpsertMany inserts or repoints aliases and returns how many rows changed.
func (r *BrandAliasRepository) UpsertMany(ctx context.Context, aliases []domain.BrandAlias) (int, error) {
	query := `INSERT INTO brand_aliases (alias, canonical_brand, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (alias) DO UPDATE SET canonical_brand = excluded.canonical_brand
		WHERE brand_aliases.canonical_brand <> excluded.canonical_brand`

	changed := 0
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.dialect.Rebind(query))
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, a := range aliases {
			res, err := stmt.ExecContext(ctx, a.Alias, a.CanonicalBrand, now)
			if err != nil {
				return fmt.Errorf("upsert alias %q: %w", a.Alias, err)
			}
			n, _ := res.RowsAffected()
			changed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, domain.StoreError("upsert brand aliases", err)
	}
	return changed, nil
}

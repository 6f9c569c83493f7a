package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

const snapshotColumns = `brand_slug, brand, sku_count, ingredients_coverage, form_coverage,
	life_stage_coverage, kcal_valid_coverage, production_eligible, computed_at`

// SnapshotRepository handles brand quality snapshots.
type SnapshotRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(db *sql.DB, dialect Dialect) *SnapshotRepository {
	return &SnapshotRepository{db: db, dialect: dialect}
}

// ReplaceAll swaps the stored snapshot set for snapshots atomically.
func (r *SnapshotRepository) ReplaceAll(ctx context.Context, snapshots []domain.BrandQualitySnapshot) error {
	query := `INSERT INTO brand_quality_snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM brand_quality_snapshots`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, r.dialect.Rebind(query))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range snapshots {
			if _, err := stmt.ExecContext(ctx,
				s.BrandSlug, s.Brand, s.SKUCount, s.IngredientsCoverage, s.FormCoverage,
				s.LifeStageCoverage, s.KcalValidCoverage, s.ProductionEligible, s.ComputedAt,
			); err != nil {
				return fmt.Errorf("insert snapshot %s: %w", s.BrandSlug, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.StoreError("replace brand snapshots", err)
	}
	return nil
}

// Get returns the snapshot for one brand.
func (r *SnapshotRepository) Get(ctx context.Context, brandSlug string) (*domain.BrandQualitySnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM brand_quality_snapshots WHERE brand_slug = $1`
	s, err := scanSnapshot(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), brandSlug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// List returns every snapshot ordered by brand slug.
func (r *SnapshotRepository) List(ctx context.Context) ([]domain.BrandQualitySnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM brand_quality_snapshots ORDER BY brand_slug`)
	if err != nil {
		return nil, domain.StoreError("list brand snapshots", err)
	}
	defer rows.Close()

	var out []domain.BrandQualitySnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSnapshot(row rowScanner) (*domain.BrandQualitySnapshot, error) {
	s := &domain.BrandQualitySnapshot{}
	err := row.Scan(
		&s.BrandSlug, &s.Brand, &s.SKUCount, &s.IngredientsCoverage, &s.FormCoverage,
		&s.LifeStageCoverage, &s.KcalValidCoverage, &s.ProductionEligible, &s.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

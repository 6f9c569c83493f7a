package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// View selects which catalog slice a listing returns.
type View string

const (
	// ViewProduction lists ACTIVE products of production-eligible brands.
	ViewProduction View = "production"
	// ViewPreview lists every product that has not been rejected.
	ViewPreview View = "preview"
)

const productColumns = `product_key, brand, brand_slug, product_name, name_slug, form, life_stage,
	ingredients_raw, ingredients_tokens, ingredients_source, extracted_at,
	protein_percent, fat_percent, fiber_percent, ash_percent, moisture_percent, kcal_per_100g,
	macros_source, image_url, product_url, base_url, source, lifecycle_status, created_at, updated_at`

// upsertProductQuery keeps lifecycle_status and created_at of an existing
// row. Nullable content columns are never cleared by a missing value.
const upsertProductQuery = `
	INSERT INTO products (` + productColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		$18, $19, $20, $21, $22, $23, $24, $25)
	ON CONFLICT (product_key) DO UPDATE SET
		brand = excluded.brand,
		product_name = excluded.product_name,
		form = excluded.form,
		life_stage = excluded.life_stage,
		ingredients_raw = COALESCE(excluded.ingredients_raw, products.ingredients_raw),
		ingredients_tokens = COALESCE(excluded.ingredients_tokens, products.ingredients_tokens),
		ingredients_source = COALESCE(excluded.ingredients_source, products.ingredients_source),
		extracted_at = COALESCE(excluded.extracted_at, products.extracted_at),
		protein_percent = COALESCE(excluded.protein_percent, products.protein_percent),
		fat_percent = COALESCE(excluded.fat_percent, products.fat_percent),
		fiber_percent = COALESCE(excluded.fiber_percent, products.fiber_percent),
		ash_percent = COALESCE(excluded.ash_percent, products.ash_percent),
		moisture_percent = COALESCE(excluded.moisture_percent, products.moisture_percent),
		kcal_per_100g = COALESCE(excluded.kcal_per_100g, products.kcal_per_100g),
		macros_source = COALESCE(excluded.macros_source, products.macros_source),
		image_url = COALESCE(excluded.image_url, products.image_url),
		product_url = COALESCE(excluded.product_url, products.product_url),
		base_url = COALESCE(excluded.base_url, products.base_url),
		source = excluded.source,
		updated_at = excluded.updated_at
`

// ProductRepository handles canonical product persistence.
type ProductRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewProductRepository creates a new product repository.
func NewProductRepository(db *sql.DB, dialect Dialect) *ProductRepository {
	return &ProductRepository{db: db, dialect: dialect}
}

// Get retrieves a product by key.
func (r *ProductRepository) Get(ctx context.Context, key string) (*domain.CanonicalProduct, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE product_key = $1`
	p, err := scanProduct(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListAll returns every product ordered by key.
func (r *ProductRepository) ListAll(ctx context.Context) ([]*domain.CanonicalProduct, error) {
	return r.list(ctx, `SELECT `+productColumns+` FROM products ORDER BY product_key`)
}

// ListByStatus returns products in one lifecycle state.
func (r *ProductRepository) ListByStatus(ctx context.Context, status domain.LifecycleStatus) ([]*domain.CanonicalProduct, error) {
	return r.list(ctx, `SELECT `+productColumns+` FROM products WHERE lifecycle_status = $1 ORDER BY product_key`, string(status))
}

// ListView returns a catalog view, optionally limited to one brand slug.
func (r *ProductRepository) ListView(ctx context.Context, view View, brandSlug string) ([]*domain.CanonicalProduct, error) {
	var (
		query string
		args  []interface{}
	)
	switch view {
	case ViewProduction:
		query = `SELECT ` + productColumns + ` FROM products
			WHERE lifecycle_status = $1
			AND brand_slug IN (SELECT brand_slug FROM brand_quality_snapshots WHERE production_eligible = $2)`
		args = []interface{}{string(domain.StatusActive), true}
	case ViewPreview:
		query = `SELECT ` + productColumns + ` FROM products WHERE lifecycle_status <> $1`
		args = []interface{}{string(domain.StatusRejected)}
	default:
		return nil, domain.ValidationError(fmt.Sprintf("unknown catalog view %q", view), nil)
	}
	if brandSlug != "" {
		args = append(args, brandSlug)
		query += fmt.Sprintf(" AND brand_slug = $%d", len(args))
	}
	query += " ORDER BY product_key"
	return r.list(ctx, query, args...)
}

// TransitionStatus moves a product between lifecycle states only when it is
// currently in from.
func (r *ProductRepository) TransitionStatus(ctx context.Context, key string, from, to domain.LifecycleStatus) (bool, error) {
	query := `UPDATE products SET lifecycle_status = $1, updated_at = $2 WHERE product_key = $3 AND lifecycle_status = $4`
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), string(to), time.Now().UTC(), key, string(from))
	if err != nil {
		return false, domain.StoreError("transition product status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.StoreError("transition product status", err)
	}
	return n == 1, nil
}

// UpsertBatch writes products in one transaction. Either every product is
// written or none is.
func (r *ProductRepository) UpsertBatch(ctx context.Context, products []*domain.CanonicalProduct) error {
	if len(products) == 0 {
		return nil
	}
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.dialect.Rebind(upsertProductQuery))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range products {
			args, err := productArgs(p)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("upsert %s: %w", p.ProductKey, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.StoreError(fmt.Sprintf("upsert batch of %d products", len(products)), err)
	}
	return nil
}

// Count returns the number of stored products.
func (r *ProductRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

func (r *ProductRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.CanonicalProduct, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, domain.StoreError("list products", err)
	}
	defer rows.Close()

	var products []*domain.CanonicalProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*domain.CanonicalProduct, error) {
	p := &domain.CanonicalProduct{}
	var (
		form, lifeStage, status string
		tokens                  sql.NullString
	)
	err := row.Scan(
		&p.ProductKey, &p.Brand, &p.BrandSlug, &p.ProductName, &p.NameSlug, &form, &lifeStage,
		&p.IngredientsRaw, &tokens, &p.IngredientsSource, &p.ExtractedAt,
		&p.ProteinPercent, &p.FatPercent, &p.FiberPercent, &p.AshPercent, &p.MoisturePercent, &p.KcalPer100g,
		&p.MacrosSource, &p.ImageURL, &p.ProductURL, &p.BaseURL, &p.Source, &status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Form = domain.ParseForm(form)
	p.LifeStage = domain.ParseLifeStage(lifeStage)
	p.LifecycleStatus = domain.LifecycleStatus(status)
	if p.IngredientsTokens, err = decodeTokens(tokens); err != nil {
		return nil, fmt.Errorf("decode tokens for %s: %w", p.ProductKey, err)
	}
	return p, nil
}

func productArgs(p *domain.CanonicalProduct) ([]interface{}, error) {
	tokens, err := encodeTokens(p.IngredientsTokens)
	if err != nil {
		return nil, err
	}
	status := p.LifecycleStatus
	if status == "" {
		status = domain.StatusPending
	}
	now := time.Now().UTC()
	created, updated := p.CreatedAt, p.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	return []interface{}{
		p.ProductKey, p.Brand, p.BrandSlug, p.ProductName, p.NameSlug, string(p.Form), string(p.LifeStage),
		p.IngredientsRaw, tokens, p.IngredientsSource, p.ExtractedAt,
		p.ProteinPercent, p.FatPercent, p.FiberPercent, p.AshPercent, p.MoisturePercent, p.KcalPer100g,
		p.MacrosSource, p.ImageURL, p.ProductURL, p.BaseURL, p.Source, string(status), created, updated,
	}, nil
}

// encodeTokens stores an empty token list as NULL.
func encodeTokens(tokens []string) (*string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tokens)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func decodeTokens(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var tokens []string
	if err := json.Unmarshal([]byte(v.String), &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

const stagingColumns = `id, batch_id, source, raw_brand, raw_name, raw_url, form_hint, life_stage_hint,
	image_url, ingredients_raw, ingredients_tokens, ingredients_source, extracted_at,
	protein_percent, fat_percent, fiber_percent, ash_percent, moisture_percent, kcal_per_100g,
	macros_source, extraction_error, match_type, match_confidence, matched_key, quarantine_reason,
	processed, created_at`

// StagingRepository handles harvested records awaiting merge.
type StagingRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewStagingRepository creates a new staging repository.
func NewStagingRepository(db *sql.DB, dialect Dialect) *StagingRepository {
	return &StagingRepository{db: db, dialect: dialect}
}

// Insert stores records in one transaction, assigning IDs and timestamps
// where missing.
func (r *StagingRepository) Insert(ctx context.Context, records []*domain.StagingRecord) error {
	if len(records) == 0 {
		return nil
	}
	query := `INSERT INTO staging_records (` + stagingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25, $26, $27)`

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.dialect.Rebind(query))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range records {
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = time.Now().UTC()
			}
			tokens, err := encodeTokens(rec.IngredientsTokens)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				rec.ID, rec.BatchID, rec.Source, rec.RawBrand, rec.RawName, rec.RawURL, rec.FormHint, rec.LifeStageHint,
				rec.ImageURL, rec.IngredientsRaw, tokens, rec.IngredientsSource, rec.ExtractedAt,
				rec.ProteinPercent, rec.FatPercent, rec.FiberPercent, rec.AshPercent, rec.MoisturePercent, rec.KcalPer100g,
				rec.MacrosSource, rec.ExtractionError, string(rec.MatchType), rec.MatchConfidence, rec.MatchedKey, rec.QuarantineReason,
				rec.Processed, rec.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert staging record %s: %w", rec.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.StoreError(fmt.Sprintf("insert %d staging records", len(records)), err)
	}
	return nil
}

// ListUnprocessed returns unprocessed records in arrival order. An empty
// batchID lists every batch. limit <= 0 means no limit.
func (r *StagingRepository) ListUnprocessed(ctx context.Context, batchID string, limit int) ([]*domain.StagingRecord, error) {
	query := `SELECT ` + stagingColumns + ` FROM staging_records WHERE processed = $1`
	args := []interface{}{false}
	if batchID != "" {
		args = append(args, batchID)
		query += fmt.Sprintf(" AND batch_id = $%d", len(args))
	}
	query += " ORDER BY created_at, id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, domain.StoreError("list staging records", err)
	}
	defer rows.Close()

	var records []*domain.StagingRecord
	for rows.Next() {
		rec := &domain.StagingRecord{}
		var (
			tokens    sql.NullString
			matchType string
		)
		if err := rows.Scan(
			&rec.ID, &rec.BatchID, &rec.Source, &rec.RawBrand, &rec.RawName, &rec.RawURL, &rec.FormHint, &rec.LifeStageHint,
			&rec.ImageURL, &rec.IngredientsRaw, &tokens, &rec.IngredientsSource, &rec.ExtractedAt,
			&rec.ProteinPercent, &rec.FatPercent, &rec.FiberPercent, &rec.AshPercent, &rec.MoisturePercent, &rec.KcalPer100g,
			&rec.MacrosSource, &rec.ExtractionError, &matchType, &rec.MatchConfidence, &rec.MatchedKey, &rec.QuarantineReason,
			&rec.Processed, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.MatchType = domain.MatchType(matchType)
		if rec.IngredientsTokens, err = decodeTokens(tokens); err != nil {
			return nil, fmt.Errorf("decode tokens for staging record %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkMatched records the match outcome and marks the record processed.
func (r *StagingRepository) MarkMatched(ctx context.Context, id string, matchType domain.MatchType, confidence float64, productKey string) error {
	query := `UPDATE staging_records
		SET match_type = $1, match_confidence = $2, matched_key = $3, processed = $4
		WHERE id = $5`
	return r.update(ctx, query, string(matchType), confidence, productKey, true, id)
}

// Quarantine marks a record processed with the reason it could not be merged.
func (r *StagingRepository) Quarantine(ctx context.Context, id, reason string) error {
	query := `UPDATE staging_records SET quarantine_reason = $1, processed = $2 WHERE id = $3`
	return r.update(ctx, query, reason, true, id)
}

// CountQuarantined returns the number of quarantined records, optionally for
// one batch.
func (r *StagingRepository) CountQuarantined(ctx context.Context, batchID string) (int, error) {
	query := `SELECT COUNT(*) FROM staging_records WHERE quarantine_reason <> $1`
	args := []interface{}{""}
	if batchID != "" {
		query += ` AND batch_id = $2`
		args = append(args, batchID)
	}
	var n int
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), args...).Scan(&n)
	return n, err
}

func (r *StagingRepository) update(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return domain.StoreError("update staging record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.StoreError("update staging record", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

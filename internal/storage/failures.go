package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// HarvestFailureRepository handles the re-harvest queue.
type HarvestFailureRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewHarvestFailureRepository creates a new failure queue repository.
func NewHarvestFailureRepository(db *sql.DB, dialect Dialect) *HarvestFailureRepository {
	return &HarvestFailureRepository{db: db, dialect: dialect}
}

// Enqueue records a failed URL. A URL already queued for the same source has
// its attempt count bumped and is reopened.
func (r *HarvestFailureRepository) Enqueue(ctx context.Context, source, url, country string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := time.Now().UTC()
	query := `INSERT INTO harvest_failures (id, source, url, country, attempts, last_error, resolved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $7)
		ON CONFLICT (source, url) DO UPDATE SET
			attempts = harvest_failures.attempts + 1,
			country = excluded.country,
			last_error = excluded.last_error,
			resolved = excluded.resolved,
			updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), uuid.NewString(), source, url, country, msg, false, now)
	if err != nil {
		return domain.StoreError("enqueue harvest failure", err)
	}
	return nil
}

// ListOpen returns unresolved failures for a source, oldest first. An empty
// source lists all.
func (r *HarvestFailureRepository) ListOpen(ctx context.Context, source string, limit int) ([]domain.HarvestFailure, error) {
	query := `SELECT id, source, url, country, attempts, last_error, resolved, created_at, updated_at
		FROM harvest_failures WHERE resolved = $1`
	args := []interface{}{false}
	if source != "" {
		query += ` AND source = $2`
		args = append(args, source)
	}
	query += ` ORDER BY updated_at, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, domain.StoreError("list harvest failures", err)
	}
	defer rows.Close()

	var out []domain.HarvestFailure
	for rows.Next() {
		var f domain.HarvestFailure
		if err := rows.Scan(&f.ID, &f.Source, &f.URL, &f.Country, &f.Attempts, &f.LastError, &f.Resolved, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Resolve closes a queued failure after a successful re-harvest.
func (r *HarvestFailureRepository) Resolve(ctx context.Context, source, url string) error {
	query := `UPDATE harvest_failures SET resolved = $1, updated_at = $2 WHERE source = $3 AND url = $4`
	if _, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), true, time.Now().UTC(), source, url); err != nil {
		return domain.StoreError("resolve harvest failure", err)
	}
	return nil
}

// EventRepository handles the lifecycle audit trail.
type EventRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *sql.DB, dialect Dialect) *EventRepository {
	return &EventRepository{db: db, dialect: dialect}
}

// Record appends a lifecycle event.
func (r *EventRepository) Record(ctx context.Context, e *domain.LifecycleEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO lifecycle_events (id, product_key, from_status, to_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query),
		e.ID, e.ProductKey, string(e.FromStatus), string(e.ToStatus), e.Actor, e.Reason, e.CreatedAt)
	if err != nil {
		return domain.StoreError("record lifecycle event", err)
	}
	return nil
}

// ListByProduct returns a product's events in order.
func (r *EventRepository) ListByProduct(ctx context.Context, productKey string) ([]domain.LifecycleEvent, error) {
	query := `SELECT id, product_key, from_status, to_status, actor, reason, created_at
		FROM lifecycle_events WHERE product_key = $1 ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), productKey)
	if err != nil {
		return nil, domain.StoreError("list lifecycle events", err)
	}
	defer rows.Close()

	var out []domain.LifecycleEvent
	for rows.Next() {
		var (
			e        domain.LifecycleEvent
			from, to string
		)
		if err := rows.Scan(&e.ID, &e.ProductKey, &from, &to, &e.Actor, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FromStatus, e.ToStatus = domain.LifecycleStatus(from), domain.LifecycleStatus(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

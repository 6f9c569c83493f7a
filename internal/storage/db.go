// Package storage persists the catalog: canonical products, staging records,
// brand aliases, quality snapshots, the re-harvest queue, and lifecycle events.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/catalog-engine/internal/config"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// Dialect selects SQL placeholder style and migration files.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $N placeholders into the dialect's form. SQLite gets
// numbered ?N parameters so a placeholder may repeat or appear out of order.
func (d Dialect) Rebind(query string) string {
	if d == DialectSQLite {
		return placeholderPattern.ReplaceAllString(query, "?$1")
	}
	return query
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, Dialect, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)

	switch cfg.Driver {
	case "sqlite", "":
		dialect = DialectSQLite
		journal := cfg.SQLite.JournalMode
		if journal == "" {
			journal = "WAL"
		}
		dsn := fmt.Sprintf("file:%s?_journal_mode=%s&_busy_timeout=5000&_foreign_keys=on", cfg.SQLite.Path, journal)
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		maxOpen := cfg.SQLite.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 1
		}
		db.SetMaxOpenConns(maxOpen)
	case "postgres":
		dialect = DialectPostgres
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", dialect, err)
	}
	return db, dialect, nil
}

// Store bundles the repositories over one connection.
type Store struct {
	DB        *sql.DB
	Dialect   Dialect
	Products  *ProductRepository
	Staging   *StagingRepository
	Aliases   *BrandAliasRepository
	Snapshots *SnapshotRepository
	Failures  *HarvestFailureRepository
	Events    *EventRepository
}

// NewStore wires every repository to db.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		DB:        db,
		Dialect:   dialect,
		Products:  NewProductRepository(db, dialect),
		Staging:   NewStagingRepository(db, dialect),
		Aliases:   NewBrandAliasRepository(db, dialect),
		Snapshots: NewSnapshotRepository(db, dialect),
		Failures:  NewHarvestFailureRepository(db, dialect),
		Events:    NewEventRepository(db, dialect),
	}
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

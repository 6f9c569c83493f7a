// Package blob keeps raw harvested page snapshots so extraction can be rerun
// without refetching.
package blob

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/spherical-ai/catalog-engine/internal/config"
)

// ErrNotFound is returned for a missing object.
var ErrNotFound = errors.New("blob not found")

// Store is a flat object store keyed by slash-separated paths.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// New builds the configured store.
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Driver {
	case "local", "":
		return NewLocalStore(cfg.LocalRoot)
	case "gcs":
		return NewGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported blob driver: %s", cfg.Driver)
	}
}

// SnapshotKey returns the key for a page snapshot: source/YYYY-MM-DD/name.
// The file name is derived from the page URL.
func SnapshotKey(source string, at time.Time, pageURL string) string {
	sum := sha1.Sum([]byte(pageURL))
	name := hex.EncodeToString(sum[:8]) + ".html"
	return path.Join(source, at.UTC().Format("2006-01-02"), name)
}

// DayPrefix returns the listing prefix for one source and day.
func DayPrefix(source string, day time.Time) string {
	return path.Join(source, day.UTC().Format("2006-01-02")) + "/"
}

func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" || key == "." {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return key, nil
}

// Package cache provides the cache layer used for the brand alias table,
// brand quality snapshots, and run summary notifications.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spherical-ai/catalog-engine/internal/config"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}

// BatchSetter stores many entries under one TTL in a single round trip.
type BatchSetter interface {
	SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
}

// Publisher broadcasts JSON messages on a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Subscriber receives raw messages published on a channel until the returned
// func is called or ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// New builds the configured cache client.
func New(cfg config.CacheConfig) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedisClient(cfg)
	case "memory", "":
		return NewMemoryClient(cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Driver)
	}
}

// GetJSON reads key and decodes it into dst.
func GetJSON(ctx context.Context, c Client, key string, dst interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, c Client, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// SetManyJSON encodes values and stores them under one TTL, batched when the
// client supports it.
func SetManyJSON[V any](ctx context.Context, c Client, values map[string]V, ttl time.Duration) error {
	entries := make(map[string][]byte, len(values))
	for key, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		entries[key] = data
	}
	if b, ok := c.(BatchSetter); ok {
		return b.SetMany(ctx, entries, ttl)
	}
	for key, data := range entries {
		if err := c.Set(ctx, key, data, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Channel names.
const (
	RunsChannel = "runs"
)

// CacheKey generates a cache key from components.
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// AliasTableKey is the key of the cached brand alias table.
func AliasTableKey() string {
	return CacheKey("brand", "aliases")
}

// BrandQualityKey is the key of a cached brand quality snapshot.
func BrandQualityKey(brandSlug string) string {
	return CacheKey("brand", "quality", brandSlug)
}

// BrandQualityPrefix covers every cached brand quality snapshot.
func BrandQualityPrefix() string {
	return CacheKey("brand", "quality") + ":"
}

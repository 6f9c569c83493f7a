package brand

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/observability"
)

// AliasReader reads the alias table from the store.
type AliasReader interface {
	All(ctx context.Context) ([]domain.BrandAlias, error)
}

// LoadNormalizer loads the alias table once for a run, preferring the cached
// copy. A cache failure is logged and falls through to the store.
func LoadNormalizer(ctx context.Context, reader AliasReader, c cache.Client, ttl time.Duration, logger *observability.Logger) (*Normalizer, error) {
	var rows []domain.BrandAlias

	if c != nil {
		err := cache.GetJSON(ctx, c, cache.AliasTableKey(), &rows)
		switch {
		case err == nil:
			logger.Debug().Int("aliases", len(rows)).Msg("Brand alias table loaded from cache")
			return NewNormalizer(rows), nil
		case !errors.Is(err, cache.ErrCacheMiss):
			logger.Warn().Err(err).Msg("Brand alias cache read failed")
		}
	}

	rows, err := reader.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load brand aliases: %w", err)
	}

	if c != nil {
		if err := cache.SetJSON(ctx, c, cache.AliasTableKey(), rows, ttl); err != nil {
			logger.Warn().Err(err).Msg("Brand alias cache write failed")
		}
	}

	logger.Info().Int("aliases", len(rows)).Msg("Brand alias table loaded")
	return NewNormalizer(rows), nil
}

// AliasFile is the curated alias seed format:
//
//	brands:
//	  - canonical: Hill's Science Plan
//	    aliases: ["Hills", "Hill's Science Diet"]
type AliasFile struct {
	Brands []struct {
		Canonical string   `yaml:"canonical"`
		Aliases   []string `yaml:"aliases"`
	} `yaml:"brands"`
}

// ParseAliasFile parses a curated alias file into keyed alias rows. Each
// canonical brand also maps to itself.
func ParseAliasFile(data []byte) ([]domain.BrandAlias, error) {
	var f AliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, domain.ValidationError("parse alias file", err)
	}

	seen := make(map[string]string)
	var rows []domain.BrandAlias
	add := func(alias, canonical string) error {
		k := Key(alias)
		if k == "" {
			return nil
		}
		if prev, ok := seen[k]; ok {
			if prev != canonical {
				return domain.ValidationError(fmt.Sprintf("alias %q maps to both %q and %q", alias, prev, canonical), nil)
			}
			return nil
		}
		seen[k] = canonical
		rows = append(rows, domain.BrandAlias{Alias: k, CanonicalBrand: canonical})
		return nil
	}

	for _, b := range f.Brands {
		canonical := clean(b.Canonical)
		if canonical == "" {
			return nil, domain.ValidationError("alias entry without canonical brand", nil)
		}
		if err := add(canonical, canonical); err != nil {
			return nil, err
		}
		for _, a := range b.Aliases {
			if err := add(a, canonical); err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

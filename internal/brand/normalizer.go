// Package brand maps free-form brand strings to canonical brand names.
package brand

import (
	"strings"
	"unicode"

	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/textnorm"
)

// Unknown is the canonical brand for empty input.
const Unknown = "Unknown"

// Normalizer resolves raw brand strings against a read-only alias table.
// It is safe for concurrent use.
type Normalizer struct {
	aliases map[string]string
}

// NewNormalizer builds a normalizer from alias rows. Alias keys are re-keyed
// with Key so rows written by hand still match, and every canonical brand is
// registered as an alias of itself.
func NewNormalizer(rows []domain.BrandAlias) *Normalizer {
	aliases := make(map[string]string, len(rows)*2)
	for _, row := range rows {
		canonical := textnorm.CollapseSpace(row.CanonicalBrand)
		if canonical == "" {
			continue
		}
		if k := Key(row.Alias); k != "" {
			aliases[k] = canonical
		}
		if k := Key(canonical); k != "" {
			if _, exists := aliases[k]; !exists {
				aliases[k] = canonical
			}
		}
	}
	return &Normalizer{aliases: aliases}
}

// Normalize returns the canonical brand for raw. Unmatched input becomes its
// own canonical brand in title case. The result is never empty.
func (n *Normalizer) Normalize(raw string) string {
	cleaned := clean(raw)
	if cleaned == "" {
		return Unknown
	}
	if canonical, ok := n.aliases[Key(cleaned)]; ok {
		return canonical
	}
	return textnorm.Title(cleaned)
}

// Known reports whether raw resolves through the alias table.
func (n *Normalizer) Known(raw string) bool {
	_, ok := n.aliases[Key(raw)]
	return ok
}

// Len returns the number of alias keys.
func (n *Normalizer) Len() int {
	return len(n.aliases)
}

// Key computes the lookup key for a brand string: folded, "&" spelled out,
// apostrophes, hyphens, punctuation and whitespace removed.
func Key(raw string) string {
	s := textnorm.Fold(raw)
	s = strings.ReplaceAll(s, "&", " and ")

	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Slug returns the brand slug used in product keys.
func Slug(canonical string) string {
	return textnorm.Slug(canonical)
}

// clean collapses whitespace and trims surrounding punctuation.
func clean(raw string) string {
	s := textnorm.CollapseSpace(raw)
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// Package matching resolves staged records against the existing catalog.
package matching

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/textnorm"
)

// Confidence values for the deterministic strategies.
const (
	ConfidenceExactURL  = 1.0
	ConfidenceBrandName = 0.95
)

// DefaultFuzzyThreshold is the minimum name ratio for a fuzzy match.
const DefaultFuzzyThreshold = 0.85

// Result is the outcome of a match. Product is nil for MatchNew.
type Result struct {
	Type       domain.MatchType
	Confidence float64
	Product    *domain.CanonicalProduct
}

// Matcher applies the match strategies in strict priority order.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a matcher with the given fuzzy threshold. A non-positive
// threshold selects the default.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold returns the configured fuzzy threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match resolves id against idx. The first strategy that matches wins:
// exact base URL, then exact brand and name, then fuzzy name within the brand.
func (m *Matcher) Match(idx *Index, id domain.Identity) Result {
	if id.BaseURL != "" {
		if p, ok := idx.byURL(id.BaseURL); ok {
			return Result{Type: domain.MatchExactURL, Confidence: ConfidenceExactURL, Product: p}
		}
	}

	candidates := idx.brandProducts(id.BrandSlug)

	// an exact key hit is the strongest brand+name match
	if p, ok := idx.Get(id.ProductKey); ok {
		return Result{Type: domain.MatchBrandName, Confidence: ConfidenceBrandName, Product: p}
	}
	for _, p := range candidates {
		if p.NameSlug == id.NameSlug && formsCompatible(p.Form, id.Form) {
			return Result{Type: domain.MatchBrandName, Confidence: ConfidenceBrandName, Product: p}
		}
	}

	target := tokenNormalize(id.ProductName)
	var best *domain.CanonicalProduct
	bestScore := 0.0
	for _, p := range candidates {
		if !formsCompatible(p.Form, id.Form) {
			continue
		}
		score := Ratio(target, tokenNormalize(p.ProductName))
		if score < m.threshold {
			continue
		}
		switch {
		case best == nil, score > bestScore:
			best, bestScore = p, score
		case score == bestScore && !best.HasIngredients() && p.HasIngredients():
			best = p
		}
	}
	if best != nil {
		return Result{Type: domain.MatchFuzzy, Confidence: bestScore, Product: best}
	}

	return Result{Type: domain.MatchNew, Confidence: 0}
}

// Ratio is the character-level similarity of a and b in [0, 1], derived from
// their Levenshtein distance: 1 - distance/longer length. It scores below a
// difflib-style 2*M/T ratio for the same pair.
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// tokenNormalize folds a name to lower-case alphanumeric tokens joined by
// single spaces.
func tokenNormalize(name string) string {
	return strings.ReplaceAll(textnorm.Slug(name), "-", " ")
}

// formsCompatible keeps distinct known forms apart while letting an unknown
// form match anything.
func formsCompatible(a, b domain.Form) bool {
	return a == b || a == domain.FormUnknown || b == domain.FormUnknown || a == "" || b == ""
}

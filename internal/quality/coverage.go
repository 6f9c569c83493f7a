package quality

import (
	"sort"
	"time"

	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// Policy holds the brand coverage thresholds, in percent, and the valid kcal
// range.
type Policy struct {
	IngredientsCoverage float64
	FormCoverage        float64
	LifeStageCoverage   float64
	KcalValidCoverage   float64
	KcalMin             float64
	KcalMax             float64
}

// PolicyFromConfig maps configuration onto a policy.
func PolicyFromConfig(cfg config.QualityConfig) Policy {
	return Policy(cfg)
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return PolicyFromConfig(config.DefaultConfig().Quality)
}

// Eligible reports whether a snapshot clears every threshold. Thresholds are
// inclusive.
func (p Policy) Eligible(s domain.BrandQualitySnapshot) bool {
	return s.SKUCount > 0 &&
		s.IngredientsCoverage >= p.IngredientsCoverage &&
		s.FormCoverage >= p.FormCoverage &&
		s.LifeStageCoverage >= p.LifeStageCoverage &&
		s.KcalValidCoverage >= p.KcalValidCoverage
}

// KcalValid reports whether the product's kcal value lies inside the range.
func (p Policy) KcalValid(prod *domain.CanonicalProduct) bool {
	return prod.KcalPer100g != nil && *prod.KcalPer100g >= p.KcalMin && *prod.KcalPer100g <= p.KcalMax
}

// ComputeSnapshots recomputes brand coverage from scratch. Rejected products
// do not count. Output is ordered by brand slug.
func ComputeSnapshots(products []*domain.CanonicalProduct, policy Policy, now time.Time) []domain.BrandQualitySnapshot {
	type tally struct {
		brand                                   string
		skus, ingredients, form, lifeStage, kcal int
	}
	byBrand := make(map[string]*tally)

	for _, p := range products {
		if p.LifecycleStatus == domain.StatusRejected {
			continue
		}
		t, ok := byBrand[p.BrandSlug]
		if !ok {
			t = &tally{brand: p.Brand}
			byBrand[p.BrandSlug] = t
		}
		t.skus++
		if p.HasIngredients() {
			t.ingredients++
		}
		if p.Form != "" && p.Form != domain.FormUnknown {
			t.form++
		}
		if p.LifeStage != "" && p.LifeStage != domain.LifeStageUnknown {
			t.lifeStage++
		}
		if policy.KcalValid(p) {
			t.kcal++
		}
	}

	slugs := make([]string, 0, len(byBrand))
	for slug := range byBrand {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	out := make([]domain.BrandQualitySnapshot, 0, len(slugs))
	for _, slug := range slugs {
		t := byBrand[slug]
		s := domain.BrandQualitySnapshot{
			BrandSlug:           slug,
			Brand:               t.brand,
			SKUCount:            t.skus,
			IngredientsCoverage: percent(t.ingredients, t.skus),
			FormCoverage:        percent(t.form, t.skus),
			LifeStageCoverage:   percent(t.lifeStage, t.skus),
			KcalValidCoverage:   percent(t.kcal, t.skus),
			ComputedAt:          now,
		}
		s.ProductionEligible = policy.Eligible(s)
		out = append(out, s)
	}
	return out
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}

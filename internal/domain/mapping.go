package domain

import (
	"slices"
	"time"
)

// Identity is the resolved identity of a staged record.
type Identity struct {
	Brand       string
	BrandSlug   string
	ProductName string
	NameSlug    string
	Form        Form
	LifeStage   LifeStage
	ProductKey  string
	BaseURL     string
}

// ToProduct maps a staged record and its resolved identity to a catalog row.
// Lifecycle status is always PENDING for a freshly mapped product.
func (r *StagingRecord) ToProduct(id Identity) *CanonicalProduct {
	p := &CanonicalProduct{
		ProductKey:        id.ProductKey,
		Brand:             id.Brand,
		BrandSlug:         id.BrandSlug,
		ProductName:       id.ProductName,
		NameSlug:          id.NameSlug,
		Form:              id.Form,
		LifeStage:         id.LifeStage,
		IngredientsRaw:    r.IngredientsRaw,
		IngredientsTokens: slices.Clone(r.IngredientsTokens),
		IngredientsSource: r.IngredientsSource,
		ExtractedAt:       r.ExtractedAt,
		Nutrients:         r.Nutrients,
		MacrosSource:      r.MacrosSource,
		ImageURL:          r.ImageURL,
		Source:            r.Source,
		LifecycleStatus:   StatusPending,
	}
	if r.RawURL != "" {
		u := r.RawURL
		p.ProductURL = &u
	}
	if id.BaseURL != "" {
		b := id.BaseURL
		p.BaseURL = &b
	}
	return p
}

// MergeProduct folds incoming into existing. Content fields incoming provides
// win, fields it leaves nil are preserved. Locator fields (product URL, base
// URL, source) are only filled when existing has none. Identity fields and
// lifecycle status of existing are never touched. changed is false when the
// merge is a no-op.
func MergeProduct(existing, incoming *CanonicalProduct) (merged *CanonicalProduct, changed bool) {
	out := *existing
	out.IngredientsTokens = slices.Clone(existing.IngredientsTokens)

	if incoming.LifeStage != "" && incoming.LifeStage != LifeStageUnknown && incoming.LifeStage != out.LifeStage {
		out.LifeStage = incoming.LifeStage
		changed = true
	}

	contentChanged := false
	if incoming.HasIngredients() && !slices.Equal(incoming.IngredientsTokens, out.IngredientsTokens) {
		out.IngredientsTokens = slices.Clone(incoming.IngredientsTokens)
		contentChanged = true
	}
	contentChanged = mergeString(&out.IngredientsRaw, incoming.IngredientsRaw) || contentChanged
	contentChanged = mergeString(&out.IngredientsSource, incoming.IngredientsSource) || contentChanged

	contentChanged = mergeFloat(&out.ProteinPercent, incoming.ProteinPercent) || contentChanged
	contentChanged = mergeFloat(&out.FatPercent, incoming.FatPercent) || contentChanged
	contentChanged = mergeFloat(&out.FiberPercent, incoming.FiberPercent) || contentChanged
	contentChanged = mergeFloat(&out.AshPercent, incoming.AshPercent) || contentChanged
	contentChanged = mergeFloat(&out.MoisturePercent, incoming.MoisturePercent) || contentChanged
	contentChanged = mergeFloat(&out.KcalPer100g, incoming.KcalPer100g) || contentChanged
	contentChanged = mergeString(&out.MacrosSource, incoming.MacrosSource) || contentChanged

	// extraction time only moves when extracted content actually changed
	if contentChanged {
		changed = true
		if incoming.ExtractedAt != nil {
			t := *incoming.ExtractedAt
			out.ExtractedAt = &t
		}
	}

	changed = mergeString(&out.ImageURL, incoming.ImageURL) || changed

	// Where the row was first seen is kept. Variant URLs and other sources
	// resolving to the same row would otherwise rewrite it on every rerun.
	changed = fillString(&out.ProductURL, incoming.ProductURL) || changed
	changed = fillString(&out.BaseURL, incoming.BaseURL) || changed
	if out.Source == "" && incoming.Source != "" {
		out.Source = incoming.Source
		changed = true
	}

	if changed {
		out.UpdatedAt = time.Now().UTC()
	}
	return &out, changed
}

func mergeString(dst **string, src *string) bool {
	if src == nil || *src == "" {
		return false
	}
	if *dst != nil && **dst == *src {
		return false
	}
	v := *src
	*dst = &v
	return true
}

func fillString(dst **string, src *string) bool {
	if *dst != nil && **dst != "" {
		return false
	}
	return mergeString(dst, src)
}

func mergeFloat(dst **float64, src *float64) bool {
	if src == nil {
		return false
	}
	if *dst != nil && **dst == *src {
		return false
	}
	v := *src
	*dst = &v
	return true
}

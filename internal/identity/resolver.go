// Package identity derives stable product keys from harvested records.
package identity

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/spherical-ai/catalog-engine/internal/brand"
	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/textnorm"
)

var (
	multiPackPattern = regexp.MustCompile(`(?i)\b\d+\s*[x×]\s*\d+(?:[.,]\d+)?\s*(?:kg|g|ml|l)\b`)
	packSizePattern  = regexp.MustCompile(`(?i)\b\d+(?:[.,]\d+)?\s*(?:kg|g|ml|l)\b`)
	qualifierPattern = regexp.MustCompile(`(?i)\b(?:economy|saver|trial|value|bulk)\s+pack\b|\bmulti-?pack\b`)
	emptyParens      = regexp.MustCompile(`[(\[]\s*[)\]]`)
)

// Resolver derives identities from staging records.
type Resolver struct {
	brands *brand.Normalizer
}

// NewResolver creates a resolver backed by the given brand normalizer.
func NewResolver(brands *brand.Normalizer) *Resolver {
	return &Resolver{brands: brands}
}

// Resolve computes the identity of rec. It fails only when the product name
// carries no identifying characters after normalization.
func (r *Resolver) Resolve(rec *domain.StagingRecord) (domain.Identity, error) {
	canonical := r.brands.Normalize(rec.RawBrand)
	brandSlug := brand.Slug(canonical)

	name := NormalizeName(rec.RawName, canonical)
	nameSlug := textnorm.Slug(name)
	if nameSlug == "" {
		name = textnorm.CollapseSpace(rec.RawName)
		nameSlug = textnorm.Slug(name)
	}
	if nameSlug == "" {
		return domain.Identity{}, domain.ValidationError("product name has no identifying characters", nil)
	}

	form := InferForm(rec.FormHint, rec.RawName)

	id := domain.Identity{
		Brand:       canonical,
		BrandSlug:   brandSlug,
		ProductName: name,
		NameSlug:    nameSlug,
		Form:        form,
		LifeStage:   InferLifeStage(rec.LifeStageHint, rec.RawName),
		ProductKey:  ProductKey(brandSlug, nameSlug, form),
	}
	if rec.RawURL != "" {
		id.BaseURL = BaseURL(rec.RawURL)
	}
	return id, nil
}

// ProductKey joins the identity components. An unknown form is part of the
// key like any other form.
func ProductKey(brandSlug, nameSlug string, form domain.Form) string {
	if form == "" {
		form = domain.FormUnknown
	}
	return brandSlug + "|" + nameSlug + "|" + string(form)
}

// NormalizeName strips pack sizes, marketing qualifiers, and a leading copy
// of the brand from a product name.
func NormalizeName(name, brandName string) string {
	s := multiPackPattern.ReplaceAllString(name, " ")
	s = packSizePattern.ReplaceAllString(s, " ")
	s = qualifierPattern.ReplaceAllString(s, " ")
	s = emptyParens.ReplaceAllString(s, " ")
	s = textnorm.CollapseSpace(s)
	s = stripBrandPrefix(s, brandName)
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r) || r == '|'
	})
}

func stripBrandPrefix(name, brandName string) string {
	target := textnorm.Slug(brandName)
	if target == "" || brandName == brand.Unknown {
		return name
	}
	words := strings.Fields(name)
	for i := 1; i < len(words); i++ {
		prefix := textnorm.Slug(strings.Join(words[:i], " "))
		if prefix == target {
			return strings.Join(words[i:], " ")
		}
		if len(prefix) > len(target) {
			break
		}
	}
	return name
}

// BaseURL drops query string and fragment (variant selectors) from a product
// URL and canonicalizes scheme, host and trailing slash.
func BaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			raw = raw[:i]
		}
		return strings.TrimRight(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

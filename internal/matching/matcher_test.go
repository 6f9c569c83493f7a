package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

func product(key, brandSlug, name, nameSlug string, form domain.Form, baseURL string, tokens ...string) *domain.CanonicalProduct {
	p := &domain.CanonicalProduct{
		ProductKey:        key,
		BrandSlug:         brandSlug,
		ProductName:       name,
		NameSlug:          nameSlug,
		Form:              form,
		IngredientsTokens: tokens,
	}
	if baseURL != "" {
		p.BaseURL = &baseURL
	}
	return p
}

func identity(brandSlug, name, nameSlug string, form domain.Form, baseURL string) domain.Identity {
	return domain.Identity{
		BrandSlug:   brandSlug,
		ProductName: name,
		NameSlug:    nameSlug,
		Form:        form,
		ProductKey:  brandSlug + "|" + nameSlug + "|" + string(form),
		BaseURL:     baseURL,
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("", ""))
	assert.Equal(t, 1.0, Ratio("adult lamb", "adult lamb"))
	assert.Equal(t, 0.0, Ratio("abc", ""))
	assert.InDelta(t, 0.9, Ratio("adult lamb", "adult lamp"), 1e-9)
	assert.Less(t, Ratio("adult lamb", "puppy salmon"), 0.5)
	// One deletion in seven characters: 6/7, not the 12/13 a matching-blocks ratio gives.
	assert.InDelta(t, 6.0/7.0, Ratio("chicken", "chiken"), 1e-9)
}

func TestMatcher_Priority(t *testing.T) {
	urlOwner := product("acana|wild-prairie|dry", "acana", "Wild Prairie", "wild-prairie", domain.FormDry, "https://shop.example/p/1")
	nameOwner := product("acana|adult-dog|dry", "acana", "Adult Dog", "adult-dog", domain.FormDry, "https://shop.example/p/2")
	idx := NewIndex([]*domain.CanonicalProduct{urlOwner, nameOwner})
	m := NewMatcher(0.85)

	// URL wins even though the name points at another product
	res := m.Match(idx, identity("acana", "Adult Dog", "adult-dog", domain.FormDry, "https://shop.example/p/1"))
	assert.Equal(t, domain.MatchExactURL, res.Type)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Same(t, urlOwner, res.Product)

	res = m.Match(idx, identity("acana", "Adult Dog", "adult-dog", domain.FormDry, "https://other.example/x"))
	assert.Equal(t, domain.MatchBrandName, res.Type)
	assert.Equal(t, 0.95, res.Confidence)
	assert.Same(t, nameOwner, res.Product)

	res = m.Match(idx, identity("acana", "Adult Dogs", "adult-dogs", domain.FormDry, ""))
	assert.Equal(t, domain.MatchFuzzy, res.Type)
	assert.GreaterOrEqual(t, res.Confidence, 0.85)
	assert.Same(t, nameOwner, res.Product)

	res = m.Match(idx, identity("acana", "Puppy Salmon", "puppy-salmon", domain.FormDry, ""))
	assert.Equal(t, domain.MatchNew, res.Type)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Nil(t, res.Product)
}

func TestMatcher_FuzzyStaysWithinBrand(t *testing.T) {
	idx := NewIndex([]*domain.CanonicalProduct{
		product("orijen|adult-dog|dry", "orijen", "Adult Dog", "adult-dog", domain.FormDry, ""),
	})
	res := NewMatcher(0.85).Match(idx, identity("acana", "Adult Dogs", "adult-dogs", domain.FormDry, ""))
	assert.Equal(t, domain.MatchNew, res.Type)
}

func TestMatcher_FuzzyTieBreakPrefersIngredients(t *testing.T) {
	bare := product("acana|adult-lamb|dry", "acana", "Adult Lamb", "adult-lamb", domain.FormDry, "")
	rich := product("acana|adult-lamp|dry", "acana", "Adult Lamp", "adult-lamp", domain.FormDry, "", "lamb", "oats")
	idx := NewIndex([]*domain.CanonicalProduct{bare, rich})

	// "adult lamx" is one edit away from both
	res := NewMatcher(0.85).Match(idx, identity("acana", "Adult Lamx", "adult-lamx", domain.FormDry, ""))
	require.Equal(t, domain.MatchFuzzy, res.Type)
	assert.Same(t, rich, res.Product)
}

func TestMatcher_ThresholdIsConfigurable(t *testing.T) {
	idx := NewIndex([]*domain.CanonicalProduct{
		product("acana|adult-lamb|dry", "acana", "Adult Lamb", "adult-lamb", domain.FormDry, ""),
	})
	id := identity("acana", "Adult Lamp", "adult-lamp", domain.FormDry, "")

	assert.Equal(t, domain.MatchFuzzy, NewMatcher(0.85).Match(idx, id).Type)
	assert.Equal(t, domain.MatchNew, NewMatcher(0.95).Match(idx, id).Type)
	assert.Equal(t, DefaultFuzzyThreshold, NewMatcher(0).Threshold())
}

func TestMatcher_DistinctFormsDoNotMerge(t *testing.T) {
	idx := NewIndex([]*domain.CanonicalProduct{
		product("acana|adult-chicken|dry", "acana", "Adult Chicken", "adult-chicken", domain.FormDry, ""),
	})
	m := NewMatcher(0.85)

	assert.Equal(t, domain.MatchNew, m.Match(idx, identity("acana", "Adult Chicken", "adult-chicken", domain.FormWet, "")).Type)
	assert.Equal(t, domain.MatchBrandName, m.Match(idx, identity("acana", "Adult Chicken", "adult-chicken", domain.FormUnknown, "")).Type)
}

func TestIndex_PutWithinBatch(t *testing.T) {
	idx := NewIndex(nil)
	m := NewMatcher(0.85)
	id := identity("acana", "Adult", "adult", domain.FormDry, "https://shop.example/p/9")

	require.Equal(t, domain.MatchNew, m.Match(idx, id).Type)
	idx.Put(product(id.ProductKey, "acana", "Adult", "adult", domain.FormDry, id.BaseURL))

	res := m.Match(idx, id)
	assert.Equal(t, domain.MatchExactURL, res.Type)
	assert.Equal(t, 1, idx.Len())

	moved := product(id.ProductKey, "acana", "Adult", "adult", domain.FormDry, "https://shop.example/p/10")
	idx.Put(moved)
	_, ok := idx.byURL("https://shop.example/p/9")
	assert.False(t, ok)
	got, ok := idx.byURL("https://shop.example/p/10")
	require.True(t, ok)
	assert.Same(t, moved, got)
	assert.Len(t, idx.brandProducts("acana"), 1)
}

func TestIndex_Remove(t *testing.T) {
	idx := NewIndex([]*domain.CanonicalProduct{
		product("acana|adult|dry", "acana", "Adult", "adult", domain.FormDry, "https://shop.example/p/1"),
		product("acana|senior|dry", "acana", "Senior", "senior", domain.FormDry, "https://shop.example/p/2"),
	})

	idx.Remove("acana|adult|dry")
	idx.Remove("acana|missing|dry")

	_, ok := idx.Get("acana|adult|dry")
	assert.False(t, ok)
	_, ok = idx.byURL("https://shop.example/p/1")
	assert.False(t, ok)
	require.Len(t, idx.brandProducts("acana"), 1)
	assert.Equal(t, "acana|senior|dry", idx.brandProducts("acana")[0].ProductKey)

	// a removed key can be indexed again
	m := NewMatcher(0.85)
	id := identity("acana", "Adult", "adult", domain.FormDry, "https://shop.example/p/1")
	assert.Equal(t, domain.MatchNew, m.Match(idx, id).Type)
}

package matching

import (
	"sync"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// Index is an in-memory view of the catalog used for duplicate lookups. A
// merge loads it once and keeps it current as rows are accepted, so repeats
// inside one batch resolve to the row created earlier in that batch.
type Index struct {
	mu        sync.RWMutex
	byKey     map[string]*domain.CanonicalProduct
	byBaseURL map[string]string
	byBrand   map[string][]string // brand slug -> product keys in insertion order
}

// NewIndex builds an index over products.
func NewIndex(products []*domain.CanonicalProduct) *Index {
	idx := &Index{
		byKey:     make(map[string]*domain.CanonicalProduct, len(products)),
		byBaseURL: make(map[string]string, len(products)),
		byBrand:   make(map[string][]string),
	}
	for _, p := range products {
		idx.Put(p)
	}
	return idx
}

// Put inserts or replaces a product.
func (idx *Index) Put(p *domain.CanonicalProduct) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	prev, exists := idx.byKey[p.ProductKey]
	idx.byKey[p.ProductKey] = p

	if exists && prev.BaseURL != nil && (p.BaseURL == nil || *p.BaseURL != *prev.BaseURL) {
		if idx.byBaseURL[*prev.BaseURL] == p.ProductKey {
			delete(idx.byBaseURL, *prev.BaseURL)
		}
	}
	if p.BaseURL != nil && *p.BaseURL != "" {
		if _, taken := idx.byBaseURL[*p.BaseURL]; !taken {
			idx.byBaseURL[*p.BaseURL] = p.ProductKey
		}
	}
	if !exists {
		idx.byBrand[p.BrandSlug] = append(idx.byBrand[p.BrandSlug], p.ProductKey)
	}
}

// Remove drops key from the index. Unknown keys are ignored.
func (idx *Index) Remove(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	p, ok := idx.byKey[key]
	if !ok {
		return
	}
	delete(idx.byKey, key)
	if p.BaseURL != nil && idx.byBaseURL[*p.BaseURL] == key {
		delete(idx.byBaseURL, *p.BaseURL)
	}
	keys := idx.byBrand[p.BrandSlug]
	for i, k := range keys {
		if k == key {
			idx.byBrand[p.BrandSlug] = append(keys[:i:i], keys[i+1:]...)
			break
		}
	}
	if len(idx.byBrand[p.BrandSlug]) == 0 {
		delete(idx.byBrand, p.BrandSlug)
	}
}

// Get returns the product stored under key.
func (idx *Index) Get(key string) (*domain.CanonicalProduct, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	p, ok := idx.byKey[key]
	return p, ok
}

// Len returns the number of indexed products.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byKey)
}

func (idx *Index) byURL(baseURL string) (*domain.CanonicalProduct, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	key, ok := idx.byBaseURL[baseURL]
	if !ok {
		return nil, false
	}
	return idx.byKey[key], true
}

func (idx *Index) brandProducts(brandSlug string) []*domain.CanonicalProduct {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	keys := idx.byBrand[brandSlug]
	out := make([]*domain.CanonicalProduct, 0, len(keys))
	for _, k := range keys {
		out = append(out, idx.byKey[k])
	}
	return out
}

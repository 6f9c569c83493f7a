package identity

import (
	"strings"

	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/textnorm"
)

type keywordRule[T any] struct {
	value   T
	words   []string // whole tokens
	phrases []string // substrings of the folded text
}

var formRules = []keywordRule[domain.Form]{
	{domain.FormTreat, []string{"treat", "treats", "snack", "snacks", "chew", "chews", "biscuit", "biscuits", "leckerli", "leckerlis", "godis", "tuggben"}, []string{"kausnack", "hundesnack"}},
	{domain.FormRaw, []string{"raw", "barf", "rafoder"}, []string{"rohfutter", "frozen raw"}},
	{domain.FormWet, []string{"wet", "can", "cans", "canned", "tin", "tins", "pouch", "pouches", "pate", "terrine", "dose", "dosen", "vatfoder", "konserv"}, []string{"nassfutter", "in gravy", "in jelly"}},
	{domain.FormDry, []string{"dry", "kibble", "torrfoder"}, []string{"trockenfutter"}},
}

var lifeStageRules = []keywordRule[domain.LifeStage]{
	{domain.LifeStageAll, nil, []string{"all life stages", "all ages", "alle lebensphasen", "alla livsstadier"}},
	{domain.LifeStagePuppy, []string{"puppy", "puppies", "junior", "welpe", "welpen", "valp", "valpar"}, nil},
	{domain.LifeStageSenior, []string{"senior", "mature", "ageing", "aging", "7+", "8+"}, nil},
	{domain.LifeStageAdult, []string{"adult", "vuxen"}, nil},
}

// InferForm resolves the product form from an explicit hint, falling back to
// keywords in the product name.
func InferForm(hint, name string) domain.Form {
	if f := domain.ParseForm(hint); f != domain.FormUnknown {
		return f
	}
	if f, ok := match(formRules, hint); ok {
		return f
	}
	if f, ok := match(formRules, name); ok {
		return f
	}
	return domain.FormUnknown
}

// InferLifeStage resolves the life stage from an explicit hint, falling back
// to keywords in the product name.
func InferLifeStage(hint, name string) domain.LifeStage {
	if ls := domain.ParseLifeStage(hint); ls != domain.LifeStageUnknown {
		return ls
	}
	if ls, ok := match(lifeStageRules, hint); ok {
		return ls
	}
	if ls, ok := match(lifeStageRules, name); ok {
		return ls
	}
	return domain.LifeStageUnknown
}

func match[T any](rules []keywordRule[T], text string) (T, bool) {
	var zero T
	folded := textnorm.Fold(text)
	if strings.TrimSpace(folded) == "" {
		return zero, false
	}

	tokens := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(folded, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+')
	}) {
		tokens[tok] = struct{}{}
	}

	for _, rule := range rules {
		for _, p := range rule.phrases {
			if strings.Contains(folded, p) {
				return rule.value, true
			}
		}
		for _, w := range rule.words {
			if _, ok := tokens[w]; ok {
				return rule.value, true
			}
		}
	}
	return zero, false
}

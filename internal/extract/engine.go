// Package extract pulls ingredient lists and nutrient profiles out of raw
// product page snapshots and catalog exports.
package extract

import (
	"bytes"
	"time"
	"unicode/utf8"

	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// Result is the outcome of one extraction. Absent fields stay nil.
type Result struct {
	IngredientsRaw    *string
	IngredientsTokens []string
	IngredientsSource *string
	Nutrients         domain.Nutrients
	MacrosSource      *string
	ExtractedAt       time.Time
}

// Engine runs the tiered ingredient and nutrient strategies.
type Engine struct {
	ingredients ingredientsExtractor
	nutrients   nutrientsExtractor
	now         func() time.Time
}

// NewEngine creates an engine with the given limits. Zero values fall back
// to the defaults.
func NewEngine(cfg config.ExtractionConfig) *Engine {
	defaults := config.DefaultConfig().Extraction
	if cfg.MinIngredientsChars <= 0 {
		cfg.MinIngredientsChars = defaults.MinIngredientsChars
	}
	if cfg.MaxIngredientsChars <= 0 {
		cfg.MaxIngredientsChars = defaults.MaxIngredientsChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	return &Engine{
		ingredients: ingredientsExtractor{
			minChars:  cfg.MinIngredientsChars,
			maxChars:  cfg.MaxIngredientsChars,
			maxTokens: cfg.MaxTokens,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Extract runs every strategy over a raw snapshot. Missing data is never an
// error; undecodable input is repaired, extracted as far as possible, and
// reported with an extraction error next to the partial result.
func (e *Engine) Extract(raw []byte, provenance string) (*Result, error) {
	text, ok := ToText(raw)
	res := e.ExtractText(text, provenance)
	if !ok {
		return res, domain.ExtractionError("snapshot is not valid UTF-8", nil)
	}
	return res, nil
}

// ExtractPage parses an HTML snapshot and extracts from its visible text.
// Invalid UTF-8 is handled as in Extract.
func (e *Engine) ExtractPage(raw []byte, provenance string) (*Page, *Result, error) {
	valid := utf8.Valid(raw)
	if !valid {
		raw = bytes.ToValidUTF8(raw, []byte(" "))
	}
	page, err := ParsePage(raw)
	if err != nil {
		return nil, nil, domain.ExtractionError("parse page", err)
	}
	res := e.ExtractText(page.Text, provenance)
	if !valid {
		return page, res, domain.ExtractionError("snapshot is not valid UTF-8", nil)
	}
	return page, res, nil
}

// ExtractText runs every strategy over already decoded text.
func (e *Engine) ExtractText(text, provenance string) *Result {
	res := &Result{ExtractedAt: e.now()}

	analysis := text
	if raw, start, end := e.ingredients.find(text); raw != "" {
		if tokens := e.ingredients.tokenize(raw); len(tokens) > 0 {
			res.IngredientsRaw = &raw
			res.IngredientsTokens = tokens
			res.IngredientsSource = stringPtr(provenance)
		}
		// inclusion rates such as "chicken fat 8%" are not analytical values
		analysis = text[:start] + "\n" + text[end:]
	}

	res.Nutrients = e.nutrients.find(analysis)
	if res.Nutrients.Any() {
		res.MacrosSource = stringPtr(provenance)
	}
	return res
}

// IngredientsFromList tokenizes an ingredient list that arrives without a
// header, such as a spreadsheet column. Short or empty lists yield nil.
func (e *Engine) IngredientsFromList(list string) (raw *string, tokens []string) {
	captured := e.ingredients.capture(list)
	if captured == "" {
		return nil, nil
	}
	tokens = e.ingredients.tokenize(captured)
	if len(tokens) == 0 {
		return nil, nil
	}
	return &captured, tokens
}

// Apply copies populated fields onto a staging record.
func (r *Result) Apply(rec *domain.StagingRecord) {
	if r.IngredientsRaw != nil {
		rec.IngredientsRaw = r.IngredientsRaw
		rec.IngredientsTokens = r.IngredientsTokens
		rec.IngredientsSource = r.IngredientsSource
	}
	mergeNutrient(&rec.ProteinPercent, r.Nutrients.ProteinPercent)
	mergeNutrient(&rec.FatPercent, r.Nutrients.FatPercent)
	mergeNutrient(&rec.FiberPercent, r.Nutrients.FiberPercent)
	mergeNutrient(&rec.AshPercent, r.Nutrients.AshPercent)
	mergeNutrient(&rec.MoisturePercent, r.Nutrients.MoisturePercent)
	mergeNutrient(&rec.KcalPer100g, r.Nutrients.KcalPer100g)
	if r.MacrosSource != nil {
		rec.MacrosSource = r.MacrosSource
	}
	if r.IngredientsRaw != nil || r.MacrosSource != nil {
		t := r.ExtractedAt
		rec.ExtractedAt = &t
	}
}

// Now returns the engine's extraction timestamp source.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Empty reports whether nothing was extracted.
func (r *Result) Empty() bool {
	return r.IngredientsRaw == nil && !r.Nutrients.Any()
}

func mergeNutrient(dst **float64, src *float64) {
	if src != nil {
		*dst = src
	}
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

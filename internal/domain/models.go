// Package domain holds the typed records that flow through the catalog
// pipeline and the mapping rules between them.
package domain

import (
	"strings"
	"time"
)

// Form is the physical product form.
type Form string

const (
	FormDry     Form = "dry"
	FormWet     Form = "wet"
	FormRaw     Form = "raw"
	FormTreat   Form = "treat"
	FormUnknown Form = "unknown"
)

// ParseForm maps a stored value back to a Form, defaulting to unknown.
func ParseForm(s string) Form {
	switch Form(strings.ToLower(strings.TrimSpace(s))) {
	case FormDry:
		return FormDry
	case FormWet:
		return FormWet
	case FormRaw:
		return FormRaw
	case FormTreat:
		return FormTreat
	default:
		return FormUnknown
	}
}

// LifeStage is the target life stage of a product.
type LifeStage string

const (
	LifeStagePuppy   LifeStage = "puppy"
	LifeStageAdult   LifeStage = "adult"
	LifeStageSenior  LifeStage = "senior"
	LifeStageAll     LifeStage = "all"
	LifeStageUnknown LifeStage = "unknown"
)

// ParseLifeStage maps a stored value back to a LifeStage, defaulting to unknown.
func ParseLifeStage(s string) LifeStage {
	switch LifeStage(strings.ToLower(strings.TrimSpace(s))) {
	case LifeStagePuppy:
		return LifeStagePuppy
	case LifeStageAdult:
		return LifeStageAdult
	case LifeStageSenior:
		return LifeStageSenior
	case LifeStageAll:
		return LifeStageAll
	default:
		return LifeStageUnknown
	}
}

// LifecycleStatus is the publication state of a canonical product.
type LifecycleStatus string

const (
	StatusPending  LifecycleStatus = "PENDING"
	StatusActive   LifecycleStatus = "ACTIVE"
	StatusRejected LifecycleStatus = "REJECTED"
)

// MatchType records how a staged record was resolved against the catalog.
type MatchType string

const (
	MatchExactURL  MatchType = "exact_url"
	MatchBrandName MatchType = "brand_name"
	MatchFuzzy     MatchType = "fuzzy"
	MatchNew       MatchType = "new"
)

// Nutrients holds the per-product macronutrient profile. Every field is
// independent and nil when not found.
type Nutrients struct {
	ProteinPercent  *float64 `json:"protein_percent,omitempty"`
	FatPercent      *float64 `json:"fat_percent,omitempty"`
	FiberPercent    *float64 `json:"fiber_percent,omitempty"`
	AshPercent      *float64 `json:"ash_percent,omitempty"`
	MoisturePercent *float64 `json:"moisture_percent,omitempty"`
	KcalPer100g     *float64 `json:"kcal_per_100g,omitempty"`
}

// Any reports whether at least one nutrient was populated.
func (n Nutrients) Any() bool {
	return n.ProteinPercent != nil || n.FatPercent != nil || n.FiberPercent != nil ||
		n.AshPercent != nil || n.MoisturePercent != nil || n.KcalPer100g != nil
}

// CanonicalProduct is the deduplicated catalog entry.
type CanonicalProduct struct {
	ProductKey        string          `json:"product_key" db:"product_key"`
	Brand             string          `json:"brand" db:"brand"`
	BrandSlug         string          `json:"brand_slug" db:"brand_slug"`
	ProductName       string          `json:"product_name" db:"product_name"`
	NameSlug          string          `json:"name_slug" db:"name_slug"`
	Form              Form            `json:"form" db:"form"`
	LifeStage         LifeStage       `json:"life_stage" db:"life_stage"`
	IngredientsRaw    *string         `json:"ingredients_raw,omitempty" db:"ingredients_raw"`
	IngredientsTokens []string        `json:"ingredients_tokens,omitempty" db:"ingredients_tokens"`
	IngredientsSource *string         `json:"ingredients_source,omitempty" db:"ingredients_source"`
	ExtractedAt       *time.Time      `json:"extracted_at,omitempty" db:"extracted_at"`
	Nutrients
	MacrosSource    *string         `json:"macros_source,omitempty" db:"macros_source"`
	ImageURL        *string         `json:"image_url,omitempty" db:"image_url"`
	ProductURL      *string         `json:"product_url,omitempty" db:"product_url"`
	BaseURL         *string         `json:"base_url,omitempty" db:"base_url"`
	Source          string          `json:"source" db:"source"`
	LifecycleStatus LifecycleStatus `json:"lifecycle_status" db:"lifecycle_status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// HasIngredients reports whether the product carries ingredient tokens.
func (p *CanonicalProduct) HasIngredients() bool {
	return len(p.IngredientsTokens) > 0
}

// BrandAlias maps a normalized alias key to a canonical brand.
type BrandAlias struct {
	Alias          string    `json:"alias" yaml:"alias" db:"alias"`
	CanonicalBrand string    `json:"canonical_brand" yaml:"canonical_brand" db:"canonical_brand"`
	CreatedAt      time.Time `json:"created_at" yaml:"-" db:"created_at"`
}

// StagingRecord is one harvested product waiting to be merged.
type StagingRecord struct {
	ID                string     `json:"id" db:"id"`
	BatchID           string     `json:"batch_id" db:"batch_id"`
	Source            string     `json:"source" db:"source"`
	RawBrand          string     `json:"raw_brand" db:"raw_brand"`
	RawName           string     `json:"raw_name" db:"raw_name"`
	RawURL            string     `json:"raw_url" db:"raw_url"`
	FormHint          string     `json:"form_hint,omitempty" db:"form_hint"`
	LifeStageHint     string     `json:"life_stage_hint,omitempty" db:"life_stage_hint"`
	ImageURL          *string    `json:"image_url,omitempty" db:"image_url"`
	IngredientsRaw    *string    `json:"ingredients_raw,omitempty" db:"ingredients_raw"`
	IngredientsTokens []string   `json:"ingredients_tokens,omitempty" db:"ingredients_tokens"`
	IngredientsSource *string    `json:"ingredients_source,omitempty" db:"ingredients_source"`
	ExtractedAt       *time.Time `json:"extracted_at,omitempty" db:"extracted_at"`
	Nutrients
	MacrosSource     *string   `json:"macros_source,omitempty" db:"macros_source"`
	ExtractionError  string    `json:"extraction_error,omitempty" db:"extraction_error"`
	MatchType        MatchType `json:"match_type,omitempty" db:"match_type"`
	MatchConfidence  float64   `json:"match_confidence" db:"match_confidence"`
	MatchedKey       string    `json:"matched_key,omitempty" db:"matched_key"`
	QuarantineReason string    `json:"quarantine_reason,omitempty" db:"quarantine_reason"`
	Processed        bool      `json:"processed" db:"processed"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Validate checks the fields a staging record needs before it can be
// resolved to an identity. The returned error carries the quarantine reason.
func (r *StagingRecord) Validate() error {
	if strings.TrimSpace(r.RawName) == "" {
		return ValidationError("missing product name", nil)
	}
	if strings.TrimSpace(r.RawURL) == "" && strings.TrimSpace(r.RawBrand) == "" {
		return ValidationError("missing both product url and brand", nil)
	}
	return nil
}

// BrandQualitySnapshot is a recomputable per-brand coverage aggregate.
type BrandQualitySnapshot struct {
	BrandSlug           string    `json:"brand_slug" db:"brand_slug"`
	Brand               string    `json:"brand" db:"brand"`
	SKUCount            int       `json:"sku_count" db:"sku_count"`
	IngredientsCoverage float64   `json:"ingredients_coverage" db:"ingredients_coverage"`
	FormCoverage        float64   `json:"form_coverage" db:"form_coverage"`
	LifeStageCoverage   float64   `json:"life_stage_coverage" db:"life_stage_coverage"`
	KcalValidCoverage   float64   `json:"kcal_valid_coverage" db:"kcal_valid_coverage"`
	ProductionEligible  bool      `json:"production_eligible" db:"production_eligible"`
	ComputedAt          time.Time `json:"computed_at" db:"computed_at"`
}

// HarvestFailure is an entry in the re-harvest queue.
type HarvestFailure struct {
	ID        string    `json:"id" db:"id"`
	Source    string    `json:"source" db:"source"`
	URL       string    `json:"url" db:"url"`
	Country   string    `json:"country" db:"country"`
	Attempts  int       `json:"attempts" db:"attempts"`
	LastError string    `json:"last_error" db:"last_error"`
	Resolved  bool      `json:"resolved" db:"resolved"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LifecycleEvent audits a lifecycle transition.
type LifecycleEvent struct {
	ID         string          `json:"id" db:"id"`
	ProductKey string          `json:"product_key" db:"product_key"`
	FromStatus LifecycleStatus `json:"from_status" db:"from_status"`
	ToStatus   LifecycleStatus `json:"to_status" db:"to_status"`
	Actor      string          `json:"actor" db:"actor"`
	Reason     string          `json:"reason" db:"reason"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// nutrientLabels lists label alternatives per nutrient, longest first so the
// leftmost-first alternation prefers the full label.
var nutrientLabels = map[string]string{
	"protein": `crude protein|raw protein|protein content|proteins?|rohprotein|r[åa]protein`,
	"fat": `crude fat|crude oils and fats|oils and fats|fat content|fats?|rohfett|fettgehalt|` +
		`r[åa]fett|fetthalt`,
	"fiber": `crude fib(?:re|er)|fib(?:re|er)|rohfaser|r[åa]fiber|r[åa]fibrer|tr[åa]dstoffer|v[äa]xttr[åa]ds?`,
	"ash":   `crude ash|inorganic matter|ash|rohasche|asche|r[åa]aska|aska`,
	"moisture": `moisture content|moisture|water content|feuchtigkeit|feuchte|wassergehalt|` +
		`vattenhalt|fukthalt|fukt`,
}

type nutrientPatterns struct {
	strict     *regexp.Regexp
	permissive *regexp.Regexp
}

var patternsByNutrient = buildNutrientPatterns()

func buildNutrientPatterns() map[string]nutrientPatterns {
	const (
		lead      = `(?i)(?:^|[^\p{L}])(?:(?:crude|raw)\s+)?(?:`
		qualifier = `)(?:\s*\((?:crude|raw|min\.?|max\.?)\)|\s+(?:min|max)\.?)?`
		number    = `(\d{1,3}(?:[.,]\d{1,2})?)\s*%`
	)
	out := make(map[string]nutrientPatterns, len(nutrientLabels))
	for name, labels := range nutrientLabels {
		out[name] = nutrientPatterns{
			strict:     regexp.MustCompile(lead + labels + qualifier + `\s*[:=]\s*` + number),
			permissive: regexp.MustCompile(lead + labels + qualifier + `\s*[-–]?\s*` + number),
		}
	}
	return out
}

var (
	kcalPer100gPattern = regexp.MustCompile(`(?i)(\d{1,4}(?:[.,]\d{1,2})?)\s*kcal\s*(?:/|per|pro|je)\s*100\s*g\b`)
	kcalPerKgPattern   = regexp.MustCompile(`(?i)(\d{1,2}[.,\s]\d{3}|\d{3,5}(?:[.,]\d{1,2})?)\s*kcal\s*(?:/|per|pro|je)\s*kg\b`)
	energyKcalPattern  = regexp.MustCompile(`(?i)(?:metaboli[sz]able energy|energy|energie|energiewert|energi|calorie content|omsättbar energi)[^0-9\n]{0,40}?(\d{1,2}[.,]\d{3}|\d{1,4}(?:[.,]\d{1,2})?)\s*kcal\b([^\n]{0,20})`)
	perUnitSuffix      = regexp.MustCompile(`(?i)^\s*(?:/|per|pro|je)\s*([\p{L}0-9]+)`)
)

// nutrientsExtractor reads the macronutrient profile from text. Each field
// is resolved independently and left nil when absent.
type nutrientsExtractor struct{}

func (nutrientsExtractor) find(text string) domain.Nutrients {
	return domain.Nutrients{
		ProteinPercent:  findPercent(text, "protein"),
		FatPercent:      findPercent(text, "fat"),
		FiberPercent:    findPercent(text, "fiber"),
		AshPercent:      findPercent(text, "ash"),
		MoisturePercent: findPercent(text, "moisture"),
		KcalPer100g:     findKcal(text),
	}
}

func findPercent(text, nutrient string) *float64 {
	p := patternsByNutrient[nutrient]
	for _, re := range []*regexp.Regexp{p.strict, p.permissive} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			v, ok := parseDecimal(m[1])
			if ok && v >= 0 && v <= 100 {
				return &v
			}
		}
	}
	return nil
}

func findKcal(text string) *float64 {
	// tier 1: explicit per 100 g
	for _, m := range kcalPer100gPattern.FindAllStringSubmatch(text, -1) {
		if v, ok := parseDecimal(m[1]); ok && plausibleKcal(v) {
			return &v
		}
	}

	// tier 2: per kg
	for _, m := range kcalPerKgPattern.FindAllStringSubmatch(text, -1) {
		if v, ok := parseThousands(m[1]); ok && plausibleKcal(v/10) {
			v = round2(v / 10)
			return &v
		}
	}

	// tier 3: energy label next to a bare kcal figure
	for _, m := range energyKcalPattern.FindAllStringSubmatch(text, -1) {
		if unit := perUnitSuffix.FindStringSubmatch(m[2]); unit != nil {
			u := strings.ToLower(unit[1])
			if u != "kg" && u != "100g" && u != "100" {
				continue // per treat, per portion, per can
			}
		}
		v, ok := parseThousands(m[1])
		if !ok {
			continue
		}
		if v > 1000 {
			v = round2(v / 10)
		}
		if plausibleKcal(v) {
			return &v
		}
	}
	return nil
}

func plausibleKcal(v float64) bool {
	return v > 0 && v <= 1000
}

// parseDecimal reads a number with a dot or comma decimal separator.
func parseDecimal(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(s), ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseThousands reads a number where a separator followed by exactly three
// digits is a thousands separator (3.850 or 3,850 or 3 850).
func parseThousands(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 4 {
		sep := len(s) - 4
		if c := s[sep]; c == '.' || c == ',' || c == ' ' {
			s = s[:sep] + s[sep+1:]
		}
	}
	return parseDecimal(s)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// ParsePercent reads a bare percentage cell such as "24,5 %". Values outside
// [0,100] and unparseable input yield nil.
func ParsePercent(s string) *float64 {
	v, ok := parseDecimal(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if !ok || v < 0 || v > 100 {
		return nil
	}
	v = round2(v)
	return &v
}

// ParseKcal reads a bare energy cell in kcal/100g. Values above 1000 are
// taken as per kg.
func ParseKcal(s string) *float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "kcal"))
	v, ok := parseThousands(s)
	if !ok {
		return nil
	}
	if v > 1000 {
		v /= 10
	}
	if !plausibleKcal(v) {
		return nil
	}
	v = round2(v)
	return &v
}

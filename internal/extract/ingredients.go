package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const ingredientHeaders = `composition|ingredients|zusammensetzung|inhaltsstoffe|zutaten|sammans[äa]ttning|ingredienser`

var (
	// tier 1: "Composition: ..." anywhere in the text
	headerColonPattern = regexp.MustCompile(`(?i)\b(?:` + ingredientHeaders + `)\s*:`)
	// tier 2: the header alone on its line, contents on the following lines
	headerLinePattern = regexp.MustCompile(`(?im)^[ \t]*(?:` + ingredientHeaders + `)[ \t]*$`)

	sectionBoundaryPattern = regexp.MustCompile(`(?i)\b(?:` +
		`analytical constituents|analytical components|typical analysis|guaranteed analysis|` +
		`nutritional additives|additives|feeding guidelines?|feeding guide|feeding recommendations?|` +
		`metaboli[sz]able energy|` +
		`analytische bestandteile|ern[äa]hrungsphysiologische zusatzstoffe|zusatzstoffe|f[üu]tterungsempfehlung|` +
		`analytiska best[åa]ndsdelar|n[äa]ringsinneh[åa]ll|tillsatser|utfodringsrekommendation|utfodring)\b`)
	blankLinePattern = regexp.MustCompile(`\n[ \t]*\n`)

	percentInParens = regexp.MustCompile(`[(\[][^)\]]*%[^)\]]*[)\]]`)
	barePercent     = regexp.MustCompile(`\d+(?:[.,]\d+)?\s*%`)
)

// ingredientsExtractor locates and tokenizes the ingredient list.
type ingredientsExtractor struct {
	minChars  int
	maxChars  int
	maxTokens int
}

// find returns the raw ingredient text and the byte range of the captured
// block in text, or "" when no capture of sufficient length exists.
// Strategies are tried in order.
func (x ingredientsExtractor) find(text string) (raw string, start, end int) {
	for _, header := range []*regexp.Regexp{headerColonPattern, headerLinePattern} {
		for _, loc := range header.FindAllStringIndex(text, -1) {
			if raw, from, to := x.span(text[loc[1]:]); raw != "" {
				return raw, loc[1] + from, loc[1] + to
			}
		}
	}
	return "", 0, 0
}

// capture takes text following a header up to the next section boundary or
// blank line.
func (x ingredientsExtractor) capture(rest string) string {
	raw, _, _ := x.span(rest)
	return raw
}

func (x ingredientsExtractor) span(rest string) (raw string, from, to int) {
	body := strings.TrimLeftFunc(rest, func(r rune) bool {
		return unicode.IsSpace(r) || r == ':'
	})
	from = len(rest) - len(body)

	end := len(body)
	if loc := blankLinePattern.FindStringIndex(body); loc != nil && loc[0] < end {
		end = loc[0]
	}
	if loc := sectionBoundaryPattern.FindStringIndex(body); loc != nil && loc[0] < end {
		end = loc[0]
	}

	raw = strings.TrimSpace(strings.Join(strings.Fields(body[:end]), " "))
	raw = truncateRunes(raw, x.maxChars)
	if utf8.RuneCountInString(raw) < x.minChars {
		return "", 0, 0
	}
	return raw, from, from + end
}

// tokenize splits an ingredient list into lower-cased tokens with
// percentages removed.
func (x ingredientsExtractor) tokenize(raw string) []string {
	s := percentInParens.ReplaceAllString(raw, " ")
	s = barePercent.ReplaceAllString(s, " ")

	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	tokens := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		tok := strings.ToLower(strings.Join(strings.Fields(part), " "))
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return unicode.IsSpace(r) || r == '.' || r == ':' || r == '*'
		})
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
		if len(tokens) == x.maxTokens {
			break
		}
	}
	return tokens
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}

// Package textnorm holds the string folding shared by brand and identity
// normalization.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letters NFD does not decompose
var foldReplacer = strings.NewReplacer(
	"ß", "ss",
	"ø", "o",
	"æ", "ae",
	"œ", "oe",
	"ł", "l",
	"đ", "d",
	"\u00a0", " ",
)

// Fold lower-cases s and strips diacritics.
func Fold(s string) string {
	// transformers are stateful; build one per call so Fold is safe for
	// concurrent harvest sessions
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, foldReplacer.Replace(strings.ToLower(s)))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// CollapseSpace trims s and collapses whitespace runs to single spaces.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Slug folds s, drops apostrophes, and joins its alphanumeric runs with
// hyphens.
func Slug(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range Fold(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		if r == '\'' || r == '’' {
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// Title title-cases s word by word.
func Title(s string) string {
	return cases.Title(language.Und).String(CollapseSpace(s))
}

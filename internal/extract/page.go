package extract

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Page is the parsed view of a product page snapshot.
type Page struct {
	Title    string
	Brand    string
	ImageURL string
	Text     string
}

var (
	markupPattern  = regexp.MustCompile(`(?i)<\s*(?:html|body|div|p|span|table|br|h[1-6]|ul|li|section|dl)\b`)
	blankRunsRegex = regexp.MustCompile(`\n{3,}`)
	spaceRunsRegex = regexp.MustCompile(`[ \t\f\v]+`)
)

// paragraph elements are separated by a blank line, line elements by a
// single newline
var (
	paragraphElements = map[string]bool{
		"p": true, "div": true, "section": true, "article": true, "table": true,
		"ul": true, "ol": true, "dl": true, "header": true, "footer": true,
		"details": true, "h1": true, "h2": true, "h3": true, "h4": true,
		"h5": true, "h6": true,
	}
	lineElements = map[string]bool{
		"br": true, "li": true, "tr": true, "dt": true, "dd": true, "summary": true,
	}
)

// LooksLikeMarkup reports whether body appears to be HTML.
func LooksLikeMarkup(body string) bool {
	return markupPattern.MatchString(body)
}

// ParsePage extracts text and product metadata from an HTML snapshot.
// Metadata comes from JSON-LD Product blocks first, then meta tags, then h1.
func ParsePage(body []byte) (*Page, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	page := &Page{}
	meta := make(map[string]string)
	var h1 string
	var text strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script":
				if attr(n, "type") == "application/ld+json" && n.FirstChild != nil {
					applyJSONLD(page, n.FirstChild.Data)
				}
				return
			case "style", "noscript", "template", "svg":
				return
			case "meta":
				key := attr(n, "property")
				if key == "" {
					key = attr(n, "name")
				}
				if key != "" {
					meta[strings.ToLower(key)] = attr(n, "content")
				}
			case "h1":
				if h1 == "" {
					h1 = strings.TrimSpace(nodeText(n))
				}
			}
			switch {
			case paragraphElements[n.Data]:
				breakLine(&text, 2)
			case lineElements[n.Data]:
				breakLine(&text, 1)
			case n.Data == "td" || n.Data == "th":
				text.WriteByte(' ')
			}
		}

		if n.Type == html.TextNode {
			text.WriteString(n.Data)
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && paragraphElements[n.Data] {
			breakLine(&text, 2)
		}
	}
	walk(doc)

	if page.Title == "" {
		page.Title = firstNonEmpty(meta["og:title"], h1)
	}
	if page.Brand == "" {
		page.Brand = firstNonEmpty(meta["product:brand"], meta["og:brand"], meta["brand"])
	}
	if page.ImageURL == "" {
		page.ImageURL = meta["og:image"]
	}
	page.Text = NormalizeText(text.String())
	return page, nil
}

// ToText converts raw snapshot bytes to normalized plain text. Invalid UTF-8
// is repaired and reported through ok=false.
func ToText(raw []byte) (text string, ok bool) {
	ok = utf8.Valid(raw)
	s := string(raw)
	if !ok {
		s = strings.ToValidUTF8(s, " ")
	}

	if LooksLikeMarkup(s) {
		if page, err := ParsePage([]byte(s)); err == nil {
			return page.Text, ok
		}
	}
	return NormalizeText(s), ok
}

// NormalizeText unifies line endings and spacing while keeping blank lines,
// which act as section boundaries.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunsRegex.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankRunsRegex.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func applyJSONLD(page *Page, data string) {
	var single map[string]interface{}
	if err := json.Unmarshal([]byte(data), &single); err == nil {
		applyProduct(page, single)
		if graph, ok := single["@graph"].([]interface{}); ok {
			for _, g := range graph {
				if m, ok := g.(map[string]interface{}); ok {
					applyProduct(page, m)
				}
			}
		}
		return
	}
	var list []map[string]interface{}
	if err := json.Unmarshal([]byte(data), &list); err == nil {
		for _, m := range list {
			applyProduct(page, m)
		}
	}
}

func applyProduct(page *Page, m map[string]interface{}) {
	if t, _ := m["@type"].(string); !strings.EqualFold(t, "Product") {
		return
	}
	if name, ok := m["name"].(string); ok && page.Title == "" {
		page.Title = strings.TrimSpace(name)
	}
	if page.Brand == "" {
		switch b := m["brand"].(type) {
		case string:
			page.Brand = strings.TrimSpace(b)
		case map[string]interface{}:
			if name, ok := b["name"].(string); ok {
				page.Brand = strings.TrimSpace(name)
			}
		}
	}
	if page.ImageURL == "" {
		switch img := m["image"].(type) {
		case string:
			page.ImageURL = img
		case []interface{}:
			if len(img) > 0 {
				if s, ok := img[0].(string); ok {
					page.ImageURL = s
				}
			}
		}
	}
}

// breakLine ends the current text with at least n newlines.
func breakLine(b *strings.Builder, n int) {
	s := b.String()
	have := 0
	for have < n && have < len(s) && s[len(s)-1-have] == '\n' {
		have++
	}
	for ; have < n; have++ {
		b.WriteByte('\n')
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

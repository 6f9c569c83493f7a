package brand

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/observability"
)

func testNormalizer() *Normalizer {
	return NewNormalizer([]domain.BrandAlias{
		{Alias: "hills", CanonicalBrand: "Hill's Science Plan"},
		{Alias: "Hill's Science Diet", CanonicalBrand: "Hill's Science Plan"},
		{Alias: "royalcanin", CanonicalBrand: "Royal Canin"},
		{Alias: "Arden Grange", CanonicalBrand: "Arden Grange"},
		{Alias: "Lily's Kitchen", CanonicalBrand: "Lily's Kitchen"},
		{Alias: "Wolf of Wilderness", CanonicalBrand: "Wolf of Wilderness"},
		{Alias: "Marks and Spencer", CanonicalBrand: "M&S"},
	})
}

func TestKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hill's", "hills"},
		{"Hill’s", "hills"},
		{"Royal-Canin", "royalcanin"},
		{"  ROYAL   canin ", "royalcanin"},
		{"Marks & Spencer", "marksandspencer"},
		{"Bozita Häst", "bozitahast"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.in))
		})
	}
}

func TestNormalizer_Normalize(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"alias hit", "Hills", "Hill's Science Plan"},
		{"apostrophe variant", "HILL'S SCIENCE DIET", "Hill's Science Plan"},
		{"hyphenated", "Royal-Canin", "Royal Canin"},
		{"canonical maps to itself", "Royal Canin", "Royal Canin"},
		{"ampersand", "Marks & Spencer", "M&S"},
		{"curly apostrophe", "Lily’s Kitchen", "Lily's Kitchen"},
		{"miss is title cased", "  happy   DOG ", "Happy Dog"},
		{"empty", "", Unknown},
		{"whitespace", "   \t", Unknown},
		{"punctuation only", "--", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.raw))
		})
	}
}

func TestNormalizer_NeverEmpty(t *testing.T) {
	n := NewNormalizer(nil)
	for _, raw := range []string{"", " ", "x", "ÅÄÖ", "&", "'"} {
		assert.NotEmpty(t, n.Normalize(raw), "input %q", raw)
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "hills-science-plan", Slug("Hill's Science Plan"))
	assert.Equal(t, "wolf-of-wilderness", Slug("Wolf of Wilderness"))
}

func TestParseAliasFile(t *testing.T) {
	data := []byte(`
brands:
  - canonical: Hill's Science Plan
    aliases: ["Hills", "Hill's Science Diet"]
  - canonical: Royal Canin
    aliases: ["Royal-Canin", "royal canin"]
`)
	rows, err := ParseAliasFile(data)
	require.NoError(t, err)

	got := map[string]string{}
	for _, r := range rows {
		got[r.Alias] = r.CanonicalBrand
	}
	assert.Equal(t, map[string]string{
		"hillsscienceplan": "Hill's Science Plan",
		"hills":            "Hill's Science Plan",
		"hillssciencediet": "Hill's Science Plan",
		"royalcanin":       "Royal Canin",
	}, got)
}

func TestParseAliasFile_Conflict(t *testing.T) {
	data := []byte(`
brands:
  - canonical: Acana
    aliases: ["Champion"]
  - canonical: Orijen
    aliases: ["Champion"]
`)
	_, err := ParseAliasFile(data)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

type fakeAliasReader struct {
	rows  []domain.BrandAlias
	calls int
}

func (f *fakeAliasReader) All(ctx context.Context) ([]domain.BrandAlias, error) {
	f.calls++
	return f.rows, nil
}

func TestLoadNormalizer_UsesCache(t *testing.T) {
	ctx := context.Background()
	reader := &fakeAliasReader{rows: []domain.BrandAlias{{Alias: "rc", CanonicalBrand: "Royal Canin"}}}
	c := cache.NewMemoryClient(10)
	defer c.Close()

	n1, err := LoadNormalizer(ctx, reader, c, time.Minute, observability.NopLogger())
	require.NoError(t, err)
	n2, err := LoadNormalizer(ctx, reader, c, time.Minute, observability.NopLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, reader.calls)
	assert.Equal(t, "Royal Canin", n1.Normalize("RC"))
	assert.Equal(t, "Royal Canin", n2.Normalize("RC"))
}

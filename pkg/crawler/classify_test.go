package crawler

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
)

var slugShape = regexp.MustCompile(`^[a-z0-9-]{3,}$`)

func TestClassifier_IsProjectPage(t *testing.T) {
	c, err := NewClassifier(config.Default().Crawl)
	require.NoError(t, err)

	tests := []struct {
		name     string
		url      string
		imgCount int
		title    string
		want     bool
	}{
		{"ProjectPath", "https://tedoori.net/projet/maison/", 0, "", true},
		{"WorksPath", "https://tedoori.net/works/1", 0, "", true},
		{"EntryUppercase", "https://tedoori.net/ENTRY/12", 0, "", true},
		{"EntryNotAtStart", "https://tedoori.net/blog/entry/12", 0, "", false},
		{"Homepage", "https://tedoori.net/", 20, "Home", false},
		{"Listing", "https://tedoori.net/category/projet/", 20, "Cat", false},
		{"TagListing", "https://tedoori.net/Tag/wood", 20, "Tag", false},
		{"ImagesAndTitle", "https://tedoori.net/about", 3, "About", true},
		{"TooFewImages", "https://tedoori.net/about", 2, "About", false},
		{"NoTitle", "https://tedoori.net/about", 5, "  ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsProjectPage(mustURL(t, tt.url), tt.imgCount, tt.title))
		})
	}
}

func TestIsProjectPage_DefaultHeuristic(t *testing.T) {
	assert.True(t, IsProjectPage(mustURL(t, "https://tedoori.net/portfolio/a"), 0, ""))
	assert.False(t, IsProjectPage(mustURL(t, "https://tedoori.net/"), 10, "Home"))
}

func TestNewClassifier_InvalidPattern(t *testing.T) {
	cfg := config.Default().Crawl
	cfg.ProjectPatterns = []string{"("}
	_, err := NewClassifier(cfg)
	assert.Error(t, err)
}

func TestDeriveSlug(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		title string
		want  string
	}{
		{"LastSegment", "https://tedoori.net/projet/Maison_Bleue/", "Ignored", "maison-bleue"},
		{"DecodedSegment", "https://tedoori.net/projet/caf%C3%A9-house", "", "caf-house"},
		{"TitleWhenNoSegment", "https://tedoori.net/", "Hello World", "hello-world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveSlug(mustURL(t, tt.url), tt.title))
		})
	}
}

func TestDeriveSlug_HashFallback(t *testing.T) {
	for _, raw := range []string{
		"https://tedoori.net/entry/%ED%86%A0%EB%A6%AC", // segment slugifies to nothing
		"https://tedoori.net/projet/ab",
	} {
		u := mustURL(t, raw)
		slug := DeriveSlug(u, "A long title that is ignored")
		assert.Equal(t, HashSlug(u.String()), slug, raw)
		assert.Len(t, slug, 12)
	}
}

func TestDeriveSlug_AlwaysURLSafe(t *testing.T) {
	inputs := []struct{ url, title string }{
		{"https://tedoori.net/", ""},
		{"https://tedoori.net/a", ""},
		{"https://tedoori.net/-/", "---"},
		{"https://tedoori.net/%F0%9F%8F%A0", "🏠"},
		{"https://tedoori.net/projet/ Spaces  and__Underscores /", ""},
		{"https://tedoori.net/?p=1", "?!"},
	}
	for _, in := range inputs {
		u, err := mustURL(t, "https://tedoori.net/").Parse(in.url)
		require.NoError(t, err)
		slug := DeriveSlug(u, in.title)
		assert.Regexp(t, slugShape, slug, "url=%q title=%q", in.url, in.title)
	}
}

func TestHashSlug(t *testing.T) {
	assert.Equal(t, "p-", HashSlug("x")[:2])
	assert.Equal(t, HashSlug("x"), HashSlug("x"))
	assert.NotEqual(t, HashSlug("x"), HashSlug("y"))
}

package crawler

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/parse"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// minSlugLength is the shortest slug accepted before falling back to a hash slug
const minSlugLength = 3

// Classifier decides whether a crawled page is a project page.
// The rule favors recall: a false positive becomes a low-value project, a false negative is lost.
type Classifier struct {
	patterns        []*regexp.Regexp
	listingPrefixes []string
	minImages       int
}

// NewClassifier compiles the project URL patterns of cfg.
func NewClassifier(cfg config.CrawlConfig) (*Classifier, error) {
	patterns, err := utils.CompileRegexPatterns(cfg.ProjectPatterns)
	if err != nil {
		return nil, err
	}
	prefixes := make([]string, 0, len(cfg.ListingPrefixes))
	for _, p := range cfg.ListingPrefixes {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &Classifier{patterns: patterns, listingPrefixes: prefixes, minImages: cfg.MinImages}, nil
}

// IsLikelyProjectURL reports whether the path matches a known project URL shape.
func (c *Classifier) IsLikelyProjectURL(u *url.URL) bool {
	return utils.MatchAny(c.patterns, strings.ToLower(u.Path))
}

// IsListing reports whether the path is a category or tag listing.
func (c *Classifier) IsListing(u *url.URL) bool {
	p := strings.ToLower(u.Path)
	for _, prefix := range c.listingPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// IsProjectPage applies the page rule: never the homepage or a listing; otherwise a project URL shape,
// or at least minImages <img> tags together with a non-empty <title>.
func (c *Classifier) IsProjectPage(u *url.URL, imgCount int, title string) bool {
	if u.Path == "/" || u.Path == "" || c.IsListing(u) {
		return false
	}
	if c.IsLikelyProjectURL(u) {
		return true
	}
	return imgCount >= c.minImages && strings.TrimSpace(title) != ""
}

// IsProjectPage reports whether u is a project page under the default heuristic.
func IsProjectPage(u *url.URL, imgCount int, title string) bool {
	c, err := NewClassifier(config.Default().Crawl)
	if err != nil {
		return false
	}
	return c.IsProjectPage(u, imgCount, title)
}

// DeriveSlug builds a project slug from the first non-empty of: the decoded last path segment,
// the title, the full path. A slug shorter than 3 characters becomes p-<sha1(pageURL)[:10]>.
func DeriveSlug(pageURL *url.URL, title string) string {
	source := parse.LastPathSegment(pageURL)
	if source == "" {
		source = title
	}
	if source == "" {
		source = pageURL.Path
	}
	if slug := utils.Slugify(source); len(slug) >= minSlugLength {
		return slug
	}
	return HashSlug(pageURL.String())
}

// HashSlug returns p-<sha1(input)[:10]>.
func HashSlug(input string) string {
	return "p-" + utils.ShortHash(input)
}

package crawler

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
)

// smallThumbWidth is the width hint below which a candidate is considered a preview
const smallThumbWidth = 600

var (
	resizeHintRe = regexp.MustCompile(`(?i)/R(\d+)x`)
	cropHintRe   = regexp.MustCompile(`(?i)/C(\d+)x`)
)

// thumbnailHosts are CDN thumbnail endpoints that embed the original in a fname parameter
var thumbnailHosts = []string{"daumcdn.net/thumb/", "kakaocdn.net/thumb/"}

// WidthHint parses a CDN resize (/R<n>x) or crop (/C<n>x) segment. Nil when absent.
func WidthHint(rawURL string) *int {
	for _, re := range []*regexp.Regexp{resizeHintRe, cropHintRe} {
		if m := re.FindStringSubmatch(rawURL); m != nil {
			if w, err := strconv.Atoi(m[1]); err == nil {
				return &w
			}
		}
	}
	return nil
}

// IsThumbnail reports whether rawURL points at a CDN thumbnail endpoint.
func IsThumbnail(rawURL string) bool {
	for _, h := range thumbnailHosts {
		if strings.Contains(rawURL, h) {
			return true
		}
	}
	return false
}

// IsSmallThumbnail reports whether rawURL is a narrow preview: width hint under 600 or a crop thumbnail.
func IsSmallThumbnail(rawURL string) bool {
	if w := WidthHint(rawURL); w != nil && *w < smallThumbWidth {
		return true
	}
	return strings.Contains(rawURL, "/thumb/C")
}

// ExpandThumbnail returns the original embedded in a thumbnail's fname parameter, if any.
// The parameter is percent-decoded once more after query decoding and must be an http(s) URL.
func ExpandThumbnail(c models.ImageCandidate) (models.ImageCandidate, bool) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return models.ImageCandidate{}, false
	}
	fname := u.Query().Get("fname")
	if fname == "" {
		return models.ImageCandidate{}, false
	}
	original, err := url.QueryUnescape(fname)
	if err != nil || !strings.HasPrefix(original, "http") {
		return models.ImageCandidate{}, false
	}
	if _, err := url.Parse(original); err != nil {
		return models.ImageCandidate{}, false
	}
	return models.ImageCandidate{
		URL:   original,
		Type:  c.Type + ":fname",
		Width: WidthHint(original),
	}, true
}

// SelectGallery ranks a project's candidates:
//   - every thumbnail is followed by the original it embeds, when present;
//   - duplicates keep the first occurrence unless a later one has a strictly larger width hint;
//   - small thumbnails are dropped;
//   - if any non-thumbnail candidate remains only those are returned, in order;
//   - otherwise all remaining candidates are returned by descending width hint, ties in first-seen order.
func SelectGallery(images []models.ImageCandidate) []models.ImageCandidate {
	expanded := make([]models.ImageCandidate, 0, len(images))
	for _, img := range images {
		if img.Width == nil {
			img.Width = WidthHint(img.URL)
		}
		expanded = append(expanded, img)
		if original, ok := ExpandThumbnail(img); ok {
			expanded = append(expanded, original)
		}
	}

	index := make(map[string]int, len(expanded))
	var unique []models.ImageCandidate
	for _, img := range expanded {
		if i, seen := index[img.URL]; seen {
			if img.WidthOrZero() > unique[i].WidthOrZero() {
				unique[i] = img
			}
			continue
		}
		index[img.URL] = len(unique)
		unique = append(unique, img)
	}

	var all, hosted []models.ImageCandidate
	for _, img := range unique {
		if IsSmallThumbnail(img.URL) {
			continue
		}
		all = append(all, img)
		if !IsThumbnail(img.URL) {
			hosted = append(hosted, img)
		}
	}
	if len(hosted) > 0 {
		return hosted
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].WidthOrZero() > all[j].WidthOrZero()
	})
	return all
}

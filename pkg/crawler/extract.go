package crawler

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/parse"
)

// Candidate types, recorded in projects.json
const (
	TypeOGImage       = "og:image"
	TypeImgSrc        = "img:src"
	TypeImgSrcset     = "img:srcset"
	TypeSourceSrcset  = "source:srcset"
	TypeCSSBackground = "css:bg"
)

var (
	cssURLRe     = regexp.MustCompile(`url\(([^)]+)\)`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// srcsetEntry is one "url [descriptor]" item of a srcset attribute
type srcsetEntry struct {
	URL   string
	Width *int
}

// parseSrcset splits a srcset attribute. Only "<n>w" descriptors yield a width.
func parseSrcset(srcset string) []srcsetEntry {
	if strings.TrimSpace(srcset) == "" {
		return nil
	}
	var entries []srcsetEntry
	for _, part := range strings.Split(srcset, ",") {
		fields := whitespaceRe.Split(strings.TrimSpace(part), -1)
		if len(fields) == 0 || fields[0] == "" {
			continue
		}
		entry := srcsetEntry{URL: fields[0]}
		if len(fields) > 1 && strings.HasSuffix(fields[1], "w") {
			if w, err := strconv.Atoi(strings.TrimSuffix(fields[1], "w")); err == nil {
				entry.Width = &w
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// backgroundImageURLs returns every url(...) reference in an inline style, unquoted.
func backgroundImageURLs(style string) []string {
	var urls []string
	for _, m := range cssURLRe.FindAllStringSubmatch(style, -1) {
		u := strings.TrimSpace(m[1])
		if u != "" && (u[0] == '"' || u[0] == '\'') {
			u = u[1:]
		}
		if u != "" && (u[len(u)-1] == '"' || u[len(u)-1] == '\'') {
			u = u[:len(u)-1]
		}
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// ExtractCandidates collects image candidates from og:image, <img src|srcset>, <source srcset>
// and inline background-image styles, in document order.
// URLs are resolved against pageURL; non-http(s) and skippable URLs are dropped.
// Duplicates collapse onto the first occurrence unless a later one carries a strictly larger width.
// Candidates without an explicit width get the hint encoded in their URL, if any.
func ExtractCandidates(doc *goquery.Document, pageURL *url.URL) []models.ImageCandidate {
	var raw []models.ImageCandidate
	add := func(u, typ string, width *int) {
		raw = append(raw, models.ImageCandidate{URL: u, Type: typ, Width: width})
	}

	if og := strings.TrimSpace(doc.Find(`meta[property="og:image"]`).AttrOr("content", "")); og != "" {
		add(og, TypeOGImage, nil)
	}
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src := strings.TrimSpace(s.AttrOr("src", "")); src != "" {
			add(src, TypeImgSrc, nil)
		}
		for _, e := range parseSrcset(s.AttrOr("srcset", "")) {
			add(e.URL, TypeImgSrcset, e.Width)
		}
	})
	doc.Find("source").Each(func(_ int, s *goquery.Selection) {
		for _, e := range parseSrcset(s.AttrOr("srcset", "")) {
			add(e.URL, TypeSourceSrcset, e.Width)
		}
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		for _, u := range backgroundImageURLs(strings.TrimSpace(s.AttrOr("style", ""))) {
			add(u, TypeCSSBackground, nil)
		}
	})

	index := make(map[string]int)
	var out []models.ImageCandidate
	for _, c := range raw {
		abs, err := parse.Resolve(pageURL, c.URL)
		if err != nil || !parse.IsHTTP(abs) || parse.IsSkippable(abs) {
			continue
		}
		c.URL = abs.String()
		if i, seen := index[c.URL]; seen {
			if c.WidthOrZero() > out[i].WidthOrZero() {
				out[i] = c
			}
			continue
		}
		index[c.URL] = len(out)
		out = append(out, c)
	}

	for i := range out {
		if out[i].Width == nil {
			out[i].Width = WidthHint(out[i].URL)
		}
	}
	return out
}

// PageTitle returns og:title, else the first <h1>, else <title>.
func PageTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", "")); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// pageLinks returns the href of every anchor, excluding mailto: and tel:.
func pageLinks(doc *goquery.Document) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}
		links = append(links, href)
	})
	return links
}

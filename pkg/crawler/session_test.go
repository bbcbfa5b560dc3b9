package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/fetch"
	"github.com/LeeHome2/tedoori-pipeline/pkg/manifest"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
	"github.com/LeeHome2/tedoori-pipeline/pkg/workspace"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// fakeSite serves fixed pages and counts hits per path
type fakeSite struct {
	*httptest.Server
	mu    sync.Mutex
	hits  map[string]int
	pages map[string]func(hit int) (int, string)
}

func newFakeSite(t *testing.T) *fakeSite {
	s := &fakeSite{hits: make(map[string]int), pages: make(map[string]func(int) (int, string))}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		hit := s.hits[r.URL.Path]
		page, ok := s.pages[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		status, body := page(hit)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *fakeSite) static(path, body string) {
	s.pages[path] = func(int) (int, string) { return http.StatusOK, body }
}

func (s *fakeSite) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *fakeSite) totalHitsExcept(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for p, n := range s.hits {
		if p != path {
			total += n
		}
	}
	return total
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Common.OutDir = t.TempDir()
	cfg.Crawl.BaseURL = baseURL
	cfg.Crawl.Delay = 0
	cfg.Crawl.ProjectConcurrency = 2
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

func newTestSession(t *testing.T, cfg config.Config) *Session {
	t.Helper()
	log := testLogger()
	fetcher := fetch.NewFetcher(fetch.NewClient(cfg.HTTPClient, log), cfg.Common.UserAgent, log)
	limiter := fetch.NewRateLimiter(0, log)
	s, err := NewSession(cfg, fetcher, fetch.NewRobotsHandler(fetcher, limiter, log), limiter, log)
	require.NoError(t, err)
	return s
}

// buildSite wires a small portfolio: a homepage, two project pages (the second fails on its
// detail fetch), an about page, a robots-disallowed page and an external image host.
func buildSite(t *testing.T) (site, external *fakeSite) {
	external = newFakeSite(t)
	external.static("/robots.txt", "User-agent: *\nDisallow: /blocked/\n")

	site = newFakeSite(t)
	site.static("/robots.txt", "User-agent: *\nDisallow: /private/\n")
	site.static("/", `<html><head><title>Home</title></head><body>
		<img src="/logo.png"><img src="/a.jpg"><img src="/b.jpg">
		<a href="/projet/maison-a/">A</a>
		<a href="/projet/maison-b/">B</a>
		<a href="/private/x">private</a>
		<a href="/about">about</a>
		<a href="/style.css">css</a>
		<a href="mailto:me@example.net">mail</a>
		<a href="https://other.example/">other</a>
		<a href="/projet/maison-a/#gallery">A again</a>
	</body></html>`)
	site.static("/projet/maison-a/", fmt.Sprintf(`<html><head>
		<title>A</title><meta property="og:title" content="Project A">
	</head><body>
		<h1>Heading</h1>
		<img src="/img/a1.jpg">
		<img src="%[1]s/blocked/x.jpg">
		<img src="%[1]s/ok/y.jpg">
		<a href="/">home</a>
	</body></html>`, external.URL))
	site.pages["/projet/maison-b/"] = func(hit int) (int, string) {
		if hit == 1 {
			return http.StatusOK, `<html><head><title>B</title></head><body></body></html>`
		}
		return http.StatusServiceUnavailable, "down"
	}
	site.static("/about", `<html><head><title>About</title></head><body><p>hi</p></body></html>`)
	site.static("/private/x", `<html><body>secret</body></html>`)
	return site, external
}

func TestSession_Run(t *testing.T) {
	site, external := buildSite(t)
	cfg := testConfig(t, site.URL)
	cfg.Crawl.SaveHTML = true

	res, err := newTestSession(t, cfg).Run(context.Background())
	require.NoError(t, err)

	base := site.URL + "/"
	assert.Equal(t, []string{base + "projet/maison-a/", base + "projet/maison-b/"}, res.ProjectURLs)
	assert.Equal(t, []string{base, base + "projet/maison-a/", base + "projet/maison-b/", base + "private/x", base + "about"}, res.Visited)
	assert.Equal(t, 0, site.hitCount("/private/x"), "robots-disallowed page must not be fetched")
	assert.Equal(t, 0, site.hitCount("/style.css"))
	assert.Equal(t, 1, site.hitCount("/robots.txt"), "robots.txt is cached per origin")
	assert.Equal(t, 1, external.hitCount("/robots.txt"))
	assert.Contains(t, string(res.HomepageHTML), "<title>Home</title>")

	assert.Equal(t, 2, res.Run.ProjectURLCount)
	assert.Equal(t, 5, res.Run.VisitedPageCount)
	assert.Equal(t, 5, res.Run.DiscoveredURLCount)
	assert.Equal(t, base, res.Run.BaseURL)
	assert.True(t, res.Run.WithImages)
	assert.NotEmpty(t, res.Run.RunID)

	require.Len(t, res.Projects, 2)
	a := res.Projects[0]
	assert.Equal(t, "maison-a", a.Slug)
	assert.Equal(t, "Project A", a.Title)
	assert.Empty(t, a.Error)
	var imageURLs []string
	for _, img := range a.Images {
		imageURLs = append(imageURLs, img.URL)
	}
	assert.Equal(t, []string{base + "img/a1.jpg", external.URL + "/ok/y.jpg"}, imageURLs, "externally disallowed image dropped")
	assert.Equal(t, a.Images, a.SelectedImages)

	b := res.Projects[1]
	assert.Equal(t, base+"projet/maison-b/", b.URL)
	assert.Equal(t, "fetch_failed_503", b.Error)
	assert.Empty(t, b.Slug)
}

func TestSession_RobotsDisallowsHomepage(t *testing.T) {
	site := newFakeSite(t)
	site.static("/robots.txt", "User-agent: *\nDisallow: /\n")
	site.static("/", `<html><a href="/projet/x/">x</a></html>`)
	site.static("/projet/x/", `<html></html>`)

	_, err := newTestSession(t, testConfig(t, site.URL)).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrRobotsDisallowed)
	assert.Equal(t, 1, site.hitCount("/robots.txt"))
	assert.Equal(t, 0, site.totalHitsExcept("/robots.txt"), "no page may be fetched")
}

func TestSession_ForceIgnoresRobots(t *testing.T) {
	site := newFakeSite(t)
	site.static("/robots.txt", "User-agent: *\nDisallow: /\n")
	site.static("/", `<html><a href="/projet/maison-x/">x</a></html>`)
	site.static("/projet/maison-x/", `<html><head><title>X</title></head></html>`)

	cfg := testConfig(t, site.URL)
	cfg.Crawl.Force = true
	res, err := newTestSession(t, cfg).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{site.URL + "/projet/maison-x/"}, res.ProjectURLs)
	assert.Equal(t, 0, site.hitCount("/robots.txt"))
}

func TestSession_Bounds(t *testing.T) {
	t.Run("MaxPages", func(t *testing.T) {
		site, _ := buildSite(t)
		cfg := testConfig(t, site.URL)
		cfg.Crawl.MaxPages = 2
		cfg.Crawl.WithImages = false

		res, err := newTestSession(t, cfg).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{site.URL + "/", site.URL + "/projet/maison-a/"}, res.Visited)
		assert.Nil(t, res.Projects)
		assert.False(t, res.Run.WithImages)
	})

	t.Run("Limit", func(t *testing.T) {
		site, _ := buildSite(t)
		cfg := testConfig(t, site.URL)
		cfg.Crawl.Limit = 1

		res, err := newTestSession(t, cfg).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{site.URL + "/projet/maison-a/"}, res.ProjectURLs)
		require.Len(t, res.Projects, 1)
		assert.Equal(t, 0, site.hitCount("/projet/maison-b/"))
	})

	t.Run("MaxDepthZero", func(t *testing.T) {
		site, _ := buildSite(t)
		cfg := testConfig(t, site.URL)
		cfg.Crawl.MaxDepth = 0

		res, err := newTestSession(t, cfg).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{site.URL + "/"}, res.Visited)
		assert.Empty(t, res.ProjectURLs)
		assert.Equal(t, 4, res.Run.DiscoveredURLCount, "links are still recorded as discovered")
	})
}

func TestSession_CancelledContext(t *testing.T) {
	site, _ := buildSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig(t, site.URL)
	cfg.Crawl.Force = true
	_, err := newTestSession(t, cfg).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_ScrapeURLs(t *testing.T) {
	site, _ := buildSite(t)
	cfg := testConfig(t, site.URL)
	urls := []string{site.URL + "/projet/maison-a/", site.URL + "/private/x", "ftp://example.net/file"}

	res, err := newTestSession(t, cfg).ScrapeURLs(context.Background(), urls)
	require.NoError(t, err)

	require.Len(t, res.Projects, 3)
	a := res.Projects[0]
	assert.Equal(t, HashSlug(urls[0]), a.Slug)
	assert.Equal(t, "Project A", a.Title)
	assert.NotEmpty(t, a.SelectedImages)
	assert.Equal(t, "robots_disallowed", res.Projects[1].Error)
	assert.Equal(t, "invalid_url", res.Projects[2].Error)
	assert.Equal(t, 0, site.hitCount("/private/x"))
	assert.Equal(t, urls, res.ProjectURLs)
	assert.True(t, res.Run.WithImages)
}

func TestReadURLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "https://tedoori.net/entry/1\n\n  https://tedoori.net/entry/2  \n# comment\nftp://x\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	urls, err := ReadURLFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://tedoori.net/entry/1", "https://tedoori.net/entry/2"}, urls)

	_, err = ReadURLFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, utils.ErrManifestRead)
}

func TestWriteResult(t *testing.T) {
	site, _ := buildSite(t)
	cfg := testConfig(t, site.URL)
	cfg.Crawl.SaveHTML = true
	res, err := newTestSession(t, cfg).Run(context.Background())
	require.NoError(t, err)

	layout, err := workspace.New(cfg.Common.OutDir)
	require.NoError(t, err)
	require.NoError(t, WriteResult(layout, res))

	var run models.CrawlRun
	require.NoError(t, manifest.ReadJSON(layout.CrawlRunManifest(), manifest.SchemaCrawlRun, &run))
	assert.Equal(t, res.Run.RunID, run.RunID)

	var projects []models.ProjectEntry
	require.NoError(t, manifest.ReadJSON(layout.ProjectsManifest(), manifest.SchemaProjects, &projects))
	assert.Len(t, projects, 2)

	var visited []string
	require.NoError(t, manifest.ReadJSON(layout.VisitedURLsManifest(), manifest.SchemaNone, &visited))
	assert.Equal(t, res.Visited, visited)

	html, err := os.ReadFile(layout.HomepageHTML())
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(html), "Home"))
}

func TestWriteResult_WithoutImagesSkipsProjects(t *testing.T) {
	layout, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	res := &Result{Run: models.CrawlRun{RunID: "r", BaseURL: "https://tedoori.net/"}}

	require.NoError(t, WriteResult(layout, res))
	assert.False(t, manifest.Exists(layout.ProjectsManifest()))

	raw, err := os.ReadFile(layout.ProjectURLsManifest())
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

// Package crawler discovers project pages on the source site and extracts their image candidates.
package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/fetch"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/parse"
	"github.com/LeeHome2/tedoori-pipeline/pkg/queue"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// Result is everything one crawl produced, ready to be written by WriteResult
type Result struct {
	Run          models.CrawlRun
	ProjectURLs  []string
	Visited      []string
	Projects     []models.ProjectEntry // nil when WithImages is false
	HomepageHTML []byte                // set only with SaveHTML
}

// Session owns the state of one crawl: visited set, discovered set and project set.
// Sessions are independent; several may run in one process.
type Session struct {
	cfg        config.CrawlConfig
	userAgent  string
	date       string
	fetcher    *fetch.Fetcher
	robots     *fetch.RobotsHandler
	limiter    *fetch.RateLimiter
	classifier *Classifier
	log        *logrus.Entry

	base         *url.URL
	visited      map[string]bool
	visitedOrder []string
	discovered   map[string]bool
	projectSet   map[string]bool
	projectURLs  []string
	homepage     []byte
}

// NewSession creates a crawl session. limiter may be nil to disable the inter-request delay.
func NewSession(cfg config.Config, fetcher *fetch.Fetcher, robots *fetch.RobotsHandler, limiter *fetch.RateLimiter, log *logrus.Entry) (*Session, error) {
	classifier, err := NewClassifier(cfg.Crawl)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(cfg.Crawl.BaseURL)
	if err != nil || !parse.IsHTTP(base) || base.Host == "" {
		return nil, fmt.Errorf("%w: crawl.base_url %q is not an absolute http(s) URL", utils.ErrConfigValidation, cfg.Crawl.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	return &Session{
		cfg:        cfg.Crawl,
		userAgent:  cfg.Common.UserAgent,
		date:       cfg.Common.Date,
		fetcher:    fetcher,
		robots:     robots,
		limiter:    limiter,
		classifier: classifier,
		log:        log,
		base:       base,
		visited:    make(map[string]bool),
		discovered: make(map[string]bool),
		projectSet: make(map[string]bool),
	}, nil
}

// Run crawls breadth-first from the base URL through a depth-ordered frontier, then fetches every project page with bounded concurrency.
// A robots.txt that disallows the homepage is fatal unless Force is set; nothing else is fetched in that case.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	homepage := s.base.String()
	runLog := s.log.WithFields(logrus.Fields{"base_url": homepage, "max_pages": s.cfg.MaxPages, "max_depth": s.cfg.MaxDepth})

	if !s.cfg.Force && !s.robots.IsAllowed(ctx, s.base, s.userAgent) {
		return nil, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, homepage)
	}
	runLog.Info("Crawl starting")

	frontier := queue.NewFrontier()
	frontier.Push(models.WorkItem{URL: homepage, Depth: 0})
	for frontier.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(s.visited) >= s.cfg.MaxPages {
			runLog.Infof("Reached max pages (%d)", s.cfg.MaxPages)
			break
		}
		if s.cfg.Limit > 0 && len(s.projectURLs) >= s.cfg.Limit {
			runLog.Infof("Reached project limit (%d)", s.cfg.Limit)
			break
		}

		item, _ := frontier.Pop()
		next, err := s.visit(ctx, item)
		if err != nil {
			return nil, err
		}
		for _, n := range next {
			frontier.Push(n)
		}
	}

	projectURLs := s.projectURLs
	if s.cfg.Limit > 0 && len(projectURLs) > s.cfg.Limit {
		projectURLs = projectURLs[:s.cfg.Limit]
	}
	runLog.WithFields(logrus.Fields{"visited": len(s.visited), "discovered": len(s.discovered)}).
		Infof("Collected %d project URLs", len(projectURLs))

	res := &Result{
		ProjectURLs:  append(make([]string, 0, len(projectURLs)), projectURLs...),
		Visited:      append(make([]string, 0, len(s.visitedOrder)), s.visitedOrder...),
		HomepageHTML: s.homepage,
	}
	if s.cfg.WithImages {
		projects, err := s.fetchProjects(ctx, res.ProjectURLs, s.crawlNaming)
		if err != nil {
			return nil, err
		}
		res.Projects = projects
	}
	res.Run = s.runRecord(len(res.ProjectURLs), len(s.visited), len(s.discovered))
	return res, nil
}

// visit fetches one frontier item and returns the links to enqueue.
// Only context cancellation is returned as an error; page failures are logged and skipped.
func (s *Session) visit(ctx context.Context, item models.WorkItem) ([]models.WorkItem, error) {
	u, err := url.Parse(item.URL)
	if err != nil {
		return nil, nil
	}
	normalized := parse.NormalizeURL(u)
	if s.visited[normalized] {
		return nil, nil
	}
	s.visited[normalized] = true
	s.visitedOrder = append(s.visitedOrder, normalized)

	pageURL, err := url.Parse(normalized)
	if err != nil {
		return nil, nil
	}
	pageLog := s.log.WithFields(logrus.Fields{"url": normalized, "depth": item.Depth})

	if !s.cfg.Force && !s.robots.IsAllowed(ctx, pageURL, s.userAgent) {
		pageLog.Debug("Disallowed by robots.txt")
		return nil, nil
	}

	body, err := s.fetchPage(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		pageLog.Warnf("Skip %s: %s", skipReason(err), normalized)
		return nil, nil
	}
	if s.cfg.SaveHTML && len(s.visited) == 1 {
		s.homepage = body
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		pageLog.Warnf("Cannot parse HTML: %v", err)
		return nil, nil
	}

	imgCount := doc.Find("img").Length()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if s.classifier.IsProjectPage(pageURL, imgCount, title) && !s.projectSet[normalized] {
		s.projectSet[normalized] = true
		s.projectURLs = append(s.projectURLs, normalized)
		pageLog.Debugf("Project page (%d images)", imgCount)
	}

	var next []models.WorkItem
	for _, href := range pageLinks(doc) {
		link, err := parse.Resolve(pageURL, href)
		if err != nil || !parse.SameOrigin(link, s.base) || parse.IsSkippable(link) {
			continue
		}
		nextURL := parse.NormalizeURL(link)
		s.discovered[nextURL] = true
		if item.Depth+1 <= s.cfg.MaxDepth && !s.visited[nextURL] {
			next = append(next, models.WorkItem{URL: nextURL, Depth: item.Depth + 1})
		}
	}
	return next, nil
}

// fetchPage waits out the crawl delay for the host, then fetches the page.
func (s *Session) fetchPage(ctx context.Context, pageURL *url.URL) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.ApplyDelay(ctx, pageURL.Host, s.cfg.Delay); err != nil {
			return nil, err
		}
		defer s.limiter.UpdateLastRequestTime(pageURL.Host)
	}
	return s.fetcher.GetText(ctx, pageURL.String())
}

func skipReason(err error) string {
	var statusErr *utils.HTTPStatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("%d", statusErr.StatusCode)
	}
	return utils.ErrorCode(err)
}

// naming derives a project's slug and title from its page
type naming func(pageURL *url.URL, title string) (slug, finalTitle string)

func (s *Session) crawlNaming(pageURL *url.URL, title string) (string, string) {
	return DeriveSlug(pageURL, title), title
}

// fetchProjects scrapes each project page with at most ProjectConcurrency in flight.
// Results keep the order of urls; a failed page yields an entry carrying only url and error.
func (s *Session) fetchProjects(ctx context.Context, urls []string, name naming) ([]models.ProjectEntry, error) {
	results := make([]models.ProjectEntry, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ProjectConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			if err := sleepCtx(gctx, s.cfg.Delay); err != nil {
				return err
			}
			results[i] = s.scrapeProject(gctx, u, name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, p := range results {
		if p.Error != "" {
			failed++
		}
	}
	s.log.WithFields(logrus.Fields{"projects": len(results), "failed": failed}).Info("Project pages scraped")
	return results, nil
}

func (s *Session) scrapeProject(ctx context.Context, rawURL string, name naming) models.ProjectEntry {
	projectLog := s.log.WithField("url", rawURL)

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return models.ProjectEntry{URL: rawURL, Error: "fetch_failed_" + utils.ErrorCode(err)}
	}
	body, err := s.fetcher.GetText(ctx, rawURL)
	if err != nil {
		projectLog.Warnf("Project fetch failed: %v", err)
		return models.ProjectEntry{URL: rawURL, Error: "fetch_failed_" + skipReason(err)}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		projectLog.Warnf("Cannot parse project HTML: %v", err)
		return models.ProjectEntry{URL: rawURL, Error: "fetch_failed_parse"}
	}

	slug, title := name(pageURL, PageTitle(doc))
	images := s.filterExternal(ctx, ExtractCandidates(doc, pageURL))
	selected := s.filterExternal(ctx, SelectGallery(images))

	projectLog.WithFields(logrus.Fields{"slug": slug, "images": len(images), "selected": len(selected)}).Debug("Project scraped")
	return models.ProjectEntry{
		URL:            rawURL,
		Slug:           slug,
		Title:          title,
		Images:         images,
		SelectedImages: selected,
	}
}

// filterExternal drops candidates on other origins whose robots.txt disallows them.
func (s *Session) filterExternal(ctx context.Context, candidates []models.ImageCandidate) []models.ImageCandidate {
	if !s.cfg.CheckExternalRobots || s.cfg.Force {
		return candidates
	}
	kept := make([]models.ImageCandidate, 0, len(candidates))
	for _, c := range candidates {
		u, err := url.Parse(c.URL)
		if err != nil {
			continue
		}
		if parse.SameOrigin(u, s.base) || s.robots.IsAllowed(ctx, u, s.userAgent) {
			kept = append(kept, c)
			continue
		}
		s.log.WithField("image_url", c.URL).Debug("Image disallowed by its origin's robots.txt")
	}
	return kept
}

func (s *Session) runRecord(projectCount, visitedCount, discoveredCount int) models.CrawlRun {
	return models.CrawlRun{
		RunID:              uuid.NewString(),
		BaseURL:            s.base.String(),
		UserAgent:          s.userAgent,
		Date:               s.date,
		MaxDepth:           s.cfg.MaxDepth,
		MaxPages:           s.cfg.MaxPages,
		ProjectURLCount:    projectCount,
		VisitedPageCount:   visitedCount,
		DiscoveredURLCount: discoveredCount,
		WithImages:         s.cfg.WithImages,
		ProjectConcurrency: s.cfg.ProjectConcurrency,
		GeneratedAt:        time.Now().UTC(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package crawler

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/parse"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// urlListSelectionCap bounds the gallery of a project scraped from a URL list
const urlListSelectionCap = 20

// untitled is the title of a listed project page without og:title, <h1> or <title>
const untitled = "Untitled"

// ReadURLFile returns the lines of path that start with http, trimmed, in file order.
func ReadURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open url file: %w", utils.ErrManifestRead, err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "http") {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read url file: %w", utils.ErrManifestRead, err)
	}
	return urls, nil
}

// ScrapeURLs scrapes a fixed list of project pages instead of crawling.
// Entries get hash slugs (p-<sha1[:10]>) and at most 20 selected images.
// Pages disallowed by robots.txt are recorded with error robots_disallowed unless Force is set.
func (s *Session) ScrapeURLs(ctx context.Context, urls []string) (*Result, error) {
	s.log.WithField("count", len(urls)).Info("Scraping listed project URLs")

	allowed := make([]string, 0, len(urls))
	rejected := make(map[string]string)
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || !parse.IsHTTP(u) {
			rejected[raw] = "invalid_url"
			continue
		}
		if !s.cfg.Force && !s.robots.IsAllowed(ctx, u, s.userAgent) {
			s.log.WithField("url", raw).Warn("Disallowed by robots.txt")
			rejected[raw] = utils.ErrorCode(utils.ErrRobotsDisallowed)
			continue
		}
		allowed = append(allowed, raw)
	}

	scraped, err := s.fetchProjects(ctx, allowed, listNaming)
	if err != nil {
		return nil, err
	}

	byURL := make(map[string]models.ProjectEntry, len(scraped))
	for _, p := range scraped {
		if len(p.SelectedImages) > urlListSelectionCap {
			p.SelectedImages = p.SelectedImages[:urlListSelectionCap]
		}
		byURL[p.URL] = p
	}

	projects := make([]models.ProjectEntry, 0, len(urls))
	for _, raw := range urls {
		if reason, ok := rejected[raw]; ok {
			projects = append(projects, models.ProjectEntry{URL: raw, Error: reason})
			continue
		}
		projects = append(projects, byURL[raw])
	}

	s.log.WithFields(logrus.Fields{"requested": len(urls), "fetched": len(allowed)}).Info("URL list scraped")
	run := s.runRecord(len(urls), len(allowed), len(urls))
	run.WithImages = true
	return &Result{
		Run:         run,
		ProjectURLs: append(make([]string, 0, len(urls)), urls...),
		Visited:     allowed,
		Projects:    projects,
	}, nil
}

func listNaming(pageURL *url.URL, title string) (string, string) {
	if title == "" {
		title = untitled
	}
	return HashSlug(pageURL.String()), title
}

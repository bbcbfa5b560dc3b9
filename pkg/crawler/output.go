package crawler

import (
	"github.com/LeeHome2/tedoori-pipeline/pkg/manifest"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/workspace"
)

// WriteResult persists a crawl under _scrape: run.json, project-urls.json, visited-urls.json,
// homepage.html when captured, and projects.json when project pages were scraped.
func WriteResult(layout workspace.Layout, res *Result) error {
	if err := manifest.WriteJSON(layout.CrawlRunManifest(), res.Run); err != nil {
		return err
	}
	if err := manifest.WriteJSON(layout.ProjectURLsManifest(), nonNil(res.ProjectURLs)); err != nil {
		return err
	}
	if err := manifest.WriteJSON(layout.VisitedURLsManifest(), nonNil(res.Visited)); err != nil {
		return err
	}
	if len(res.HomepageHTML) > 0 {
		if err := manifest.WriteFileAtomic(layout.HomepageHTML(), res.HomepageHTML); err != nil {
			return err
		}
	}
	if res.Run.WithImages {
		projects := res.Projects
		if projects == nil {
			projects = []models.ProjectEntry{}
		}
		if err := manifest.WriteJSON(layout.ProjectsManifest(), projects); err != nil {
			return err
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Package download fetches the selected images of every crawled project into projects/<slug>/images/original.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/crawler"
	"github.com/LeeHome2/tedoori-pipeline/pkg/fetch"
	"github.com/LeeHome2/tedoori-pipeline/pkg/manifest"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/parse"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
	"github.com/LeeHome2/tedoori-pipeline/pkg/workspace"
)

// ProjectResult is the outcome for one project
type ProjectResult struct {
	Slug    string
	Info    models.ProjectInfo
	Report  models.DownloadReport
	Results []models.DownloadResult // one per attempted URL, in selection order
}

// Summary aggregates a download run
type Summary struct {
	Run        models.DownloadRun
	Projects   []ProjectResult
	Downloaded int
	Failed     int
	Skipped    int // dry-run placeholders
}

// Downloader fetches project images with bounded concurrency
type Downloader struct {
	cfg     config.DownloadConfig
	date    string
	layout  workspace.Layout
	fetcher *fetch.Fetcher
	hostSem *fetch.HostSemaphorePool
	log     *logrus.Entry
}

// New creates a Downloader writing under cfg.Common.OutDir.
func New(cfg config.Config, fetcher *fetch.Fetcher, log *logrus.Entry) (*Downloader, error) {
	layout, err := workspace.New(cfg.Common.OutDir)
	if err != nil {
		return nil, err
	}
	return &Downloader{
		cfg:     cfg.Download,
		date:    cfg.Common.Date,
		layout:  layout,
		fetcher: fetcher,
		hostSem: fetch.NewHostSemaphorePool(cfg.Download.MaxPerHost, log),
		log:     log,
	}, nil
}

// LoadProjects reads and validates _scrape/projects.json.
func LoadProjects(layout workspace.Layout) ([]models.ProjectEntry, error) {
	var projects []models.ProjectEntry
	if err := manifest.ReadJSON(layout.ProjectsManifest(), manifest.SchemaProjects, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Run downloads every project in order. Per-image failures are recorded, never returned;
// only context cancellation and manifest write failures abort the run.
// In dry-run mode nothing touches the network or the disk.
func (d *Downloader) Run(ctx context.Context, projects []models.ProjectEntry) (*Summary, error) {
	if d.cfg.MaxProjects > 0 && len(projects) > d.cfg.MaxProjects {
		projects = projects[:d.cfg.MaxProjects]
	}

	sum := &Summary{Run: models.DownloadRun{
		OutRoot:      d.layout.Root,
		Date:         d.date,
		Concurrency:  d.cfg.Concurrency,
		ProjectCount: len(projects),
		StartedAt:    time.Now().UTC(),
	}}
	if !d.cfg.DryRun {
		if err := manifest.WriteJSON(d.layout.DownloadRunManifest(), sum.Run); err != nil {
			return nil, err
		}
	}
	d.log.WithFields(logrus.Fields{"projects": len(projects), "concurrency": d.cfg.Concurrency, "dry_run": d.cfg.DryRun}).Info("Download starting")

	for _, project := range projects {
		if project.Error != "" {
			d.log.WithFields(logrus.Fields{"url": project.URL, "error": project.Error}).Warn("Skipping project that failed to scrape")
			continue
		}
		res, err := d.downloadProject(ctx, project)
		if err != nil {
			return nil, err
		}
		sum.Projects = append(sum.Projects, *res)
		for _, r := range res.Results {
			switch {
			case r.Skipped:
				sum.Skipped++
			case r.OK:
				sum.Downloaded++
			default:
				sum.Failed++
			}
		}
	}

	d.log.WithFields(logrus.Fields{"downloaded": sum.Downloaded, "failed": sum.Failed, "skipped": sum.Skipped}).Info("Download finished")
	return sum, nil
}

// uniqueSources returns the project's image URLs deduplicated by origin+path, capped at MaxImages.
func (d *Downloader) uniqueSources(project models.ProjectEntry) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, img := range project.DownloadSources() {
		if img.URL == "" {
			continue
		}
		key := parse.DownloadKey(img.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		urls = append(urls, img.URL)
	}
	if d.cfg.MaxImages > 0 && len(urls) > d.cfg.MaxImages {
		urls = urls[:d.cfg.MaxImages]
	}
	return urls
}

func (d *Downloader) downloadProject(ctx context.Context, project models.ProjectEntry) (*ProjectResult, error) {
	slug := project.Slug
	if slug == "" {
		slug = crawler.HashSlug(project.URL)
	}
	title := project.Title
	if title == "" {
		title = slug
	}
	projectLog := d.log.WithField("slug", slug)
	urls := d.uniqueSources(project)

	results := make([]models.DownloadResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = d.downloadOne(gctx, slug, i, u)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := models.DownloadReport{Downloaded: []models.DownloadedImage{}, Failed: []models.FailedImage{}}
	for _, r := range results {
		if r.OK {
			report.Downloaded = append(report.Downloaded, models.DownloadedImage{URL: r.URL, File: r.FilePath, ContentType: r.ContentType})
		} else {
			report.Failed = append(report.Failed, models.FailedImage{URL: r.URL, Error: r.Error, Status: r.Status})
		}
	}

	info := models.ProjectInfo{
		Slug:     slug,
		Title:    title,
		Source:   models.ProjectSource{PageURL: project.URL, ScrapedAt: time.Now().UTC()},
		Metadata: d.existingMetadata(slug),
		Images:   models.ProjectImages{Original: make([]models.OriginalImage, 0, len(report.Downloaded))},
	}
	for _, dl := range report.Downloaded {
		info.Images.Original = append(info.Images.Original, models.OriginalImage(dl))
	}

	if !d.cfg.DryRun {
		if err := manifest.WriteJSON(d.layout.ProjectInfo(slug), info); err != nil {
			return nil, err
		}
		if err := manifest.WriteJSON(d.layout.DownloadReport(slug), report); err != nil {
			return nil, err
		}
	}
	projectLog.Infof("Downloaded %d/%d for %s", len(report.Downloaded), len(urls), slug)

	return &ProjectResult{Slug: slug, Info: info, Report: report, Results: results}, nil
}

// existingMetadata keeps descriptive metadata from a previous run; it is not derived from the source page.
func (d *Downloader) existingMetadata(slug string) models.ProjectMetadata {
	var prev models.ProjectInfo
	if err := manifest.ReadJSON(d.layout.ProjectInfo(slug), manifest.SchemaProjectInfo, &prev); err == nil {
		if prev.Metadata.Categories == nil {
			prev.Metadata.Categories = []string{}
		}
		return prev.Metadata
	}
	return models.ProjectMetadata{Categories: []string{}}
}

// TempName is the deterministic base name of the index-th (0-based) image: <slug>_<date>_<NN>.
func TempName(slug, date string, index int) string {
	return fmt.Sprintf("%s_%s_%02d", slug, date, index+1)
}

// downloadOne fetches a single image. The returned result is a success or a classified failure.
func (d *Downloader) downloadOne(ctx context.Context, slug string, index int, rawURL string) models.DownloadResult {
	name := TempName(slug, d.date, index)
	imgLog := d.log.WithFields(logrus.Fields{"slug": slug, "url": rawURL})

	if d.cfg.DryRun {
		return models.DownloadResult{
			OK:       true,
			URL:      rawURL,
			FilePath: path.Join(workspace.OriginalDir, name+"."+genericExt),
			Skipped:  true,
		}
	}

	host := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	if err := d.hostSem.Acquire(ctx, host); err != nil {
		return failure(rawURL, err)
	}
	defer d.hostSem.Release(host)

	resp, err := d.fetcher.Get(ctx, rawURL, fetch.AcceptImage)
	if err != nil {
		imgLog.Warnf("Image fetch failed: %v", err)
		return failure(rawURL, err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !IsImageContentType(contentType) {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		imgLog.Warnf("Not an image: %q", contentType)
		return models.DownloadResult{URL: rawURL, Error: utils.ErrorCode(&utils.NotImageError{ContentType: contentType}), Status: resp.StatusCode}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return models.DownloadResult{URL: rawURL, Error: utils.ErrorCode(utils.ErrNoBody), Status: resp.StatusCode}
	}

	rel := path.Join(workspace.OriginalDir, name+"."+ExtensionForContentType(contentType))
	dest := d.layout.ProjectFile(slug, rel)
	written, err := writeBody(dest, resp.Body)
	if err != nil {
		imgLog.Warnf("Saving image failed: %v", err)
		return models.DownloadResult{URL: rawURL, Error: utils.ErrorCode(err), Status: resp.StatusCode}
	}

	imgLog.Debugf("Saved %s (%d bytes)", rel, written)
	return models.DownloadResult{OK: true, URL: rawURL, FilePath: rel, ContentType: contentType, Status: resp.StatusCode}
}

func failure(rawURL string, err error) models.DownloadResult {
	res := models.DownloadResult{URL: rawURL, Error: utils.ErrorCode(err)}
	var statusErr *utils.HTTPStatusError
	if errors.As(err, &statusErr) {
		res.Status = statusErr.StatusCode
	}
	return res
}

// writeBody streams body into dest through a temporary file in the same directory,
// so an interrupted download never leaves a truncated image under the final name.
func writeBody(dest string, body io.Reader) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("%w: creating %s: %w", utils.ErrFilesystem, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, fmt.Errorf("%w: creating temp file in %s: %w", utils.ErrFilesystem, dir, err)
	}
	tmpName := tmp.Name()

	written, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpName)
		return written, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, copyErr)
	}
	if written == 0 {
		os.Remove(tmpName)
		return 0, utils.ErrNoBody
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return written, fmt.Errorf("%w: closing %s: %w", utils.ErrFilesystem, tmpName, closeErr)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return written, fmt.Errorf("%w: chmod %s: %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return written, fmt.Errorf("%w: renaming to %s: %w", utils.ErrFilesystem, dest, err)
	}
	return written, nil
}

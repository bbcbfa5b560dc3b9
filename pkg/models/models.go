package models

import (
	"encoding/json"
	"time"
)

// WorkItem represents a URL and its depth in the crawl frontier
type WorkItem struct {
	URL   string
	Depth int
}

// CrawlRun is the immutable record of one crawl invocation (_scrape/run.json)
type CrawlRun struct {
	RunID              string    `json:"runId"`
	BaseURL            string    `json:"baseUrl"`
	UserAgent          string    `json:"userAgent"`
	Date               string    `json:"date"`
	MaxDepth           int       `json:"maxDepth"`
	MaxPages           int       `json:"maxPages"`
	ProjectURLCount    int       `json:"projectUrlCount"`
	VisitedPageCount   int       `json:"visitedPageCount"`
	DiscoveredURLCount int       `json:"discoveredUrlCount"`
	WithImages         bool      `json:"withImages"`
	ProjectConcurrency int       `json:"projectConcurrency"`
	GeneratedAt        time.Time `json:"generatedAt"`
}

// ImageCandidate is one image URL found on a project page.
// Width is a hint; nil means unknown, which is not the same as zero.
type ImageCandidate struct {
	URL   string `json:"url"`
	Type  string `json:"type"`
	Width *int   `json:"width,omitempty"`
}

// WidthOrZero returns the width hint, or 0 when unknown.
func (c ImageCandidate) WidthOrZero() int {
	if c.Width == nil {
		return 0
	}
	return *c.Width
}

// ProjectEntry is one element of _scrape/projects.json
type ProjectEntry struct {
	URL            string           `json:"url"`
	Slug           string           `json:"slug,omitempty"`
	Title          string           `json:"title,omitempty"`
	Images         []ImageCandidate `json:"images,omitempty"`
	SelectedImages []ImageCandidate `json:"selectedImages,omitempty"`
	Error          string           `json:"error,omitempty"` // fetch_failed_<status> when the detail fetch failed
}

// DownloadSources returns the images the downloader should fetch: the selection, or every candidate when empty.
func (p ProjectEntry) DownloadSources() []ImageCandidate {
	if len(p.SelectedImages) > 0 {
		return p.SelectedImages
	}
	return p.Images
}

// ProjectSource records where a project was scraped from
type ProjectSource struct {
	PageURL   string    `json:"pageUrl"`
	ScrapedAt time.Time `json:"scrapedAt"`
}

// ProjectMetadata is free-form descriptive data carried into the content store
type ProjectMetadata struct {
	Description string            `json:"description"`
	Date        string            `json:"date"`
	Categories  []string          `json:"categories"`
	Details     map[string]string `json:"details,omitempty"`
}

// OriginalImage is a downloaded source image. File is relative to the project directory.
type OriginalImage struct {
	URL         string `json:"url"`
	File        string `json:"file"`
	ContentType string `json:"contentType"`
}

// OptimizedImage is one derivative. Source matches an OriginalImage.File.
type OptimizedImage struct {
	Source string `json:"source"`
	File   string `json:"file"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ProjectImages is the images ledger of a project
type ProjectImages struct {
	Original  []OriginalImage             `json:"original"`
	Optimized map[string][]OptimizedImage `json:"optimized,omitempty"` // keyed by size (lg, md, sm)
}

// ProjectInfo is persisted at projects/<slug>/project_info.json
type ProjectInfo struct {
	Slug     string          `json:"slug"`
	Title    string          `json:"title"`
	Source   ProjectSource   `json:"source"`
	Metadata ProjectMetadata `json:"metadata"`
	Images   ProjectImages   `json:"images"`
}

// DownloadResult is the outcome of fetching one image
type DownloadResult struct {
	OK          bool   `json:"ok"`
	URL         string `json:"url"`
	FilePath    string `json:"filePath,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
	Error       string `json:"error,omitempty"`
	Status      int    `json:"status,omitempty"`
}

// DownloadedImage is a success entry of download.json
type DownloadedImage struct {
	URL         string `json:"url"`
	File        string `json:"file"`
	ContentType string `json:"contentType"`
}

// FailedImage is a failure entry of download.json
type FailedImage struct {
	URL    string `json:"url"`
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// DownloadReport is persisted at projects/<slug>/download.json.
// Every attempted URL appears in exactly one list.
type DownloadReport struct {
	Downloaded []DownloadedImage `json:"downloaded"`
	Failed     []FailedImage     `json:"failed"`
}

// DownloadRun is persisted at _scrape/download-run.json
type DownloadRun struct {
	OutRoot      string    `json:"outRoot"`
	Date         string    `json:"date"`
	Concurrency  int       `json:"concurrency"`
	ProjectCount int       `json:"projectCount"`
	StartedAt    time.Time `json:"startedAt"`
}

// UploadRecord is the per-file outcome of an upload run. File is relative to the projects root.
type UploadRecord struct {
	File        string `json:"file"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
	StoragePath string `json:"storagePath"`
	PublicURL   string `json:"publicUrl"`
	SHA256      string `json:"sha256,omitempty"`
	Uploaded    bool   `json:"uploaded"`
	Verified    *bool  `json:"verified"`
	Skipped     bool   `json:"skipped,omitempty"`
	DryRun      bool   `json:"dryRun,omitempty"`
	Error       string `json:"error,omitempty"`
	RetriesUsed int    `json:"retriesUsed,omitempty"`
	DurationMs  int64  `json:"durationMs,omitempty"`
}

// UploadSummary is persisted at _scrape/upload-supabase.json
type UploadSummary struct {
	Bucket         string         `json:"bucket"`
	DryRun         bool           `json:"dryRun"`
	Overwrite      bool           `json:"overwrite"`
	VerifyChecksum bool           `json:"verifyChecksum"`
	Incremental    bool           `json:"incremental"`
	Retries        int            `json:"retries"`
	BaseDelayMs    int            `json:"baseDelayMs"`
	RetryFactor    float64        `json:"retryFactor"`
	CacheControl   string         `json:"cacheControl"`
	Prefix         string         `json:"prefix"`
	CreatedAt      time.Time      `json:"createdAt"`
	Count          int            `json:"count"`
	TotalBytes     int64          `json:"totalBytes"`
	UploadedBytes  int64          `json:"uploadedBytes"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	Skipped        int            `json:"skipped"`
	Mappings       []UploadRecord `json:"mappings"`
}

// Tally recomputes Count, Succeeded, Failed and Skipped from Mappings.
// Failed counts every record carrying an error, so an oversized file counts as both skipped and failed.
func (s *UploadSummary) Tally() {
	s.Count = len(s.Mappings)
	s.Succeeded, s.Failed, s.Skipped = 0, 0, 0
	for _, m := range s.Mappings {
		if m.Uploaded {
			s.Succeeded++
		}
		if m.Error != "" {
			s.Failed++
		}
		if m.Skipped {
			s.Skipped++
		}
	}
}

// SFTPMapping is the per-file outcome of an SFTP upload
type SFTPMapping struct {
	File       string `json:"file"`
	RemotePath string `json:"remotePath"`
	PublicURL  string `json:"publicUrl,omitempty"`
	Uploaded   bool   `json:"uploaded"`
	Skipped    bool   `json:"skipped,omitempty"`
	DryRun     bool   `json:"dryRun,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SFTPSummary is persisted at _scrape/upload-sftp.json
type SFTPSummary struct {
	DryRun        bool          `json:"dryRun"`
	Overwrite     bool          `json:"overwrite"`
	RemoteBase    string        `json:"remoteBase"`
	PublicBaseURL string        `json:"publicBaseUrl"`
	CreatedAt     time.Time     `json:"createdAt"`
	Count         int           `json:"count"`
	Mappings      []SFTPMapping `json:"mappings"`
}

// GalleryItem is one entry of a content-store project gallery
type GalleryItem struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Src        string `json:"src"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Alt        string `json:"alt"`
	Visibility string `json:"visibility"`
}

// ProjectRecord is a content-store row as the reconciler reads and writes it.
// Gallery items are kept raw so fields written by other tools survive a merge.
type ProjectRecord struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Slug         string            `json:"slug"`
	ImageURL     string            `json:"image_url"`
	Link         string            `json:"link"`
	Details      map[string]string `json:"details"`
	Gallery      []json.RawMessage `json:"gallery_images"`
	IsVisible    string            `json:"is_visible"`
	DisplayOrder int               `json:"display_order"`
}

// PlanEntry is the reconciler's per-project decision
type PlanEntry struct {
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	ID           string     `json:"id,omitempty"`
	DisplayOrder int        `json:"display_order,omitempty"`
	ImageURL     string     `json:"image_url,omitempty"`
	GalleryCount int        `json:"gallery_count,omitempty"`
	Mode         string     `json:"mode,omitempty"` // insert or update
	Status       PlanStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
}

// UpsertReport is persisted at _scrape/upsert-report.json
type UpsertReport struct {
	Apply       bool        `json:"apply"`
	Merge       bool        `json:"merge"`
	MappingFile string      `json:"mappingFile"`
	CreatedAt   time.Time   `json:"createdAt"`
	Planned     []PlanEntry `json:"planned"`
}

// ValidationIssue is one validator finding
type ValidationIssue struct {
	Slug   string   `json:"slug"`
	Level  Severity `json:"level"`
	Code   string   `json:"code"`
	File   string   `json:"file,omitempty"`
	Detail string   `json:"detail,omitempty"`
}

// ValidationSummary counts projects by their worst finding
type ValidationSummary struct {
	ProjectCount int `json:"projectCount"`
	OK           int `json:"ok"`
	Warn         int `json:"warn"`
	Error        int `json:"error"`
}

// ValidationReport is persisted at _scrape/validate-assets.json
type ValidationReport struct {
	CreatedAt time.Time         `json:"createdAt"`
	OutRoot   string            `json:"outRoot"`
	Summary   ValidationSummary `json:"summary"`
	Issues    []ValidationIssue `json:"issues"`
}

// HasErrors reports whether any error-level finding exists.
func (r *ValidationReport) HasErrors() bool {
	return r.Summary.Error > 0
}

// Package workspace knows the on-disk layout shared by every stage.
//
//	<out>/_scrape/               run-level manifests and reports
//	<out>/_state/upload-ledger/  badger ledger for incremental upload
//	<out>/projects/<slug>/       project_info.json, download.json, images/
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

const (
	ScrapeDirName   = "_scrape"
	StateDirName    = "_state"
	ProjectsDirName = "projects"

	ProjectInfoFile    = "project_info.json"
	DownloadReportFile = "download.json"

	OriginalDir  = "images/original"
	OptimizedDir = "images/optimized"
)

// Layout resolves manifest and asset paths under an output root
type Layout struct {
	Root string
}

// New returns a Layout for root, made absolute.
func New(root string) (Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: resolve output dir %q: %w", utils.ErrFilesystem, root, err)
	}
	return Layout{Root: abs}, nil
}

func (l Layout) ScrapeDir() string   { return filepath.Join(l.Root, ScrapeDirName) }
func (l Layout) StateDir() string    { return filepath.Join(l.Root, StateDirName) }
func (l Layout) ProjectsDir() string { return filepath.Join(l.Root, ProjectsDirName) }

// ScrapeFile returns a path under _scrape.
func (l Layout) ScrapeFile(name string) string { return filepath.Join(l.ScrapeDir(), name) }

// Run-level manifests
func (l Layout) ProjectsManifest() string    { return l.ScrapeFile("projects.json") }
func (l Layout) CrawlRunManifest() string    { return l.ScrapeFile("run.json") }
func (l Layout) ProjectURLsManifest() string { return l.ScrapeFile("project-urls.json") }
func (l Layout) VisitedURLsManifest() string { return l.ScrapeFile("visited-urls.json") }
func (l Layout) HomepageHTML() string        { return l.ScrapeFile("homepage.html") }
func (l Layout) DownloadRunManifest() string { return l.ScrapeFile("download-run.json") }
func (l Layout) UploadSummary() string       { return l.ScrapeFile("upload-supabase.json") }
func (l Layout) UploadEvents() string        { return l.ScrapeFile("upload-supabase.events.jsonl") }
func (l Layout) SFTPSummary() string         { return l.ScrapeFile("upload-sftp.json") }
func (l Layout) UpsertReport() string        { return l.ScrapeFile("upsert-report.json") }
func (l Layout) ValidationReport() string    { return l.ScrapeFile("validate-assets.json") }
func (l Layout) LockFile() string            { return l.ScrapeFile(".lock") }
func (l Layout) UploadLedgerDir() string     { return filepath.Join(l.StateDir(), "upload-ledger") }

// ProjectDir returns projects/<slug>.
func (l Layout) ProjectDir(slug string) string { return filepath.Join(l.ProjectsDir(), slug) }

// ProjectInfo returns projects/<slug>/project_info.json.
func (l Layout) ProjectInfo(slug string) string {
	return filepath.Join(l.ProjectDir(slug), ProjectInfoFile)
}

// DownloadReport returns projects/<slug>/download.json.
func (l Layout) DownloadReport(slug string) string {
	return filepath.Join(l.ProjectDir(slug), DownloadReportFile)
}

// OriginalDir returns projects/<slug>/images/original.
func (l Layout) OriginalDir(slug string) string {
	return filepath.Join(l.ProjectDir(slug), filepath.FromSlash(OriginalDir))
}

// ProjectFile resolves a manifest-relative (forward-slash) path inside a project.
func (l Layout) ProjectFile(slug, rel string) string {
	return filepath.Join(l.ProjectDir(slug), filepath.FromSlash(rel))
}

// RelToProject returns the forward-slash path of abs relative to the project directory.
func (l Layout) RelToProject(slug, abs string) (string, error) {
	rel, err := filepath.Rel(l.ProjectDir(slug), abs)
	if err != nil {
		return "", err
	}
	return utils.ToPosix(rel), nil
}

// ProjectSlugs lists project directory names in sorted order. A missing projects dir yields none.
func (l Layout) ProjectSlugs() ([]string, error) {
	entries, err := os.ReadDir(l.ProjectsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list projects: %w", utils.ErrFilesystem, err)
	}
	var slugs []string
	for _, e := range entries {
		if e.IsDir() {
			slugs = append(slugs, e.Name())
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// LocalFile is a file found under the projects root
type LocalFile struct {
	Path string // absolute host path
	Rel  string // forward-slash path relative to the projects root
	Size int64
}

// OptimizedFiles lists every file under projects/*/images/optimized/ whose name ends in ext
// (case-insensitive), sorted by relative path.
func (l Layout) OptimizedFiles(ext string) ([]LocalFile, error) {
	root := l.ProjectsDir()
	marker := "/" + OptimizedDir + "/"
	ext = strings.ToLower(ext)

	var files []LocalFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = utils.ToPosix(rel)
		if !strings.Contains(rel, marker) || !strings.HasSuffix(strings.ToLower(rel), ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, LocalFile{Path: path, Rel: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate %s: %w", utils.ErrFilesystem, root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}

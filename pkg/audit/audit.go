// Package audit checks the on-disk asset tree against the project manifests without modifying it.
package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/manifest"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/optimize"
	"github.com/LeeHome2/tedoori-pipeline/pkg/report"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
	"github.com/LeeHome2/tedoori-pipeline/pkg/workspace"
)

// Issue codes. Size-specific codes get a _<size> suffix.
const (
	CodeMissingInfo          = "missing_project_info.json"
	CodeInvalidInfo          = "invalid_project_info.json"
	CodeNoOriginals          = "no_original_images"
	CodeMissingOriginal      = "missing_original_file"
	CodeEmptyOriginal        = "empty_original_file"
	CodeMissingOptimizedTier = "missing_optimized"
	CodeMissingOptimizedFile = "missing_optimized_file"
	CodeEmptyOptimizedFile   = "empty_optimized_file"
	CodeUnreadableDimensions = "cannot_read_dimensions"
)

// Auditor runs the validator stage
type Auditor struct {
	cfg    config.AuditConfig
	sizes  []optimize.Size
	layout workspace.Layout
	out    io.Writer
	log    *logrus.Entry
}

// New creates an Auditor over cfg.Common.OutDir.
func New(cfg config.Config, log *logrus.Entry) (*Auditor, error) {
	layout, err := workspace.New(cfg.Common.OutDir)
	if err != nil {
		return nil, err
	}
	return &Auditor{
		cfg:    cfg.Audit,
		sizes:  optimize.SizesFor(cfg.Optimize.Widths),
		layout: layout,
		out:    os.Stdout,
		log:    log,
	}, nil
}

// SetOutput redirects the summary lines (stdout by default).
func (a *Auditor) SetOutput(w io.Writer) { a.out = w }

// fileCheck is one referenced file to stat (and optionally decode)
type fileCheck struct {
	project int
	rel     string
	size    string // empty for originals
}

type projectAudit struct {
	slug   string
	issues []models.ValidationIssue
	checks []int // indexes into the flat check list
}

// Run audits every project directory and writes _scrape/validate-assets.json.
// The returned error covers only I/O on the report itself; findings are in the report.
func (a *Auditor) Run(ctx context.Context) (*models.ValidationReport, error) {
	dirs, err := a.layout.ProjectSlugs()
	if err != nil {
		return nil, err
	}

	projects := make([]projectAudit, len(dirs))
	var checks []fileCheck
	for i, dir := range dirs {
		projects[i] = a.inspect(dir, i, &checks)
	}

	results := make([]*models.ValidationIssue, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, c := range checks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = a.checkFile(projects[c.project].slug, dirs[c.project], c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &models.ValidationReport{
		OutRoot: a.layout.Root,
		Summary: models.ValidationSummary{ProjectCount: len(dirs)},
		Issues:  []models.ValidationIssue{},
	}
	for _, p := range projects {
		for _, idx := range p.checks {
			if results[idx] != nil {
				p.issues = append(p.issues, *results[idx])
			}
		}
		worst := models.SeverityOK
		for _, issue := range p.issues {
			if issue.Level.Rank() > worst.Rank() {
				worst = issue.Level
			}
		}
		switch worst {
		case models.SeverityError:
			rep.Summary.Error++
		case models.SeverityWarn:
			rep.Summary.Warn++
		default:
			rep.Summary.OK++
		}
		rep.Issues = append(rep.Issues, p.issues...)
	}
	rep.CreatedAt = time.Now().UTC()

	if err := manifest.WriteJSON(a.layout.ValidationReport(), rep); err != nil {
		return nil, err
	}

	s := rep.Summary
	if report.IsTerminal(a.out) && len(rep.Issues) > 0 {
		fmt.Fprintln(a.out, renderIssues(rep.Issues))
	}
	fmt.Fprintf(a.out, "Projects: %d, OK: %d, Warn: %d, Error: %d\n", s.ProjectCount, s.OK, s.Warn, s.Error)
	a.log.WithFields(logrus.Fields{"projects": s.ProjectCount, "ok": s.OK, "warn": s.Warn, "error": s.Error}).Info("Validation finished")
	return rep, nil
}

// inspect reads one project's manifest, records manifest-level findings and queues its file checks.
func (a *Auditor) inspect(dir string, index int, checks *[]fileCheck) projectAudit {
	p := projectAudit{slug: dir}

	var info models.ProjectInfo
	if err := manifest.ReadJSON(a.layout.ProjectInfo(dir), manifest.SchemaProjectInfo, &info); err != nil {
		if manifest.IsMissing(err) {
			p.issues = append(p.issues, issue(dir, models.SeverityError, CodeMissingInfo, "", ""))
		} else {
			p.issues = append(p.issues, issue(dir, models.SeverityError, CodeInvalidInfo, "", err.Error()))
		}
		return p
	}
	if info.Slug != "" {
		p.slug = info.Slug
	}

	if len(info.Images.Original) == 0 {
		p.issues = append(p.issues, issue(p.slug, models.SeverityWarn, CodeNoOriginals, "", ""))
		return p
	}

	queue := func(c fileCheck) {
		p.checks = append(p.checks, len(*checks))
		*checks = append(*checks, c)
	}
	for _, orig := range info.Images.Original {
		if orig.File != "" {
			queue(fileCheck{project: index, rel: orig.File})
		}
	}
	for _, size := range a.sizes {
		items := info.Images.Optimized[size.Key]
		if len(items) == 0 {
			p.issues = append(p.issues, issue(p.slug, models.SeverityWarn, CodeMissingOptimizedTier+"_"+size.Key, "", ""))
			continue
		}
		for _, item := range items {
			if item.File != "" {
				queue(fileCheck{project: index, rel: item.File, size: size.Key})
			}
		}
	}
	return p
}

// checkFile returns the finding for one referenced file, or nil when it is sound.
func (a *Auditor) checkFile(slug, dir string, c fileCheck) *models.ValidationIssue {
	rel := utils.ToPosix(c.rel)
	abs := a.layout.ProjectFile(dir, rel)

	missing, empty := CodeMissingOriginal, CodeEmptyOriginal
	if c.size != "" {
		missing = CodeMissingOptimizedFile + "_" + c.size
		empty = CodeEmptyOptimizedFile + "_" + c.size
	}

	st, err := os.Stat(abs)
	if err != nil {
		found := issue(slug, models.SeverityError, missing, rel, "")
		if !os.IsNotExist(err) {
			found.Detail = err.Error()
		}
		return &found
	}
	if st.Size() == 0 {
		found := issue(slug, models.SeverityError, empty, rel, "")
		return &found
	}
	if c.size == "" || !a.cfg.CheckDimensions {
		return nil
	}
	if w, h, err := optimize.Dimensions(abs); err != nil || w == 0 || h == 0 {
		found := issue(slug, models.SeverityWarn, CodeUnreadableDimensions+"_"+c.size, rel, "")
		if err != nil {
			found.Detail = err.Error()
		}
		return &found
	}
	return nil
}

func issue(slug string, level models.Severity, code, file, detail string) models.ValidationIssue {
	return models.ValidationIssue{Slug: slug, Level: level, Code: code, File: file, Detail: detail}
}

func renderIssues(issues []models.ValidationIssue) string {
	rows := make([][]string, 0, len(issues))
	for _, is := range issues {
		rows = append(rows, []string{is.Slug, is.Level.String(), is.Code, is.File})
	}
	return report.Table([]string{"project", "level", "code", "file"}, rows, nil)
}

// ExitCode is 1 when the report holds an error-level finding.
func ExitCode(rep *models.ValidationReport) int {
	if rep.HasErrors() {
		return 1
	}
	return 0
}

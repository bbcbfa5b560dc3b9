// Package reconcile turns the upload mapping and project manifests into content-store records.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/contentstore"
	"github.com/LeeHome2/tedoori-pipeline/pkg/manifest"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/report"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
	"github.com/LeeHome2/tedoori-pipeline/pkg/workspace"
)

// Plan modes
const (
	ModeInsert = "insert"
	ModeUpdate = "update"
)

// Reconciler plans, and with Apply performs, content-store upserts
type Reconciler struct {
	cfg         config.ReconcileConfig
	mappingFile string
	layout      workspace.Layout
	store       contentstore.Store
	out         io.Writer
	log         *logrus.Entry
}

// New wires a reconciler against store.
func New(cfg config.Config, store contentstore.Store, log *logrus.Entry) (*Reconciler, error) {
	layout, err := workspace.New(cfg.Common.OutDir)
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		cfg:         cfg.Reconcile,
		mappingFile: cfg.MappingFile(),
		layout:      layout,
		store:       store,
		out:         os.Stdout,
		log:         log,
	}, nil
}

// SetOutput redirects the summary lines (stdout by default).
func (r *Reconciler) SetOutput(w io.Writer) { r.out = w }

// Run builds the plan for every project on disk and writes _scrape/upsert-report.json.
// A missing or malformed mapping and a failed store read are fatal; write failures are per project.
func (r *Reconciler) Run(ctx context.Context) (*models.UpsertReport, error) {
	var mapping models.UploadSummary
	if err := manifest.ReadJSON(r.mappingFile, manifest.SchemaUploadMapping, &mapping); err != nil {
		return nil, err
	}
	idx := IndexMappings(mapping.Mappings)
	r.log.WithFields(logrus.Fields{"mapping": r.mappingFile, "urls": len(idx)}).Debug("Indexed upload mapping")

	existing, err := r.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	bySlug := make(map[string]models.ProjectRecord, len(existing))
	maxOrder := 0
	for _, p := range existing {
		bySlug[p.Slug] = p
		maxOrder = max(maxOrder, p.DisplayOrder)
	}

	slugs, err := r.layout.ProjectSlugs()
	if err != nil {
		return nil, err
	}

	rep := &models.UpsertReport{
		Apply:       r.cfg.Apply,
		Merge:       r.cfg.Merge,
		MappingFile: utils.ToPosix(r.mappingFile),
		Planned:     []models.PlanEntry{},
	}
	for _, dir := range slugs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var info models.ProjectInfo
		if err := manifest.ReadJSON(r.layout.ProjectInfo(dir), manifest.SchemaProjectInfo, &info); err != nil {
			if manifest.IsMissing(err) {
				r.log.Debugf("No project_info.json in %s, skipping", dir)
			} else {
				r.log.Warnf("Skipping %s: %v", dir, err)
			}
			continue
		}
		if info.Slug == "" || info.Title == "" {
			continue
		}

		entry, rec, ok := r.plan(info, idx, bySlug, &maxOrder)
		if ok {
			r.apply(ctx, &entry, rec)
		}
		rep.Planned = append(rep.Planned, entry)
	}
	rep.CreatedAt = time.Now().UTC()

	if err := manifest.WriteJSON(r.layout.UpsertReport(), rep); err != nil {
		return nil, err
	}
	if report.IsTerminal(r.out) && len(rep.Planned) > 0 {
		fmt.Fprintln(r.out, renderPlan(rep.Planned))
	}
	fmt.Fprintf(r.out, "Planned %d projects\n", len(rep.Planned))
	return rep, nil
}

// plan decides one project. ok is false when the project is not eligible to sync.
func (r *Reconciler) plan(info models.ProjectInfo, idx URLIndex, bySlug map[string]models.ProjectRecord, maxOrder *int) (models.PlanEntry, models.ProjectRecord, bool) {
	entry := models.PlanEntry{Slug: info.Slug, Title: info.Title}

	cover, hasCover := CoverURL(info, idx)
	items := BuildGallery(info, idx)
	if !hasCover || len(items) == 0 {
		entry.Status = models.PlanStatusSkippedMissing
		r.log.WithFields(logrus.Fields{"slug": info.Slug, "cover": hasCover, "gallery": len(items)}).Info("Skipping project with unresolved URLs")
		return entry, models.ProjectRecord{}, false
	}

	gallery, err := encodeGallery(items)
	if err != nil {
		entry.Status = models.PlanStatusError
		entry.Error = err.Error()
		return entry, models.ProjectRecord{}, false
	}

	prev, exists := bySlug[info.Slug]
	rec := models.ProjectRecord{
		ID:        info.Slug,
		Title:     info.Title,
		Slug:      info.Slug,
		ImageURL:  cover,
		Link:      "/projet/" + info.Slug,
		Details:   info.Metadata.Details,
		Gallery:   gallery,
		IsVisible: "public",
	}
	if rec.Details == nil {
		rec.Details = map[string]string{}
	}
	entry.Mode = ModeInsert
	if exists {
		entry.Mode = ModeUpdate
		if prev.ID != "" {
			rec.ID = prev.ID
		}
		rec.DisplayOrder = prev.DisplayOrder
		if r.cfg.Merge {
			rec.Gallery = MergeGallery(prev.Gallery, gallery)
		}
	} else {
		*maxOrder++
		rec.DisplayOrder = *maxOrder
	}

	entry.ID = rec.ID
	entry.DisplayOrder = rec.DisplayOrder
	entry.ImageURL = rec.ImageURL
	entry.GalleryCount = len(rec.Gallery)
	return entry, rec, true
}

// apply writes rec when Apply is set and records the outcome on entry.
func (r *Reconciler) apply(ctx context.Context, entry *models.PlanEntry, rec models.ProjectRecord) {
	if !r.cfg.Apply {
		entry.Status = models.PlanStatusDryRun
		return
	}
	if err := r.store.UpsertProject(ctx, rec); err != nil {
		entry.Status = models.PlanStatusError
		entry.Error = err.Error()
		r.log.WithFields(logrus.Fields{"slug": rec.Slug, "error_code": utils.ErrorCode(err)}).Warnf("Upsert failed: %v", err)
		return
	}
	entry.Status = models.PlanStatusApplied
	r.log.WithFields(logrus.Fields{"slug": rec.Slug, "mode": entry.Mode, "gallery": entry.GalleryCount}).Info("Upserted project")
}

func renderPlan(planned []models.PlanEntry) string {
	rows := make([][]string, 0, len(planned))
	for _, p := range planned {
		order, count := "", ""
		if p.Mode != "" {
			order = strconv.Itoa(p.DisplayOrder)
			count = strconv.Itoa(p.GalleryCount)
		}
		rows = append(rows, []string{p.Slug, p.Mode, order, count, p.Status.String()})
	}
	return report.Table(
		[]string{"slug", "mode", "order", "gallery", "status"},
		rows,
		[]report.Align{report.AlignLeft, report.AlignLeft, report.AlignRight, report.AlignRight, report.AlignLeft},
	)
}

// Package optimize renders width-bounded WebP derivatives of every downloaded original.
package optimize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	// Decoders for originals imaging does not register itself
	_ "golang.org/x/image/webp"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/manifest"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
	"github.com/LeeHome2/tedoori-pipeline/pkg/workspace"
)

// DerivativeExt is the extension of every derivative file
const DerivativeExt = ".webp"

// DerivativeContentType is the media type of every derivative
const DerivativeContentType = "image/webp"

// Size is one derivative tier
type Size struct {
	Key   string
	Width int
}

// Failure records a derivative that could not be produced
type Failure struct {
	Slug   string `json:"slug"`
	Source string `json:"source"`
	Size   string `json:"size"`
	Error  string `json:"error"`
}

// Summary aggregates an optimizer run
type Summary struct {
	Projects int
	Encoded  int
	Skipped  int // derivative already present and overwrite off
	Failed   []Failure
}

// Optimizer walks the projects tree and renders derivatives
type Optimizer struct {
	cfg    config.OptimizeConfig
	layout workspace.Layout
	log    *logrus.Entry
}

// New creates an Optimizer over cfg.Common.OutDir.
func New(cfg config.Config, log *logrus.Entry) (*Optimizer, error) {
	layout, err := workspace.New(cfg.Common.OutDir)
	if err != nil {
		return nil, err
	}
	return &Optimizer{cfg: cfg.Optimize, layout: layout, log: log}, nil
}

// Sizes returns the configured tiers.
func (o *Optimizer) Sizes() []Size {
	return SizesFor(o.cfg.Widths)
}

// SizesFor orders size tiers: known keys first (lg, md, sm), then any extra key by name.
func SizesFor(widths map[string]int) []Size {
	var sizes []Size
	known := make(map[string]bool)
	for _, key := range models.SizeKeys {
		known[key] = true
		if w, ok := widths[key]; ok {
			sizes = append(sizes, Size{Key: key, Width: w})
		}
	}
	var extra []string
	for key := range widths {
		if !known[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		sizes = append(sizes, Size{Key: key, Width: widths[key]})
	}
	return sizes
}

// DerivativeRel is the project-relative path of an original's derivative for a size.
func DerivativeRel(sizeKey, originalRel string) string {
	base := path.Base(originalRel)
	base = strings.TrimSuffix(base, path.Ext(base))
	return path.Join(workspace.OptimizedDir, sizeKey, base+DerivativeExt)
}

type project struct {
	slug string
	info models.ProjectInfo
}

type task struct {
	project int
	source  string
	size    Size
	outRel  string
}

type outcome struct {
	image   models.OptimizedImage
	skipped bool
	err     error
}

// Run renders every (project, original, size) derivative with one bounded pool across all projects,
// then rewrites each project's images.optimized. Projects without a readable project_info.json are skipped.
func (o *Optimizer) Run(ctx context.Context) (*Summary, error) {
	projects, err := o.loadProjects()
	if err != nil {
		return nil, err
	}
	sizes := o.Sizes()

	var tasks []task
	for pi, p := range projects {
		for _, orig := range p.info.Images.Original {
			if orig.File == "" {
				continue
			}
			for _, s := range sizes {
				tasks = append(tasks, task{project: pi, source: orig.File, size: s, outRel: DerivativeRel(s.Key, orig.File)})
			}
		}
	}
	o.log.WithFields(logrus.Fields{"projects": len(projects), "tasks": len(tasks), "concurrency": o.cfg.Concurrency}).Info("Optimize starting")

	outcomes := make([]outcome, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i, t := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = o.optimizeOne(projects[t.project].slug, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := &Summary{Projects: len(projects)}
	optimized := make([]map[string][]models.OptimizedImage, len(projects))
	for pi := range projects {
		optimized[pi] = make(map[string][]models.OptimizedImage, len(sizes))
		for _, s := range sizes {
			optimized[pi][s.Key] = []models.OptimizedImage{}
		}
	}
	for i, t := range tasks {
		out := outcomes[i]
		if out.err != nil {
			sum.Failed = append(sum.Failed, Failure{Slug: projects[t.project].slug, Source: t.source, Size: t.size.Key, Error: utils.ErrorCode(out.err)})
			continue
		}
		if out.skipped {
			sum.Skipped++
		} else {
			sum.Encoded++
		}
		optimized[t.project][t.size.Key] = append(optimized[t.project][t.size.Key], out.image)
	}

	for pi, p := range projects {
		p.info.Images.Optimized = optimized[pi]
		if err := manifest.WriteJSON(o.layout.ProjectInfo(p.slug), p.info); err != nil {
			return nil, err
		}
		o.log.WithField("slug", p.slug).Infof("Optimized %s", p.slug)
	}

	o.log.WithFields(logrus.Fields{"encoded": sum.Encoded, "skipped": sum.Skipped, "failed": len(sum.Failed)}).Info("Optimize finished")
	return sum, nil
}

func (o *Optimizer) loadProjects() ([]project, error) {
	slugs, err := o.layout.ProjectSlugs()
	if err != nil {
		return nil, err
	}
	if o.cfg.MaxProjects > 0 && len(slugs) > o.cfg.MaxProjects {
		slugs = slugs[:o.cfg.MaxProjects]
	}

	projects := make([]project, 0, len(slugs))
	for _, slug := range slugs {
		var info models.ProjectInfo
		if err := manifest.ReadJSON(o.layout.ProjectInfo(slug), manifest.SchemaProjectInfo, &info); err != nil {
			if manifest.IsMissing(err) {
				o.log.WithField("slug", slug).Debug("No project_info.json, skipping")
			} else {
				o.log.WithField("slug", slug).Warnf("Unreadable project_info.json, skipping: %v", err)
			}
			continue
		}
		projects = append(projects, project{slug: slug, info: info})
	}
	return projects, nil
}

// optimizeOne renders a single derivative. An existing derivative is kept unless Overwrite is set,
// but its dimensions are always read back from disk.
func (o *Optimizer) optimizeOne(slug string, t task) outcome {
	outPath := o.layout.ProjectFile(slug, t.outRel)
	entry := models.OptimizedImage{Source: t.source, File: t.outRel}
	taskLog := o.log.WithFields(logrus.Fields{"slug": slug, "file": t.source, "size": t.size.Key})

	if !o.cfg.Overwrite {
		if w, h, err := Dimensions(outPath); err == nil {
			entry.Width, entry.Height = w, h
			return outcome{image: entry, skipped: true}
		}
	}

	img, err := imaging.Open(o.layout.ProjectFile(slug, t.source), imaging.AutoOrientation(true))
	if err != nil {
		taskLog.Warnf("Cannot decode original: %v", err)
		if os.IsNotExist(err) {
			return outcome{err: fmt.Errorf("%w: %w", utils.ErrFilesystem, err)}
		}
		return outcome{err: fmt.Errorf("%w: %s: %w", utils.ErrImageDecode, t.source, err)}
	}

	resized := Fit(img, t.size.Width)
	var buf bytes.Buffer
	if err := webp.Encode(&buf, resized, &webp.Options{Quality: float32(o.cfg.Quality)}); err != nil {
		taskLog.Warnf("Encoding failed: %v", err)
		return outcome{err: fmt.Errorf("%w: encode %s: %w", utils.ErrImageDecode, t.outRel, err)}
	}
	if err := manifest.WriteFileAtomic(outPath, buf.Bytes()); err != nil {
		taskLog.Warnf("Writing derivative failed: %v", err)
		return outcome{err: err}
	}

	// Read back so the manifest reflects what is on disk
	w, h, err := Dimensions(outPath)
	if err != nil {
		return outcome{err: err}
	}
	entry.Width, entry.Height = w, h
	taskLog.Debugf("Wrote %s (%dx%d)", t.outRel, w, h)
	return outcome{image: entry}
}

// Fit scales img down to maxWidth keeping its aspect ratio. Narrower images are returned unchanged.
func Fit(img image.Image, maxWidth int) image.Image {
	if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
		return img
	}
	return imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
}

// Dimensions decodes only the header of an image file.
func Dimensions(filePath string) (width, height int, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s: %w", utils.ErrImageDecode, filePath, err)
	}
	return cfg.Width, cfg.Height, nil
}

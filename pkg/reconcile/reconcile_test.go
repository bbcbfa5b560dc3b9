package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/contentstore"
	"github.com/LeeHome2/tedoori-pipeline/pkg/manifest"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
	"github.com/LeeHome2/tedoori-pipeline/pkg/workspace"
)

const cdn = "https://cdn.example/storage/v1/object/public/project-images/projects/"

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// writeProject writes a project_info.json with the given derivative counts and returns the
// projects-relative files of every derivative, medium first.
func writeProject(t *testing.T, layout workspace.Layout, slug, title string, mdCount, lgCount int) []string {
	t.Helper()
	info := models.ProjectInfo{
		Slug:     slug,
		Title:    title,
		Metadata: models.ProjectMetadata{Details: map[string]string{"lieu": "Paris"}},
		Images: models.ProjectImages{
			Original:  []models.OriginalImage{},
			Optimized: map[string][]models.OptimizedImage{},
		},
	}
	var files []string
	counts := []struct {
		size string
		n    int
	}{{models.SizeMedium, mdCount}, {models.SizeLarge, lgCount}}
	for _, c := range counts {
		size := c.size
		for i := range c.n {
			name := fmt.Sprintf("%s_20240101_%02d.jpg", slug, i+1)
			src := "images/original/" + name
			file := "images/optimized/" + size + "/" + name
			img := models.OptimizedImage{Source: src, File: file}
			if size == models.SizeLarge && i == 0 {
				img.Width, img.Height = 1920, 1280
			}
			info.Images.Optimized[size] = append(info.Images.Optimized[size], img)
			files = append(files, slug+"/"+file)
		}
	}
	require.NoError(t, manifest.WriteJSON(layout.ProjectInfo(slug), info))
	return files
}

func writeMapping(t *testing.T, layout workspace.Layout, records []models.UploadRecord) {
	t.Helper()
	require.NoError(t, manifest.WriteJSON(layout.UploadSummary(), models.UploadSummary{Mappings: records}))
}

func uploaded(files ...string) []models.UploadRecord {
	var out []models.UploadRecord
	for _, f := range files {
		out = append(out, models.UploadRecord{File: f, PublicURL: cdn + f, Uploaded: true})
	}
	return out
}

type fixture struct {
	cfg    config.Config
	layout workspace.Layout
	store  *contentstore.SQLiteStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Common.OutDir = t.TempDir()
	cfg.Reconcile.Store = "sqlite"
	layout, err := workspace.New(cfg.Common.OutDir)
	require.NoError(t, err)
	store, err := contentstore.OpenSQLite(cfg.SQLitePath())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &fixture{cfg: cfg, layout: layout, store: store}
}

func (f *fixture) run(t *testing.T) *models.UpsertReport {
	t.Helper()
	r, err := New(f.cfg, f.store, testLogger())
	require.NoError(t, err)
	var out bytes.Buffer
	r.SetOutput(&out)
	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Planned ")
	return rep
}

func planBySlug(rep *models.UpsertReport) map[string]models.PlanEntry {
	m := make(map[string]models.PlanEntry, len(rep.Planned))
	for _, p := range rep.Planned {
		m[p.Slug] = p
	}
	return m
}

func TestRun_DryRunByDefault(t *testing.T) {
	f := newFixture(t)
	files := writeProject(t, f.layout, "maison", "Maison", 2, 2)
	writeMapping(t, f.layout, uploaded(files...))

	rep := f.run(t)
	require.Len(t, rep.Planned, 1)
	p := rep.Planned[0]
	assert.Equal(t, models.PlanStatusDryRun, p.Status)
	assert.Equal(t, ModeInsert, p.Mode)
	assert.Equal(t, "maison", p.ID)
	assert.Equal(t, 1, p.DisplayOrder)
	assert.Equal(t, 2, p.GalleryCount)
	assert.Equal(t, cdn+"maison/images/optimized/md/maison_20240101_01.jpg", p.ImageURL)
	assert.False(t, rep.Apply)

	records, err := f.store.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records, "dry run must not write")

	var onDisk models.UpsertReport
	require.NoError(t, manifest.ReadJSON(f.layout.UpsertReport(), manifest.SchemaNone, &onDisk))
	assert.Equal(t, rep.Planned, onDisk.Planned)
	assert.Equal(t, utils.ToPosix(f.cfg.MappingFile()), onDisk.MappingFile)
}

func TestRun_SkipsProjectsWithoutMediumDerivatives(t *testing.T) {
	f := newFixture(t)
	f.cfg.Reconcile.Apply = true
	files := writeProject(t, f.layout, "sans-md", "Sans md", 0, 3)
	files = append(files, writeProject(t, f.layout, "complet", "Complet", 1, 1)...)
	writeMapping(t, f.layout, uploaded(files...))

	rep := f.run(t)
	plan := planBySlug(rep)
	require.Len(t, plan, 2)

	skipped := plan["sans-md"]
	assert.Equal(t, models.PlanStatusSkippedMissing, skipped.Status)
	assert.Empty(t, skipped.Mode)
	assert.Zero(t, skipped.GalleryCount)
	assert.Equal(t, models.PlanStatusApplied, plan["complet"].Status)

	records, err := f.store.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "complet", records[0].Slug)
}

func TestRun_SkipsProjectsWithUnresolvedGallery(t *testing.T) {
	f := newFixture(t)
	files := writeProject(t, f.layout, "maison", "Maison", 1, 2)
	// Only the medium derivative is mapped; large ones failed or were dry runs
	mapping := uploaded(files[0])
	for _, file := range files[1:] {
		mapping = append(mapping, models.UploadRecord{File: file, PublicURL: cdn + file, DryRun: true})
	}
	writeMapping(t, f.layout, mapping)

	rep := f.run(t)
	require.Len(t, rep.Planned, 1)
	assert.Equal(t, models.PlanStatusSkippedMissing, rep.Planned[0].Status)
}

func TestRun_ApplyWritesRecords(t *testing.T) {
	f := newFixture(t)
	f.cfg.Reconcile.Apply = true
	files := writeProject(t, f.layout, "maison", "Maison", 1, 2)
	writeMapping(t, f.layout, uploaded(files...))

	rep := f.run(t)
	require.Len(t, rep.Planned, 1)
	assert.Equal(t, models.PlanStatusApplied, rep.Planned[0].Status)

	records, err := f.store.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "maison", rec.ID)
	assert.Equal(t, "/projet/maison", rec.Link)
	assert.Equal(t, "public", rec.IsVisible)
	assert.Equal(t, map[string]string{"lieu": "Paris"}, rec.Details)
	require.Len(t, rec.Gallery, 2)

	var first, second models.GalleryItem
	require.NoError(t, json.Unmarshal(rec.Gallery[0], &first))
	require.NoError(t, json.Unmarshal(rec.Gallery[1], &second))
	assert.Equal(t, "image", first.Type)
	assert.Equal(t, 1920, first.Width)
	assert.Equal(t, 1280, first.Height)
	assert.Equal(t, DefaultWidth, second.Width, "unknown dimensions fall back to defaults")
	assert.Equal(t, DefaultHeight, second.Height)
	assert.Equal(t, "Maison", first.Alt)
	assert.Equal(t, "public", first.Visibility)
	assert.Equal(t, GalleryItemID("maison", "images/optimized/lg/maison_20240101_01.jpg", first.Src), first.ID)

	// A second apply produces identical ids
	rep2 := f.run(t)
	assert.Equal(t, ModeUpdate, rep2.Planned[0].Mode)
	again, err := f.store.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rec.Gallery, again[0].Gallery)
}

func TestRun_OrderingKeepsExistingAndAppendsNew(t *testing.T) {
	f := newFixture(t)
	f.cfg.Reconcile.Apply = true
	ctx := context.Background()
	require.NoError(t, f.store.UpsertProject(ctx, models.ProjectRecord{ID: "uuid-1", Title: "Old", Slug: "ancien", IsVisible: "public", DisplayOrder: 7}))
	require.NoError(t, f.store.UpsertProject(ctx, models.ProjectRecord{ID: "uuid-2", Title: "Other", Slug: "autre", IsVisible: "public", DisplayOrder: 3}))

	var files []string
	files = append(files, writeProject(t, f.layout, "ancien", "Ancien", 1, 1)...)
	files = append(files, writeProject(t, f.layout, "b-nouveau", "B", 1, 1)...)
	files = append(files, writeProject(t, f.layout, "c-nouveau", "C", 1, 1)...)
	writeMapping(t, f.layout, uploaded(files...))

	plan := planBySlug(f.run(t))
	assert.Equal(t, 7, plan["ancien"].DisplayOrder)
	assert.Equal(t, "uuid-1", plan["ancien"].ID)
	assert.Equal(t, ModeUpdate, plan["ancien"].Mode)
	assert.Equal(t, 8, plan["b-nouveau"].DisplayOrder)
	assert.Equal(t, 9, plan["c-nouveau"].DisplayOrder)
	assert.Equal(t, "b-nouveau", plan["b-nouveau"].ID)
}

func TestRun_MergeAppendsDeduplicated(t *testing.T) {
	f := newFixture(t)
	f.cfg.Reconcile.Apply = true
	f.cfg.Reconcile.Merge = true
	files := writeProject(t, f.layout, "maison", "Maison", 1, 2)
	writeMapping(t, f.layout, uploaded(files...))

	lg1 := cdn + "maison/images/optimized/lg/maison_20240101_01.jpg"
	existing := []json.RawMessage{
		json.RawMessage(`{"src":"https://elsewhere/photo.jpg","caption":"kept"}`),
		json.RawMessage(`{"src":"` + lg1 + `","id":"hand-made"}`),
	}
	require.NoError(t, f.store.UpsertProject(context.Background(), models.ProjectRecord{
		ID: "maison", Title: "Maison", Slug: "maison", IsVisible: "public", DisplayOrder: 1, Gallery: existing,
	}))

	rep := f.run(t)
	assert.Equal(t, 3, rep.Planned[0].GalleryCount)

	records, err := f.store.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, records[0].Gallery, 3)
	assert.JSONEq(t, string(existing[0]), string(records[0].Gallery[0]))
	assert.JSONEq(t, string(existing[1]), string(records[0].Gallery[1]))
	var appended models.GalleryItem
	require.NoError(t, json.Unmarshal(records[0].Gallery[2], &appended))
	assert.Equal(t, cdn+"maison/images/optimized/lg/maison_20240101_02.jpg", appended.Src)
}

func TestRun_ReplaceWithoutMerge(t *testing.T) {
	f := newFixture(t)
	f.cfg.Reconcile.Apply = true
	files := writeProject(t, f.layout, "maison", "Maison", 1, 1)
	writeMapping(t, f.layout, uploaded(files...))
	require.NoError(t, f.store.UpsertProject(context.Background(), models.ProjectRecord{
		ID: "maison", Title: "Maison", Slug: "maison", IsVisible: "public",
		Gallery: []json.RawMessage{json.RawMessage(`{"src":"https://elsewhere/photo.jpg"}`)},
	}))

	rep := f.run(t)
	assert.Equal(t, 1, rep.Planned[0].GalleryCount)
}

type failingStore struct {
	contentstore.Store
	listErr error
}

func (s failingStore) ListProjects(ctx context.Context) ([]models.ProjectRecord, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListProjects(ctx)
}

func (s failingStore) UpsertProject(_ context.Context, rec models.ProjectRecord) error {
	if rec.Slug == "casse" {
		return errors.New("database error: constraint violated")
	}
	return nil
}

func TestRun_WriteFailureIsPerProject(t *testing.T) {
	f := newFixture(t)
	f.cfg.Reconcile.Apply = true
	var files []string
	files = append(files, writeProject(t, f.layout, "casse", "Casse", 1, 1)...)
	files = append(files, writeProject(t, f.layout, "intact", "Intact", 1, 1)...)
	writeMapping(t, f.layout, uploaded(files...))

	r, err := New(f.cfg, failingStore{Store: f.store}, testLogger())
	require.NoError(t, err)
	r.SetOutput(io.Discard)
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	plan := planBySlug(rep)
	assert.Equal(t, models.PlanStatusError, plan["casse"].Status)
	assert.Contains(t, plan["casse"].Error, "constraint violated")
	assert.Equal(t, models.PlanStatusApplied, plan["intact"].Status)
}

func TestRun_FatalErrors(t *testing.T) {
	t.Run("missing mapping", func(t *testing.T) {
		f := newFixture(t)
		writeProject(t, f.layout, "maison", "Maison", 1, 1)
		r, err := New(f.cfg, f.store, testLogger())
		require.NoError(t, err)
		_, err = r.Run(context.Background())
		require.Error(t, err)
		assert.True(t, manifest.IsMissing(err))
	})

	t.Run("store read", func(t *testing.T) {
		f := newFixture(t)
		writeMapping(t, f.layout, nil)
		r, err := New(f.cfg, failingStore{Store: f.store, listErr: utils.ErrDatabase}, testLogger())
		require.NoError(t, err)
		_, err = r.Run(context.Background())
		assert.ErrorIs(t, err, utils.ErrDatabase)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t)
		writeProject(t, f.layout, "maison", "Maison", 1, 1)
		writeMapping(t, f.layout, nil)
		r, err := New(f.cfg, f.store, testLogger())
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = r.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRun_CustomMappingAndIgnoredDirs(t *testing.T) {
	f := newFixture(t)
	files := writeProject(t, f.layout, "maison", "Maison", 1, 1)
	// A directory without project_info.json and one without a title
	require.NoError(t, manifest.WriteJSON(filepath.Join(f.layout.ProjectDir("vide"), "download.json"), map[string]any{}))
	writeProject(t, f.layout, "sans-titre", "", 1, 1)

	custom := filepath.Join(f.cfg.Common.OutDir, "elsewhere", "mapping.json")
	require.NoError(t, manifest.WriteJSON(custom, models.UploadSummary{Mappings: uploaded(files...)}))
	f.cfg.Reconcile.MappingFile = custom

	rep := f.run(t)
	require.Len(t, rep.Planned, 1)
	assert.Equal(t, "maison", rep.Planned[0].Slug)
	assert.Equal(t, utils.ToPosix(custom), rep.MappingFile)
}

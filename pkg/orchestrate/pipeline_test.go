package orchestrate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/manifest"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

func testEnv(t *testing.T, mutate func(*config.Config)) (*Env, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Common.OutDir = t.TempDir()
	cfg.Common.Date = "20240102"
	cfg.Crawl.Delay = 0
	if mutate != nil {
		mutate(&cfg)
	}
	_, err := cfg.Validate()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	env, err := NewEnv(cfg, logger)
	require.NoError(t, err)
	var out bytes.Buffer
	env.Out = &out
	return env, &out
}

func TestNewEnv_FixedCrawlDelay(t *testing.T) {
	env, _ := testEnv(t, func(c *config.Config) { c.Crawl.Delay = 80 * time.Millisecond })
	assert.False(t, env.Limiter.Jittered())

	env.Limiter.UpdateLastRequestTime("tedoori.net")
	start := time.Now()
	require.NoError(t, env.Limiter.ApplyDelay(context.Background(), "tedoori.net", 0))
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
}

func TestNewPipeline_UnknownStage(t *testing.T) {
	env, _ := testEnv(t, nil)
	_, err := NewPipeline(env, StageCrawl, "publish")
	assert.ErrorIs(t, err, utils.ErrUnknownStage)
}

func TestPipeline_StopsAtFirstFailure(t *testing.T) {
	env, _ := testEnv(t, nil)
	var ran []string
	record := func(name string, err error) StageFunc {
		return func(context.Context, *Env) error {
			ran = append(ran, name)
			return err
		}
	}
	boom := errors.New("boom")

	p, err := NewPipeline(env, DefaultRunStages...)
	require.NoError(t, err)
	p.WithStage(StageCrawl, record(StageCrawl, nil)).
		WithStage(StageDownload, record(StageDownload, boom)).
		WithStage(StageOptimize, record(StageOptimize, nil)).
		WithStage(StageValidate, record(StageValidate, nil))

	results, err := p.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{StageCrawl, StageDownload}, ran)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.ErrorIs(t, results[1].Error, boom)
}

func TestPipeline_LockedOutputDir(t *testing.T) {
	env, _ := testEnv(t, nil)
	lock, err := env.Layout.AcquireLock()
	require.NoError(t, err)
	defer lock.Release()

	p, err := NewPipeline(env, StageValidate)
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, utils.ErrLocked)
}

func TestPipeline_ReleasesLock(t *testing.T) {
	env, _ := testEnv(t, nil)
	p, err := NewPipeline(env, StageValidate)
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	lock, err := env.Layout.AcquireLock()
	require.NoError(t, err)
	assert.NoError(t, lock.Release())
}

func TestPipeline_Cancelled(t *testing.T) {
	env, _ := testEnv(t, nil)
	p, err := NewPipeline(env, StageValidate)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestValidate_FailsOnErrors(t *testing.T) {
	env, out := testEnv(t, nil)
	require.NoError(t, os.MkdirAll(env.Layout.ProjectDir("maison"), 0755))

	err := Validate(context.Background(), env)
	assert.ErrorIs(t, err, utils.ErrValidationFailed)
	assert.Contains(t, out.String(), "Error: 1")
}

func TestUpload_RequiresCredentials(t *testing.T) {
	env, _ := testEnv(t, nil)
	assert.ErrorIs(t, Upload(context.Background(), env), utils.ErrMissingCredentials)
	assert.ErrorIs(t, UploadSFTP(context.Background(), env), utils.ErrMissingCredentials)
}

func TestUpsert_SQLiteBackend(t *testing.T) {
	env, out := testEnv(t, func(c *config.Config) { c.Reconcile.Store = "sqlite" })
	require.NoError(t, manifest.WriteJSON(env.Layout.UploadSummary(), models.UploadSummary{Mappings: []models.UploadRecord{}}))

	require.NoError(t, Upsert(context.Background(), env))
	assert.Contains(t, out.String(), "Planned 0 projects")
	assert.FileExists(t, env.Config.SQLitePath())
	assert.FileExists(t, env.Layout.UpsertReport())
}

func TestUpsert_PostgresNeedsURL(t *testing.T) {
	env, _ := testEnv(t, nil)
	assert.ErrorIs(t, Upsert(context.Background(), env), utils.ErrMissingCredentials)
}

// TestRun_EndToEnd drives crawl, download, optimize and validate against a fake site.
func TestRun_EndToEnd(t *testing.T) {
	pngData := pngBytes(t)
	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "User-agent: *\nAllow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><a href="/projet/maison-bleue">Maison</a></body></html>`)
	})
	mux.HandleFunc("/projet/maison-bleue", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><head><title>Maison Bleue</title></head><body><h1>Maison Bleue</h1>
			<img src="`+serverURL+`/img/1.png"><img src="/img/2.png"><img src="/img/3.png"></body></html>`)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	env, out := testEnv(t, func(c *config.Config) {
		c.Crawl.BaseURL = server.URL + "/"
		c.Crawl.MaxDepth = 1
		c.Optimize.Widths = map[string]int{"lg": 16, "md": 8, "sm": 4}
	})

	p, err := NewPipeline(env, DefaultRunStages...)
	require.NoError(t, err)
	results, err := p.Run(context.Background())
	require.NoError(t, err, out.String())
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.Success, r.Stage)
	}

	var projects []models.ProjectEntry
	require.NoError(t, manifest.ReadJSON(env.Layout.ProjectsManifest(), manifest.SchemaProjects, &projects))
	require.Len(t, projects, 1)
	slug := projects[0].Slug
	require.NotEmpty(t, slug)

	var info models.ProjectInfo
	require.NoError(t, manifest.ReadJSON(env.Layout.ProjectInfo(slug), manifest.SchemaProjectInfo, &info))
	assert.Len(t, info.Images.Original, 3)
	assert.Len(t, info.Images.Optimized["md"], 3)

	var rep models.ValidationReport
	require.NoError(t, manifest.ReadJSON(env.Layout.ValidationReport(), manifest.SchemaNone, &rep))
	assert.Equal(t, 1, rep.Summary.OK)
}

package orchestrate

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeeHome2/tedoori-pipeline/pkg/audit"
	"github.com/LeeHome2/tedoori-pipeline/pkg/contentstore"
	"github.com/LeeHome2/tedoori-pipeline/pkg/crawler"
	"github.com/LeeHome2/tedoori-pipeline/pkg/download"
	"github.com/LeeHome2/tedoori-pipeline/pkg/fetch"
	tlog "github.com/LeeHome2/tedoori-pipeline/pkg/log"
	"github.com/LeeHome2/tedoori-pipeline/pkg/optimize"
	"github.com/LeeHome2/tedoori-pipeline/pkg/reconcile"
	"github.com/LeeHome2/tedoori-pipeline/pkg/state"
	"github.com/LeeHome2/tedoori-pipeline/pkg/upload"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// Stage names
const (
	StageCrawl      = "crawl"
	StageDownload   = "download"
	StageOptimize   = "optimize"
	StageUpload     = "upload"
	StageUploadSFTP = "upload-sftp"
	StageUpsert     = "upsert"
	StageValidate   = "validate"
)

// DefaultRunStages is the chain of the run command: everything that needs no remote credentials.
var DefaultRunStages = []string{StageCrawl, StageDownload, StageOptimize, StageValidate}

// StageFunc runs one stage against env
type StageFunc func(ctx context.Context, env *Env) error

var stages = map[string]StageFunc{
	StageCrawl:      Crawl,
	StageDownload:   Download,
	StageOptimize:   Optimize,
	StageUpload:     Upload,
	StageUploadSFTP: UploadSFTP,
	StageUpsert:     Upsert,
	StageValidate:   Validate,
}

// Lookup returns the stage registered under name.
func Lookup(name string) (StageFunc, error) {
	fn, ok := stages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", utils.ErrUnknownStage, name)
	}
	return fn, nil
}

// Crawl discovers project pages (or scrapes the configured URL list) and writes the crawl manifests.
func Crawl(ctx context.Context, env *Env) error {
	log := tlog.ForStage(env.Logger, StageCrawl)
	robots := fetch.NewRobotsHandler(env.Fetcher, env.Limiter, log)
	session, err := crawler.NewSession(env.Config, env.Fetcher, robots, env.Limiter, log)
	if err != nil {
		return err
	}

	var res *crawler.Result
	if file := env.Config.Crawl.URLFile; file != "" {
		urls, err := crawler.ReadURLFile(file)
		if err != nil {
			return err
		}
		res, err = session.ScrapeURLs(ctx, urls)
		if err != nil {
			return err
		}
	} else {
		res, err = session.Run(ctx)
		if err != nil {
			return err
		}
	}

	if err := crawler.WriteResult(env.Layout, res); err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "Found %d project URLs\n", len(res.ProjectURLs))
	return nil
}

// Download fetches the images listed in _scrape/projects.json.
func Download(ctx context.Context, env *Env) error {
	log := tlog.ForStage(env.Logger, StageDownload)
	projects, err := download.LoadProjects(env.Layout)
	if err != nil {
		return err
	}
	d, err := download.New(env.Config, env.Fetcher, log)
	if err != nil {
		return err
	}
	sum, err := d.Run(ctx, projects)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "Downloaded %d images (%d failed) for %d projects\n", sum.Downloaded, sum.Failed, len(sum.Projects))
	return nil
}

// Optimize renders the size derivatives of every downloaded original.
func Optimize(ctx context.Context, env *Env) error {
	o, err := optimize.New(env.Config, tlog.ForStage(env.Logger, StageOptimize))
	if err != nil {
		return err
	}
	sum, err := o.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "Optimized %d projects: %d encoded, %d skipped, %d failed\n", sum.Projects, sum.Encoded, sum.Skipped, len(sum.Failed))
	return nil
}

// Upload pushes the JPEG derivatives to object storage.
func Upload(ctx context.Context, env *Env) error {
	cfg := env.Config
	if err := cfg.RequireSupabase(); err != nil {
		return err
	}
	log := tlog.ForStage(env.Logger, StageUpload)
	store := upload.NewSupabaseStore(cfg.Supabase, env.Client, log)

	var ledger state.UploadLedger
	if cfg.Upload.Incremental {
		bl, err := state.OpenBadgerLedger(env.Layout.UploadLedgerDir(), false, log)
		if err != nil {
			return err
		}
		defer bl.Close()
		gcCtx, stopGC := context.WithCancel(ctx)
		defer stopGC()
		go bl.RunGC(gcCtx, 5*time.Minute)
		ledger = bl
	}

	var notifier upload.Notifier
	if cfg.Upload.WebhookURL != "" {
		notifier = upload.NewWebhookNotifier(cfg.Upload.WebhookURL, env.Client)
	}

	u, err := upload.NewObjectUploader(cfg, store, ledger, notifier, log)
	if err != nil {
		return err
	}
	u.SetOutput(env.Out)
	_, err = u.Run(ctx)
	return err
}

// UploadSFTP pushes every derivative to the file server.
func UploadSFTP(ctx context.Context, env *Env) error {
	cfg := env.Config
	if !cfg.SFTP.DryRun {
		if err := cfg.RequireSFTP(); err != nil {
			return err
		}
	}
	log := tlog.ForStage(env.Logger, StageUploadSFTP)
	u, err := upload.NewSFTPUploader(cfg, upload.NewSSHDialer(cfg.SFTP, log), log)
	if err != nil {
		return err
	}
	u.SetOutput(env.Out)
	_, err = u.Run(ctx)
	return err
}

// Upsert reconciles the upload mapping into the content store.
func Upsert(ctx context.Context, env *Env) error {
	cfg := env.Config
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	log := tlog.ForStage(env.Logger, StageUpsert)
	store, err := OpenContentStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := reconcile.New(cfg, store, log)
	if err != nil {
		return err
	}
	r.SetOutput(env.Out)
	_, err = r.Run(ctx)
	return err
}

// OpenContentStore opens the backend selected by reconcile.store and makes sure its table exists.
func OpenContentStore(ctx context.Context, env *Env) (contentstore.Store, error) {
	cfg := env.Config
	switch cfg.Reconcile.Store {
	case "sqlite":
		return contentstore.OpenSQLite(cfg.SQLitePath())
	case "postgres":
		pg, err := contentstore.ConnectPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	}
	return nil, fmt.Errorf("%w: unknown content store %q", utils.ErrConfigValidation, cfg.Reconcile.Store)
}

// Validate audits the asset tree. Error-level findings fail the stage with ErrValidationFailed.
func Validate(ctx context.Context, env *Env) error {
	a, err := audit.New(env.Config, tlog.ForStage(env.Logger, StageValidate))
	if err != nil {
		return err
	}
	a.SetOutput(env.Out)
	rep, err := a.Run(ctx)
	if err != nil {
		return err
	}
	if rep.HasErrors() {
		return fmt.Errorf("%w: %d of %d projects", utils.ErrValidationFailed, rep.Summary.Error, rep.Summary.ProjectCount)
	}
	return nil
}

// stageLogger is the entry used for pipeline-level lines
func stageLogger(env *Env) *logrus.Entry {
	return env.Logger.WithField("stage", "pipeline")
}

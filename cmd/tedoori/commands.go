package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/orchestrate"
)

// stageCommand builds a subcommand that runs one stage with its own flags.
func stageCommand(cc *commandContext, use, short string, bind func(*binder)) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: short, Args: cobra.NoArgs}
	b := newBinder(cmd.Flags())
	if bind != nil {
		bind(b)
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cc.runStages(cmd, b, use)
	}
	return cmd
}

func bindCrawlFlags(b *binder) {
	b.String("base-url", "Site to crawl", func(c *config.Config) *string { return &c.Crawl.BaseURL })
	b.Bool("force", "Ignore robots.txt", func(c *config.Config) *bool { return &c.Crawl.Force })
	b.Int("max-pages", "Maximum pages to visit", func(c *config.Config) *int { return &c.Crawl.MaxPages })
	b.Int("max-depth", "Maximum link depth from the homepage", func(c *config.Config) *int { return &c.Crawl.MaxDepth })
	b.Millis("delay-ms", "Pause before every page fetch", func(c *config.Config) *time.Duration { return &c.Crawl.Delay })
	b.Bool("save-html", "Keep the homepage HTML", func(c *config.Config) *bool { return &c.Crawl.SaveHTML })
	b.Int("limit", "Maximum project URLs (0 = unlimited)", func(c *config.Config) *int { return &c.Crawl.Limit })
	b.Bool("with-images", "Scrape project pages for images", func(c *config.Config) *bool { return &c.Crawl.WithImages })
	b.Int("project-concurrency", "Concurrent project page fetches", func(c *config.Config) *int { return &c.Crawl.ProjectConcurrency })
	b.Bool("check-external-robots", "Drop images disallowed by their origin's robots.txt", func(c *config.Config) *bool { return &c.Crawl.CheckExternalRobots })
	b.String("url-file", "Scrape the URLs listed in this file instead of crawling", func(c *config.Config) *string { return &c.Crawl.URLFile })
	b.Int("min-images", "Images that make an unrecognized page a project page", func(c *config.Config) *int { return &c.Crawl.MinImages })
}

func newCrawlCommand(cc *commandContext) *cobra.Command {
	return stageCommand(cc, orchestrate.StageCrawl, "Discover project pages and their images", bindCrawlFlags)
}

func newDownloadCommand(cc *commandContext) *cobra.Command {
	return stageCommand(cc, orchestrate.StageDownload, "Download the images listed in projects.json", func(b *binder) {
		b.Int("concurrency", "Concurrent downloads per project", func(c *config.Config) *int { return &c.Download.Concurrency })
		b.Bool("dry-run", "Plan without network or disk I/O", func(c *config.Config) *bool { return &c.Download.DryRun })
		b.Int("max-projects", "Maximum projects (0 = all)", func(c *config.Config) *int { return &c.Download.MaxProjects })
		b.Int("max-images", "Maximum images per project (0 = all)", func(c *config.Config) *int { return &c.Download.MaxImages })
		b.Int("max-per-host", "Concurrent downloads per host (0 = no cap)", func(c *config.Config) *int { return &c.Download.MaxPerHost })
	})
}

func newOptimizeCommand(cc *commandContext) *cobra.Command {
	return stageCommand(cc, orchestrate.StageOptimize, "Render lg/md/sm derivatives", func(b *binder) {
		b.Int("concurrency", "Concurrent encodes", func(c *config.Config) *int { return &c.Optimize.Concurrency })
		b.Int("quality", "JPEG quality 1-100", func(c *config.Config) *int { return &c.Optimize.Quality })
		b.Bool("overwrite", "Re-encode existing derivatives", func(c *config.Config) *bool { return &c.Optimize.Overwrite })
		b.Int("max-projects", "Maximum projects (0 = all)", func(c *config.Config) *int { return &c.Optimize.MaxProjects })
	})
}

func newUploadCommand(cc *commandContext) *cobra.Command {
	return stageCommand(cc, orchestrate.StageUpload, "Upload derivatives to object storage", func(b *binder) {
		b.Bool("dry-run", "Plan without uploading", func(c *config.Config) *bool { return &c.Upload.DryRun })
		b.Bool("overwrite", "Upsert existing objects", func(c *config.Config) *bool { return &c.Upload.Overwrite })
		b.Int("concurrency", "Concurrent uploads", func(c *config.Config) *int { return &c.Upload.Concurrency })
		b.Bool("verify-checksum", "Re-download and compare SHA-256", func(c *config.Config) *bool { return &c.Upload.VerifyChecksum })
		b.Int("retries", "Retries per file", func(c *config.Config) *int { return &c.Upload.Retries })
		b.Millis("retry-base-delay-ms", "First retry delay", func(c *config.Config) *time.Duration { return &c.Upload.RetryBaseDelay })
		b.Float("retry-factor", "Backoff multiplier", func(c *config.Config) *float64 { return &c.Upload.RetryFactor })
		b.String("cache-control", "Cache-Control max-age in seconds", func(c *config.Config) *string { return &c.Upload.CacheControl })
		b.Int("max-files", "Maximum files (0 = all)", func(c *config.Config) *int { return &c.Upload.MaxFiles })
		b.Float("max-file-mb", "Skip files above this size", func(c *config.Config) *float64 { return &c.Upload.MaxFileMB })
		b.Float("verify-max-mb", "Verify files up to this size", func(c *config.Config) *float64 { return &c.Upload.VerifyMaxMB })
		b.String("prefix", "Object key prefix", func(c *config.Config) *string { return &c.Upload.Prefix })
		b.String("webhook-url", "POST a summary here when the upload finishes", func(c *config.Config) *string { return &c.Upload.WebhookURL })
		b.Bool("incremental", "Skip files whose checksum is already uploaded", func(c *config.Config) *bool { return &c.Upload.Incremental })
		b.String("bucket", "Storage bucket", func(c *config.Config) *string { return &c.Supabase.Bucket })
	})
}

func newUploadSFTPCommand(cc *commandContext) *cobra.Command {
	return stageCommand(cc, orchestrate.StageUploadSFTP, "Upload derivatives to a file server over SFTP", func(b *binder) {
		b.Bool("dry-run", "Plan without connecting", func(c *config.Config) *bool { return &c.SFTP.DryRun })
		b.Bool("overwrite", "Replace existing remote files", func(c *config.Config) *bool { return &c.SFTP.Overwrite })
		b.Int("concurrency", "Concurrent transfers", func(c *config.Config) *int { return &c.SFTP.Concurrency })
		b.Int("max-files", "Maximum files (0 = all)", func(c *config.Config) *int { return &c.SFTP.MaxFiles })
		b.String("remote-base", "Remote directory for projects/", func(c *config.Config) *string { return &c.SFTP.RemoteBase })
		b.String("public-base-url", "Public URL of the remote base", func(c *config.Config) *string { return &c.SFTP.PublicBaseURL })
	})
}

func newUpsertCommand(cc *commandContext) *cobra.Command {
	return stageCommand(cc, orchestrate.StageUpsert, "Reconcile uploaded images into the content store", func(b *binder) {
		b.Bool("apply", "Write records (default is a dry-run plan)", func(c *config.Config) *bool { return &c.Reconcile.Apply })
		b.Bool("merge", "Append to existing galleries instead of replacing them", func(c *config.Config) *bool { return &c.Reconcile.Merge })
		b.String("mapping", "Upload mapping file", func(c *config.Config) *string { return &c.Reconcile.MappingFile })
		b.String("store", "Content store backend: postgres or sqlite", func(c *config.Config) *string { return &c.Reconcile.Store })
	})
}

func newValidateCommand(cc *commandContext) *cobra.Command {
	return stageCommand(cc, orchestrate.StageValidate, "Audit the asset tree; exits 1 on error-level findings", func(b *binder) {
		b.Int("concurrency", "Concurrent file checks", func(c *config.Config) *int { return &c.Audit.Concurrency })
		b.Bool("check-dimensions", "Decode derivatives to check their dimensions", func(c *config.Config) *bool { return &c.Audit.CheckDimensions })
	})
}

func newRunCommand(cc *commandContext) *cobra.Command {
	var stages []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run crawl, download, optimize and validate in one go",
		Args:  cobra.NoArgs,
	}
	b := newBinder(cmd.Flags())
	bindCrawlFlags(b)
	cmd.Flags().StringSliceVar(&stages, "stages", orchestrate.DefaultRunStages, "Stages to run, in order")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cc.runStages(cmd, b, stages...)
	}
	return cmd
}

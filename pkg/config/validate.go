package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

var validate = validator.New()

// Validate applies defaults to out-of-range values, normalizes URLs and checks struct tags.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *Config) Validate() (warnings []string, err error) {
	d := Default()

	// Worker counts
	fixPositive := func(name string, v *int, def int) {
		if *v <= 0 {
			warnings = append(warnings, fmt.Sprintf("%s should be > 0, defaulting to %d", name, def))
			*v = def
		}
	}
	fixPositive("crawl.project_concurrency", &c.Crawl.ProjectConcurrency, d.Crawl.ProjectConcurrency)
	fixPositive("download.concurrency", &c.Download.Concurrency, d.Download.Concurrency)
	fixPositive("optimize.concurrency", &c.Optimize.Concurrency, d.Optimize.Concurrency)
	fixPositive("upload.concurrency", &c.Upload.Concurrency, d.Upload.Concurrency)
	fixPositive("sftp.concurrency", &c.SFTP.Concurrency, d.SFTP.Concurrency)
	fixPositive("validate.concurrency", &c.Audit.Concurrency, d.Audit.Concurrency)
	fixPositive("crawl.max_pages", &c.Crawl.MaxPages, d.Crawl.MaxPages)

	// Quality
	if c.Optimize.Quality < 1 || c.Optimize.Quality > 100 {
		warnings = append(warnings, fmt.Sprintf("optimize.quality %d out of range 1-100, defaulting to %d", c.Optimize.Quality, d.Optimize.Quality))
		c.Optimize.Quality = d.Optimize.Quality
	}
	if len(c.Optimize.Widths) == 0 {
		c.Optimize.Widths = DefaultWidths()
	}

	// Retry policy
	if c.Upload.Retries < 0 {
		warnings = append(warnings, "upload.retries cannot be negative, setting to 0")
		c.Upload.Retries = 0
	}
	if c.Upload.RetryFactor < 1 {
		warnings = append(warnings, fmt.Sprintf("upload.retry_factor %.2f < 1, defaulting to %.0f", c.Upload.RetryFactor, d.Upload.RetryFactor))
		c.Upload.RetryFactor = d.Upload.RetryFactor
	}
	if c.Upload.RetryBaseDelay < 0 {
		c.Upload.RetryBaseDelay = 0
	}
	if c.Upload.MaxFileMB <= 0 {
		warnings = append(warnings, fmt.Sprintf("upload.max_file_mb should be > 0, defaulting to %.0f", d.Upload.MaxFileMB))
		c.Upload.MaxFileMB = d.Upload.MaxFileMB
	}

	// Crawl delay
	if c.Crawl.Delay < 0 {
		warnings = append(warnings, "crawl.delay cannot be negative, setting to 0")
		c.Crawl.Delay = 0
	}
	if c.Crawl.Delay > 0 && c.Crawl.Delay < 50*time.Millisecond {
		warnings = append(warnings, fmt.Sprintf("crawl.delay %v is very low for a shared origin", c.Crawl.Delay))
	}
	if c.Crawl.Force {
		warnings = append(warnings, "crawl.force is set: robots.txt will be ignored")
	}

	c.Crawl.BaseURL = ensureTrailingSlash(strings.TrimSpace(c.Crawl.BaseURL))
	c.Supabase.URL = strings.TrimRight(strings.TrimSpace(c.Supabase.URL), "/")
	c.SFTP.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.SFTP.PublicBaseURL), "/")
	c.Upload.Prefix = strings.Trim(c.Upload.Prefix, "/")
	c.Reconcile.Store = strings.ToLower(strings.TrimSpace(c.Reconcile.Store))

	c.validateHTTPClientSettings()

	if _, err := utils.CompileRegexPatterns(c.Crawl.ProjectPatterns); err != nil {
		return warnings, err
	}

	if err := validate.Struct(c); err != nil {
		return warnings, fmt.Errorf("%w: %s", utils.ErrConfigValidation, describeValidation(err))
	}
	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *Config) validateHTTPClientSettings() {
	h := &c.HTTPClient
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s fails %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			parts = append(parts, fmt.Sprintf("%s fails %s (got %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return strings.Join(parts, "; ")
}

func ensureTrailingSlash(u string) string {
	if u == "" || strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// RequireSupabase checks object storage credentials; only the stages that talk to storage call it.
func (c *Config) RequireSupabase() error {
	if c.Supabase.URL == "" {
		return fmt.Errorf("%w: missing NEXT_PUBLIC_SUPABASE_URL", utils.ErrMissingCredentials)
	}
	if c.Supabase.ServiceRoleKey == "" {
		return fmt.Errorf("%w: missing SUPABASE_SERVICE_ROLE_KEY", utils.ErrMissingCredentials)
	}
	if _, err := url.ParseRequestURI(c.Supabase.URL); err != nil {
		return fmt.Errorf("%w: invalid NEXT_PUBLIC_SUPABASE_URL: %w", utils.ErrConfigValidation, err)
	}
	return nil
}

// RequireSFTP checks file-server credentials.
func (c *Config) RequireSFTP() error {
	if c.SFTP.Host == "" {
		return fmt.Errorf("%w: missing SFTP_HOST", utils.ErrMissingCredentials)
	}
	if c.SFTP.Username == "" {
		return fmt.Errorf("%w: missing SFTP_USERNAME", utils.ErrMissingCredentials)
	}
	if c.SFTP.Password == "" && c.SFTP.PrivateKeyPath == "" {
		return fmt.Errorf("%w: set SFTP_PASSWORD or SFTP_PRIVATE_KEY_PATH", utils.ErrMissingCredentials)
	}
	return nil
}

// RequireDatabase checks the content store location for the selected backend.
func (c *Config) RequireDatabase() error {
	if c.Reconcile.Store == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("%w: missing DATABASE_URL for the postgres content store", utils.ErrMissingCredentials)
	}
	return nil
}

package config

import (
	"strconv"
	"strings"
	"time"
)

// LookupFunc reads one environment variable; os.LookupEnv in production.
type LookupFunc func(key string) (string, bool)

// ParseBool accepts true/1/yes/y and false/0/no/n case-insensitively.
// Anything else yields def.
func ParseBool(value string, def bool) bool {
	if v, ok := LookupBool(value); ok {
		return v
	}
	return def
}

// LookupBool reports the boolean a literal spells and whether it is one of the accepted literals.
func LookupBool(value string) (v bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	}
	return false, false
}

// envReader applies typed environment overrides; unparseable numbers keep the current value.
type envReader struct {
	lookup LookupFunc
}

func (r envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (r envReader) boolean(key string, dst *bool) {
	if v, ok := r.lookup(key); ok {
		*dst = ParseBool(v, *dst)
	}
}

func (r envReader) integer(key string, dst *int) {
	if v, ok := r.lookup(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func (r envReader) float(key string, dst *float64) {
	if v, ok := r.lookup(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func (r envReader) millis(key string, dst *time.Duration) {
	if v, ok := r.lookup(key); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

// ApplyEnv overlays environment variables onto c.
func ApplyEnv(c *Config, lookup LookupFunc) {
	r := envReader{lookup: lookup}

	r.str("TEDOORI_OUT_DIR", &c.Common.OutDir)
	r.str("TEDOORI_USER_AGENT", &c.Common.UserAgent)
	r.str("TEDOORI_DATE", &c.Common.Date)
	r.str("TEDOORI_LOG_LEVEL", &c.Common.LogLevel)

	r.str("TEDOORI_BASE_URL", &c.Crawl.BaseURL)
	r.boolean("TEDOORI_FORCE", &c.Crawl.Force)
	r.integer("TEDOORI_MAX_PAGES", &c.Crawl.MaxPages)
	r.integer("TEDOORI_MAX_DEPTH", &c.Crawl.MaxDepth)
	r.millis("TEDOORI_DELAY_MS", &c.Crawl.Delay)
	r.boolean("TEDOORI_SAVE_HTML", &c.Crawl.SaveHTML)
	r.integer("TEDOORI_PROJECT_CONCURRENCY", &c.Crawl.ProjectConcurrency)

	r.integer("TEDOORI_DOWNLOAD_CONCURRENCY", &c.Download.Concurrency)

	r.integer("TEDOORI_OPTIMIZE_CONCURRENCY", &c.Optimize.Concurrency)
	r.integer("TEDOORI_QUALITY", &c.Optimize.Quality)

	r.integer("TEDOORI_UPLOAD_CONCURRENCY", &c.Upload.Concurrency)
	r.integer("TEDOORI_UPLOAD_RETRIES", &c.Upload.Retries)
	r.millis("TEDOORI_UPLOAD_RETRY_BASE_DELAY_MS", &c.Upload.RetryBaseDelay)
	r.float("TEDOORI_UPLOAD_RETRY_FACTOR", &c.Upload.RetryFactor)
	r.str("TEDOORI_UPLOAD_CACHE_CONTROL", &c.Upload.CacheControl)
	r.float("TEDOORI_UPLOAD_MAX_FILE_MB", &c.Upload.MaxFileMB)
	r.float("TEDOORI_UPLOAD_VERIFY_MAX_MB", &c.Upload.VerifyMaxMB)
	r.str("TEDOORI_UPLOAD_PREFIX", &c.Upload.Prefix)
	r.str("TEDOORI_UPLOAD_WEBHOOK_URL", &c.Upload.WebhookURL)

	r.str("NEXT_PUBLIC_SUPABASE_URL", &c.Supabase.URL)
	r.str("SUPABASE_SERVICE_ROLE_KEY", &c.Supabase.ServiceRoleKey)
	r.str("TEDOORI_SUPABASE_BUCKET", &c.Supabase.Bucket)

	r.str("SFTP_HOST", &c.SFTP.Host)
	r.integer("SFTP_PORT", &c.SFTP.Port)
	r.str("SFTP_USERNAME", &c.SFTP.Username)
	r.str("SFTP_PASSWORD", &c.SFTP.Password)
	r.str("SFTP_PRIVATE_KEY_PATH", &c.SFTP.PrivateKeyPath)
	r.str("SFTP_KNOWN_HOSTS", &c.SFTP.KnownHostsPath)
	r.str("SFTP_REMOTE_BASE", &c.SFTP.RemoteBase)
	r.str("SFTP_PUBLIC_BASE_URL", &c.SFTP.PublicBaseURL)
	// The SFTP uploader shares the upload worker count unless configured separately
	r.integer("TEDOORI_UPLOAD_CONCURRENCY", &c.SFTP.Concurrency)

	r.str("DATABASE_URL", &c.Database.URL)
	r.str("TEDOORI_SQLITE_PATH", &c.Database.SQLitePath)
	r.str("TEDOORI_CONTENT_STORE", &c.Reconcile.Store)
}

package config

import (
	"path/filepath"
	"time"
)

// DefaultUserAgent is a desktop browser UA; the source site serves reduced markup to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config is assembled once at entry and passed by value into each stage
type Config struct {
	Common     CommonConfig     `yaml:"common"`
	HTTPClient HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Crawl      CrawlConfig      `yaml:"crawl"`
	Download   DownloadConfig   `yaml:"download"`
	Optimize   OptimizeConfig   `yaml:"optimize"`
	Upload     UploadConfig     `yaml:"upload"`
	SFTP       SFTPConfig       `yaml:"sftp"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Audit      AuditConfig      `yaml:"validate"`
	Supabase   SupabaseConfig   `yaml:"supabase"`
	Database   DatabaseConfig   `yaml:"database"`
}

// CommonConfig holds settings shared by every stage
type CommonConfig struct {
	OutDir    string `yaml:"out_dir" validate:"required"`
	UserAgent string `yaml:"user_agent" validate:"required"`
	Date      string `yaml:"date" validate:"len=8,numeric"` // YYYYMMDD, names downloaded files
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout             time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns        int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	DialerTimeout       time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive     time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// CrawlConfig drives the crawler
type CrawlConfig struct {
	BaseURL             string        `yaml:"base_url" validate:"required,url"`
	Force               bool          `yaml:"force"` // Ignore robots.txt
	MaxPages            int           `yaml:"max_pages" validate:"gte=1"`
	MaxDepth            int           `yaml:"max_depth" validate:"gte=0"`
	Delay               time.Duration `yaml:"delay" validate:"gte=0"` // Fixed pause before every page fetch
	SaveHTML            bool          `yaml:"save_html"`
	Limit               int           `yaml:"limit" validate:"gte=0"` // Max project URLs, 0 = unlimited
	WithImages          bool          `yaml:"with_images"`
	ProjectConcurrency  int           `yaml:"project_concurrency" validate:"gte=1"`
	CheckExternalRobots bool          `yaml:"check_external_robots"`
	URLFile             string        `yaml:"url_file,omitempty"` // Scrape a list of URLs instead of crawling

	// Page classification heuristic
	ProjectPatterns []string `yaml:"project_patterns,omitempty"` // Regexes against the URL path
	ListingPrefixes []string `yaml:"listing_prefixes,omitempty"`
	MinImages       int      `yaml:"min_images" validate:"gte=0"`
}

// DownloadConfig drives the downloader
type DownloadConfig struct {
	Concurrency int  `yaml:"concurrency" validate:"gte=1"`
	DryRun      bool `yaml:"dry_run"`
	MaxProjects int  `yaml:"max_projects" validate:"gte=0"`
	MaxImages   int  `yaml:"max_images" validate:"gte=0"`
	MaxPerHost  int  `yaml:"max_per_host" validate:"gte=0"` // 0 = no per-host cap beyond Concurrency
}

// OptimizeConfig drives the optimizer
type OptimizeConfig struct {
	Concurrency int            `yaml:"concurrency" validate:"gte=1"`
	Quality     int            `yaml:"quality" validate:"gte=1,lte=100"`
	Overwrite   bool           `yaml:"overwrite"`
	MaxProjects int            `yaml:"max_projects" validate:"gte=0"`
	Widths      map[string]int `yaml:"widths,omitempty" validate:"dive,gte=1"` // size key -> max width
}

// UploadConfig drives the object-store uploader
type UploadConfig struct {
	DryRun         bool          `yaml:"dry_run"`
	Overwrite      bool          `yaml:"overwrite"`
	Concurrency    int           `yaml:"concurrency" validate:"gte=1"`
	VerifyChecksum bool          `yaml:"verify_checksum"`
	Retries        int           `yaml:"retries" validate:"gte=0"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"gte=0"`
	RetryFactor    float64       `yaml:"retry_factor" validate:"gte=1"`
	CacheControl   string        `yaml:"cache_control"`
	MaxFiles       int           `yaml:"max_files" validate:"gte=0"`
	MaxFileMB      float64       `yaml:"max_file_mb" validate:"gt=0"`
	VerifyMaxMB    float64       `yaml:"verify_max_mb" validate:"gte=0"`
	Prefix         string        `yaml:"prefix"`
	WebhookURL     string        `yaml:"webhook_url" validate:"omitempty,url"`
	Incremental    bool          `yaml:"incremental"`
}

// SFTPConfig drives the file-server uploader
type SFTPConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port" validate:"gte=1,lte=65535"`
	Username       string `yaml:"username"`
	Password       string `yaml:"-"`
	PrivateKeyPath string `yaml:"private_key_path"`
	KnownHostsPath string `yaml:"known_hosts_path"`
	RemoteBase     string `yaml:"remote_base" validate:"required"`
	PublicBaseURL  string `yaml:"public_base_url"`
	DryRun         bool   `yaml:"dry_run"`
	Overwrite      bool   `yaml:"overwrite"`
	Concurrency    int    `yaml:"concurrency" validate:"gte=1"`
	MaxFiles       int    `yaml:"max_files" validate:"gte=0"`
}

// ReconcileConfig drives the content-store upsert
type ReconcileConfig struct {
	Apply       bool   `yaml:"apply"`
	Merge       bool   `yaml:"merge"`
	MappingFile string `yaml:"mapping_file"` // Defaults to <out>/_scrape/upload-supabase.json
	Store       string `yaml:"store" validate:"oneof=postgres sqlite"`
}

// AuditConfig drives the validator stage
type AuditConfig struct {
	CheckDimensions bool `yaml:"check_dimensions"`
	Concurrency     int  `yaml:"concurrency" validate:"gte=1"`
}

// SupabaseConfig holds object storage credentials
type SupabaseConfig struct {
	URL            string `yaml:"url" validate:"omitempty,url"`
	ServiceRoleKey string `yaml:"-"`
	Bucket         string `yaml:"bucket" validate:"required"`
}

// DatabaseConfig locates the content store
type DatabaseConfig struct {
	URL        string `yaml:"-"`           // Postgres connection string (DATABASE_URL)
	SQLitePath string `yaml:"sqlite_path"` // Defaults to <out>/_state/content.db
}

// Default returns the hard defaults, the lowest-precedence layer.
func Default() Config {
	return Config{
		Common: CommonConfig{
			OutDir:    "assets",
			UserAgent: DefaultUserAgent,
			Date:      Today(),
			LogLevel:  "info",
		},
		Crawl: CrawlConfig{
			BaseURL:             "https://tedoori.net/",
			MaxPages:            50,
			MaxDepth:            2,
			Delay:               250 * time.Millisecond,
			WithImages:          true,
			ProjectConcurrency:  3,
			CheckExternalRobots: true,
			ProjectPatterns:     DefaultProjectPatterns(),
			ListingPrefixes:     []string{"/category/", "/tag/"},
			MinImages:           3,
		},
		Download: DownloadConfig{
			Concurrency: 3,
		},
		Optimize: OptimizeConfig{
			Concurrency: 2,
			Quality:     82,
			Widths:      DefaultWidths(),
		},
		Upload: UploadConfig{
			Overwrite:      true,
			Concurrency:    3,
			VerifyChecksum: true,
			Retries:        3,
			RetryBaseDelay: 500 * time.Millisecond,
			RetryFactor:    2,
			CacheControl:   "3600",
			MaxFileMB:      50,
			VerifyMaxMB:    20,
		},
		SFTP: SFTPConfig{
			Port:        22,
			RemoteBase:  "/projects",
			Overwrite:   true,
			Concurrency: 3,
		},
		Reconcile: ReconcileConfig{
			Store: "postgres",
		},
		Audit: AuditConfig{
			CheckDimensions: true,
			Concurrency:     4,
		},
		Supabase: SupabaseConfig{
			Bucket: "project-images",
		},
	}
}

// DefaultProjectPatterns match known project URL shapes.
func DefaultProjectPatterns() []string {
	return []string{"/projet/", "/project/", "/works/", "/work/", "/portfolio/", "^/entry/"}
}

// DefaultWidths are the derivative tiers: lg, md, sm.
func DefaultWidths() map[string]int {
	return map[string]int{"lg": 1920, "md": 1280, "sm": 640}
}

// Today returns the local date as YYYYMMDD.
func Today() string {
	return time.Now().Format("20060102")
}

// MappingFile returns the effective upload mapping path for the reconciler.
func (c Config) MappingFile() string {
	if c.Reconcile.MappingFile != "" {
		return c.Reconcile.MappingFile
	}
	return filepath.Join(c.Common.OutDir, "_scrape", "upload-supabase.json")
}

// SQLitePath returns the effective local content-store path.
func (c Config) SQLitePath() string {
	if c.Database.SQLitePath != "" {
		return c.Database.SQLitePath
	}
	return filepath.Join(c.Common.OutDir, "_state", "content.db")
}

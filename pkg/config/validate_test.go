package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

func TestValidate_AppliesDefaults(t *testing.T) {
	cfg := Default()
	cfg.Download.Concurrency = 0
	cfg.Upload.Concurrency = -2
	cfg.Optimize.Quality = 150
	cfg.Upload.RetryFactor = 0.5
	cfg.Upload.Retries = -1
	cfg.Optimize.Widths = nil

	warnings, err := cfg.Validate()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Download.Concurrency)
	assert.Equal(t, 3, cfg.Upload.Concurrency)
	assert.Equal(t, 82, cfg.Optimize.Quality)
	assert.Equal(t, 2.0, cfg.Upload.RetryFactor)
	assert.Equal(t, 0, cfg.Upload.Retries)
	assert.Len(t, cfg.Optimize.Widths, 3)

	assert.True(t, containsWarning(warnings, "download.concurrency should be > 0"))
	assert.True(t, containsWarning(warnings, "upload.concurrency should be > 0"))
	assert.True(t, containsWarning(warnings, "optimize.quality 150 out of range"))
	assert.True(t, containsWarning(warnings, "upload.retry_factor"))
	assert.True(t, containsWarning(warnings, "upload.retries cannot be negative"))
}

func TestValidate_Normalizes(t *testing.T) {
	cfg := Default()
	cfg.Crawl.BaseURL = "https://tedoori.net"
	cfg.Supabase.URL = "https://abc.supabase.co/"
	cfg.Upload.Prefix = "/staging/"
	cfg.Reconcile.Store = " SQLite "

	_, err := cfg.Validate()
	require.NoError(t, err)

	assert.Equal(t, "https://tedoori.net/", cfg.Crawl.BaseURL)
	assert.Equal(t, "https://abc.supabase.co", cfg.Supabase.URL)
	assert.Equal(t, "staging", cfg.Upload.Prefix)
	assert.Equal(t, "sqlite", cfg.Reconcile.Store)
}

func TestValidate_FatalErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		substr string
	}{
		{"BadBaseURL", func(c *Config) { c.Crawl.BaseURL = "not a url" }, "Crawl.BaseURL"},
		{"BadDate", func(c *Config) { c.Common.Date = "2024-01-01" }, "Common.Date"},
		{"BadStore", func(c *Config) { c.Reconcile.Store = "mongo" }, "Reconcile.Store"},
		{"BadPattern", func(c *Config) { c.Crawl.ProjectPatterns = []string{"("} }, "invalid regex"},
		{"EmptyOutDir", func(c *Config) { c.Common.OutDir = "" }, "Common.OutDir"},
		{"BadWebhook", func(c *Config) { c.Upload.WebhookURL = "::" }, "Upload.WebhookURL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			_, err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}

func TestValidate_ForceWarns(t *testing.T) {
	cfg := Default()
	cfg.Crawl.Force = true
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "robots.txt will be ignored"))
}

func TestRequireCredentials(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.RequireSupabase(), utils.ErrMissingCredentials)
	cfg.Supabase.URL = "https://abc.supabase.co"
	assert.ErrorIs(t, cfg.RequireSupabase(), utils.ErrMissingCredentials)
	cfg.Supabase.ServiceRoleKey = "key"
	assert.NoError(t, cfg.RequireSupabase())

	assert.ErrorIs(t, cfg.RequireSFTP(), utils.ErrMissingCredentials)
	cfg.SFTP.Host = "files.example.com"
	cfg.SFTP.Username = "deploy"
	assert.ErrorIs(t, cfg.RequireSFTP(), utils.ErrMissingCredentials)
	cfg.SFTP.PrivateKeyPath = "/home/deploy/.ssh/id_ed25519"
	assert.NoError(t, cfg.RequireSFTP())

	assert.ErrorIs(t, cfg.RequireDatabase(), utils.ErrMissingCredentials)
	cfg.Reconcile.Store = "sqlite"
	assert.NoError(t, cfg.RequireDatabase())
}

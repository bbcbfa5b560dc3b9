package orchestrate

import (
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/fetch"
	"github.com/LeeHome2/tedoori-pipeline/pkg/workspace"
)

// Env holds what every stage shares: the validated config and the network plumbing.
// Build it once per process with NewEnv.
type Env struct {
	Config  config.Config
	Layout  workspace.Layout
	Client  *http.Client
	Fetcher *fetch.Fetcher
	Limiter *fetch.RateLimiter
	Out     io.Writer // progress and summary lines
	Logger  *logrus.Logger
}

// NewEnv wires the shared HTTP client, fetcher and rate limiter for cfg.
// The crawl limiter keeps a fixed crawl.delay between page fetches.
func NewEnv(cfg config.Config, logger *logrus.Logger) (*Env, error) {
	layout, err := workspace.New(cfg.Common.OutDir)
	if err != nil {
		return nil, err
	}
	entry := logrus.NewEntry(logger)
	client := fetch.NewClient(cfg.HTTPClient, entry)
	return &Env{
		Config:  cfg,
		Layout:  layout,
		Client:  client,
		Fetcher: fetch.NewFetcher(client, cfg.Common.UserAgent, entry),
		Limiter: fetch.NewRateLimiter(cfg.Crawl.Delay, entry).WithoutJitter(),
		Out:     os.Stdout,
		Logger:  logger,
	}, nil
}

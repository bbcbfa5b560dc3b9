package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// Accept headers sent by the crawler and the downloader
const (
	AcceptHTML  = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	AcceptImage = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
)

// maxPageBytes caps HTML bodies read into memory
const maxPageBytes = 16 << 20

// Fetcher performs single-shot GET requests with a fixed user agent.
// Crawling and downloading never retry: a failure is final for the run and left to the next invocation.
type Fetcher struct {
	client    *http.Client
	userAgent string
	log       *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, userAgent string, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		log:       log,
	}
}

// Client returns the underlying HTTP client.
func (f *Fetcher) Client() *http.Client { return f.client }

// UserAgent returns the user agent sent with every request.
func (f *Fetcher) UserAgent() string { return f.userAgent }

// Get issues one GET request. A non-2xx response is closed and returned as a *utils.HTTPStatusError.
// On success the caller owns resp.Body.
func (f *Fetcher) Get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.WithField("url", rawURL).Debugf("Request failed: %v", err)
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, utils.NewHTTPStatusError(resp.StatusCode, resp.Status)
	}
	return resp, nil
}

// GetText fetches an HTML document and returns its body.
func (f *Fetcher) GetText(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.Get(ctx, rawURL, AcceptHTML)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	return body, nil
}

package fetch

import (
	"context"
	"io"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// maxRobotsBytes caps robots.txt bodies
const maxRobotsBytes = 512 << 10

// RobotsHandler fetches, parses and caches robots.txt per origin (scheme://host[:port]).
// A fetch failure, non-2xx response or parse error caches an empty ruleset: everything is allowed.
type RobotsHandler struct {
	fetcher     *Fetcher
	rateLimiter *RateLimiter
	robotsCache map[string]*robotstxt.RobotsData // origin -> parsed data
	robotsMu    sync.Mutex
	inflight    map[string]*sync.Mutex // serializes the first fetch per origin
	log         *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler. rateLimiter may be nil.
func NewRobotsHandler(fetcher *Fetcher, rateLimiter *RateLimiter, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		robotsCache: make(map[string]*robotstxt.RobotsData),
		inflight:    make(map[string]*sync.Mutex),
		log:         log,
	}
}

// Origin returns scheme://host of u.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// GetRobotsData returns the ruleset for u's origin, fetching it on first use.
func (rh *RobotsHandler) GetRobotsData(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	origin := Origin(u)

	rh.robotsMu.Lock()
	if data, ok := rh.robotsCache[origin]; ok {
		rh.robotsMu.Unlock()
		return data
	}
	originMu, ok := rh.inflight[origin]
	if !ok {
		originMu = &sync.Mutex{}
		rh.inflight[origin] = originMu
	}
	rh.robotsMu.Unlock()

	originMu.Lock()
	defer originMu.Unlock()

	// Another goroutine may have filled the cache while we waited
	rh.robotsMu.Lock()
	if data, ok := rh.robotsCache[origin]; ok {
		rh.robotsMu.Unlock()
		return data
	}
	rh.robotsMu.Unlock()

	data := rh.fetch(ctx, u, origin)

	rh.robotsMu.Lock()
	rh.robotsCache[origin] = data
	rh.robotsMu.Unlock()
	return data
}

func (rh *RobotsHandler) fetch(ctx context.Context, u *url.URL, origin string) *robotstxt.RobotsData {
	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()
	robotsLog := rh.log.WithField("robots_url", robotsURL)
	robotsLog.Debug("Fetching robots.txt...")

	if rh.rateLimiter != nil {
		if err := rh.rateLimiter.ApplyDelay(ctx, u.Host, 0); err != nil {
			return emptyRobots()
		}
	}
	resp, err := rh.fetcher.Get(ctx, robotsURL, "text/plain,*/*;q=0.5")
	if rh.rateLimiter != nil {
		rh.rateLimiter.UpdateLastRequestTime(u.Host)
	}
	if err != nil {
		robotsLog.Infof("robots.txt unavailable, treating %s as unrestricted: %v", origin, err)
		return emptyRobots()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		robotsLog.Warnf("Error reading robots.txt body: %v", err)
		return emptyRobots()
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Warnf("Error parsing robots.txt: %v", err)
		return emptyRobots()
	}
	robotsLog.Debug("Parsed robots.txt")
	return data
}

func emptyRobots() *robotstxt.RobotsData {
	data, _ := robotstxt.FromBytes(nil)
	return data
}

// IsAllowed reports whether userAgent may fetch u under its origin's robots.txt.
func (rh *RobotsHandler) IsAllowed(ctx context.Context, u *url.URL, userAgent string) bool {
	data := rh.GetRobotsData(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.RequestURI(), userAgent)
}

// CachedOrigins returns how many origins have a cached ruleset.
func (rh *RobotsHandler) CachedOrigins() int {
	rh.robotsMu.Lock()
	defer rh.robotsMu.Unlock()
	return len(rh.robotsCache)
}

package upload

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// progress prints one line per finished file
type progress struct {
	mu            sync.Mutex
	out           io.Writer
	total         int
	totalBytes    int64
	done          int
	uploadedBytes int64
	startedAt     time.Time
}

func newProgress(out io.Writer, total int, totalBytes int64) *progress {
	return &progress{out: out, total: total, totalBytes: totalBytes, startedAt: time.Now()}
}

// line reports a file that was not uploaded (skip, dry-run, fail)
func (p *progress) line(verb, file string, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	fmt.Fprintf(p.out, "[%d/%d] %s %s (%s)\n", p.done, p.total, verb, file, humanize.IBytes(uint64(size)))
}

// uploaded reports a finished upload and returns the byte-based completion percentage
func (p *progress) uploaded(file string, size int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.uploadedBytes += size

	elapsed := time.Since(p.startedAt).Seconds()
	if elapsed < 0.001 {
		elapsed = 0.001
	}
	rate := float64(p.uploadedBytes) / elapsed
	pct := 100
	if p.totalBytes > 0 {
		pct = int(float64(p.uploadedBytes)/float64(p.totalBytes)*100 + 0.5)
	}
	fmt.Fprintf(p.out, "[%d/%d] ok %s (%s) total %d%% @ %s/s\n",
		p.done, p.total, file, humanize.IBytes(uint64(size)), pct, humanize.IBytes(uint64(rate)))
	return pct
}

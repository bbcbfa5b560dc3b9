package models

import "time"

// UploadEvent is one line of the upload event log (JSONL).
// Only the fields relevant to Type are populated.
type UploadEvent struct {
	Type      EventType `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	RunID     string    `json:"runId"`

	// file_* events
	File    string `json:"file,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	DelayMs int64  `json:"delayMs,omitempty"`
	Error   string `json:"error,omitempty"`
	Pct     *int   `json:"pct,omitempty"`

	Record *UploadRecord `json:"record,omitempty"`

	// run_start / run_done
	Run *RunSettings `json:"run,omitempty"`
	// run_done only
	Summary *UploadTotals `json:"summary,omitempty"`
}

// RunSettings echoes the uploader settings into run_start
type RunSettings struct {
	Bucket         string  `json:"bucket"`
	DryRun         bool    `json:"dryRun"`
	Overwrite      bool    `json:"overwrite"`
	VerifyChecksum bool    `json:"verifyChecksum"`
	Retries        int     `json:"retries"`
	BaseDelayMs    int     `json:"baseDelayMs"`
	RetryFactor    float64 `json:"retryFactor"`
	CacheControl   string  `json:"cacheControl"`
	Prefix         string  `json:"prefix"`
	FileCount      int     `json:"fileCount"`
	TotalBytes     int64   `json:"totalBytes"`
}

// UploadTotals are the counters of a finished run, also the webhook payload body
type UploadTotals struct {
	Type          string    `json:"type,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Bucket        string    `json:"bucket"`
	Count         int       `json:"count"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	Skipped       int       `json:"skipped"`
	TotalBytes    int64     `json:"totalBytes"`
	UploadedBytes int64     `json:"uploadedBytes"`
}

// Totals extracts the counters of a summary.
func (s *UploadSummary) Totals() UploadTotals {
	return UploadTotals{
		CreatedAt:     s.CreatedAt,
		Bucket:        s.Bucket,
		Count:         s.Count,
		Succeeded:     s.Succeeded,
		Failed:        s.Failed,
		Skipped:       s.Skipped,
		TotalBytes:    s.TotalBytes,
		UploadedBytes: s.UploadedBytes,
	}
}

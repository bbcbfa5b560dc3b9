package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/manifest"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/optimize"
	"github.com/LeeHome2/tedoori-pipeline/pkg/retry"
	"github.com/LeeHome2/tedoori-pipeline/pkg/state"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
	"github.com/LeeHome2/tedoori-pipeline/pkg/workspace"
)

const (
	mib = 1 << 20

	// ContentType of every derivative
	ContentType = optimize.DerivativeContentType
)

// ObjectUploader uploads optimized derivatives to an ObjectStore
type ObjectUploader struct {
	cfg      config.UploadConfig
	layout   workspace.Layout
	store    ObjectStore
	ledger   state.UploadLedger // nil unless incremental
	notifier Notifier           // nil disables the completion webhook
	out      io.Writer
	log      *logrus.Entry

	bucketMu    sync.Mutex
	bucketReady bool
}

// NewObjectUploader wires the uploader. ledger and notifier may be nil.
func NewObjectUploader(cfg config.Config, store ObjectStore, ledger state.UploadLedger, notifier Notifier, log *logrus.Entry) (*ObjectUploader, error) {
	layout, err := workspace.New(cfg.Common.OutDir)
	if err != nil {
		return nil, err
	}
	if cfg.Upload.Incremental && ledger == nil {
		return nil, fmt.Errorf("%w: incremental upload needs a ledger", utils.ErrConfigValidation)
	}
	return &ObjectUploader{
		cfg:      cfg.Upload,
		layout:   layout,
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		out:      os.Stdout,
		log:      log,
	}, nil
}

// SetOutput redirects the progress lines (stdout by default).
func (u *ObjectUploader) SetOutput(w io.Writer) { u.out = w }

// StoragePath maps a projects-relative file to its object key: [prefix/]projects/<rel>.
func StoragePath(prefix, rel string) string {
	return path.Join(prefix, "projects", rel)
}

func (u *ObjectUploader) policy() retry.Policy {
	return retry.Policy{Retries: u.cfg.Retries, BaseDelay: u.cfg.RetryBaseDelay, Factor: u.cfg.RetryFactor}
}

func (u *ObjectUploader) settings(fileCount int, totalBytes int64) models.RunSettings {
	return models.RunSettings{
		Bucket:         u.store.Bucket(),
		DryRun:         u.cfg.DryRun,
		Overwrite:      u.cfg.Overwrite,
		VerifyChecksum: u.cfg.VerifyChecksum,
		Retries:        u.cfg.Retries,
		BaseDelayMs:    int(u.cfg.RetryBaseDelay / time.Millisecond),
		RetryFactor:    u.cfg.RetryFactor,
		CacheControl:   u.cfg.CacheControl,
		Prefix:         u.cfg.Prefix,
		FileCount:      fileCount,
		TotalBytes:     totalBytes,
	}
}

// Run uploads every derivative under projects/*/images/optimized. Per-file failures are recorded
// in the summary; only enumeration, cancellation and the summary write abort the run.
func (u *ObjectUploader) Run(ctx context.Context) (*models.UploadSummary, error) {
	files, err := u.layout.OptimizedFiles(optimize.DerivativeExt)
	if err != nil {
		return nil, err
	}
	if u.cfg.MaxFiles > 0 && len(files) > u.cfg.MaxFiles {
		files = files[:u.cfg.MaxFiles]
	}
	var totalBytes int64
	for _, f := range files {
		totalBytes += f.Size
	}

	runID := uuid.NewString()
	events := NewEventLog(u.layout.UploadEvents(), runID, u.log)
	settings := u.settings(len(files), totalBytes)
	events.Emit(models.UploadEvent{Type: models.EventRunStart, Run: &settings})
	u.log.WithFields(logrus.Fields{"run_id": runID, "files": len(files), "bytes": totalBytes, "bucket": settings.Bucket}).Info("Upload starting")

	prog := newProgress(u.out, len(files), totalBytes)
	records := make([]models.UploadRecord, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = u.uploadFile(gctx, f, events, prog)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &models.UploadSummary{
		Bucket:         settings.Bucket,
		DryRun:         u.cfg.DryRun,
		Overwrite:      u.cfg.Overwrite,
		VerifyChecksum: u.cfg.VerifyChecksum,
		Incremental:    u.cfg.Incremental,
		Retries:        u.cfg.Retries,
		BaseDelayMs:    settings.BaseDelayMs,
		RetryFactor:    u.cfg.RetryFactor,
		CacheControl:   u.cfg.CacheControl,
		Prefix:         u.cfg.Prefix,
		CreatedAt:      time.Now().UTC(),
		TotalBytes:     totalBytes,
		Mappings:       records,
	}
	for _, r := range records {
		if r.Uploaded {
			summary.UploadedBytes += r.Size
		}
	}
	summary.Tally()

	if err := manifest.WriteJSON(u.layout.UploadSummary(), summary); err != nil {
		return nil, err
	}
	totals := summary.Totals()
	events.Emit(models.UploadEvent{Type: models.EventRunDone, Run: &settings, Summary: &totals})

	if !u.cfg.DryRun && u.notifier != nil {
		if err := u.notifier.Notify(ctx, totals); err != nil {
			u.log.Warnf("Upload webhook failed (ignored): %v", err)
		}
	}

	fmt.Fprintf(u.out, "Prepared %d uploads\n", len(records))
	u.log.WithFields(logrus.Fields{"succeeded": summary.Succeeded, "failed": summary.Failed, "skipped": summary.Skipped}).Info("Upload finished")
	return summary, nil
}

// uploadFile handles one file from size check to ledger update. It never returns an error;
// the outcome is the record.
func (u *ObjectUploader) uploadFile(ctx context.Context, f workspace.LocalFile, events *EventLog, prog *progress) models.UploadRecord {
	storagePath := StoragePath(u.cfg.Prefix, f.Rel)
	rec := models.UploadRecord{
		File:        f.Rel,
		Size:        f.Size,
		ContentType: ContentType,
		StoragePath: storagePath,
		PublicURL:   u.store.PublicURL(storagePath),
	}
	fileLog := u.log.WithField("file", f.Rel)

	if float64(f.Size) > u.cfg.MaxFileMB*mib {
		rec.Skipped = true
		rec.Error = utils.ErrorCode(&utils.FileTooLargeError{Size: f.Size, MaxMB: u.cfg.MaxFileMB})
		events.Emit(models.UploadEvent{Type: models.EventFileSkip, File: f.Rel, Record: &rec})
		prog.line("skip", f.Rel, f.Size)
		return rec
	}

	body, err := os.ReadFile(f.Path)
	if err != nil {
		rec.Error = utils.ErrorCode(fmt.Errorf("%w: %w", utils.ErrFilesystem, err))
		fileLog.Warnf("Cannot read file: %v", err)
		events.Emit(models.UploadEvent{Type: models.EventFileFailed, File: f.Rel, Error: rec.Error, Record: &rec})
		prog.line("fail", f.Rel, f.Size)
		return rec
	}
	rec.SHA256 = utils.CalculateBytesSHA256(body)

	if u.cfg.DryRun {
		rec.DryRun = true
		events.Emit(models.UploadEvent{Type: models.EventFileDryRun, File: f.Rel, Record: &rec})
		prog.line("dry-run", f.Rel, f.Size)
		return rec
	}

	ledgerKey := u.store.Bucket() + "/" + storagePath
	if u.cfg.Incremental {
		entry, err := u.ledger.Lookup(ledgerKey)
		if err != nil {
			fileLog.Warnf("Ledger lookup failed, uploading anyway: %v", err)
		} else if entry != nil && entry.SHA256 == rec.SHA256 {
			rec.Skipped = true
			events.Emit(models.UploadEvent{Type: models.EventFileSkip, File: f.Rel, Record: &rec})
			prog.line("unchanged", f.Rel, f.Size)
			return rec
		}
	}

	started := time.Now()
	var verified *bool
	retriesUsed, err := retry.Do(ctx, u.policy(), func(int) error {
		var attemptErr error
		verified, attemptErr = u.attempt(ctx, storagePath, body, rec.SHA256)
		return attemptErr
	}, func(n int, delay time.Duration, err error) {
		fileLog.WithField("attempt", n).Warnf("Upload failed, retrying in %v: %v", delay, err)
		events.Emit(models.UploadEvent{Type: models.EventFileRetry, File: f.Rel, Attempt: n, DelayMs: delay.Milliseconds(), Error: err.Error()})
	})
	rec.RetriesUsed = retriesUsed
	rec.DurationMs = time.Since(started).Milliseconds()

	if err != nil {
		rec.Error = utils.ErrorCode(err)
		fileLog.Warnf("Upload failed after %d retries: %v", retriesUsed, err)
		events.Emit(models.UploadEvent{Type: models.EventFileFailed, File: f.Rel, Error: err.Error(), Record: &rec})
		prog.line("fail", f.Rel, f.Size)
		return rec
	}

	rec.Uploaded = true
	rec.Verified = verified
	if u.ledger != nil {
		entry := state.UploadEntry{SHA256: rec.SHA256, Size: rec.Size, PublicURL: rec.PublicURL, UploadedAt: time.Now().UTC()}
		if err := u.ledger.Record(ledgerKey, entry); err != nil {
			fileLog.Warnf("Cannot record upload in ledger: %v", err)
		}
	}
	pct := prog.uploaded(f.Rel, f.Size)
	events.Emit(models.UploadEvent{Type: models.EventFileDone, File: f.Rel, Pct: &pct, Record: &rec})
	return rec
}

// attempt uploads once and, when enabled and the file is small enough, reads the object back
// and compares hashes. verified is nil when verification did not run.
func (u *ObjectUploader) attempt(ctx context.Context, storagePath string, body []byte, sha string) (*bool, error) {
	if err := u.put(ctx, storagePath, body); err != nil {
		return nil, err
	}
	if !u.cfg.VerifyChecksum || float64(len(body)) > u.cfg.VerifyMaxMB*mib {
		return nil, nil
	}
	remote, err := u.store.Get(ctx, storagePath)
	if err != nil {
		return nil, err
	}
	if utils.CalculateBytesSHA256(remote) != sha {
		return nil, fmt.Errorf("%w: %s", utils.ErrChecksumMismatch, storagePath)
	}
	ok := true
	return &ok, nil
}

// put uploads body, creating the bucket once and retrying immediately if it does not exist.
func (u *ObjectUploader) put(ctx context.Context, storagePath string, body []byte) error {
	opts := PutOptions{ContentType: ContentType, Upsert: u.cfg.Overwrite, CacheControl: u.cfg.CacheControl}
	err := u.store.Put(ctx, storagePath, body, opts)
	if !errors.Is(err, utils.ErrBucketNotFound) {
		return err
	}
	if cerr := u.ensureBucket(ctx); cerr != nil {
		return fmt.Errorf("%w (create bucket: %v)", err, cerr)
	}
	return u.store.Put(ctx, storagePath, body, opts)
}

func (u *ObjectUploader) ensureBucket(ctx context.Context) error {
	u.bucketMu.Lock()
	defer u.bucketMu.Unlock()
	if u.bucketReady {
		return nil
	}
	u.log.Warnf("Bucket %s not found, creating it", u.store.Bucket())
	if err := u.store.CreateBucket(ctx); err != nil {
		return err
	}
	u.bucketReady = true
	return nil
}

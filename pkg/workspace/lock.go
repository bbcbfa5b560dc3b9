package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// Lock is an advisory lock on <out>/_scrape/.lock held for the duration of a writing stage
type Lock struct {
	path string
	fl   *flock.Flock
}

// AcquireLock takes the run lock without blocking. A lock already held by another
// process fails with utils.ErrLocked.
func (l Layout) AcquireLock() (*Lock, error) {
	path := l.LockFile()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", utils.ErrFilesystem, filepath.Dir(path), err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", utils.ErrLocked, path)
	}
	return &Lock{path: path, fl: fl}, nil
}

// Release unlocks. Safe to call on a nil lock.
func (lk *Lock) Release() error {
	if lk == nil || lk.fl == nil {
		return nil
	}
	return lk.fl.Unlock()
}

// Path returns the lock file path.
func (lk *Lock) Path() string { return lk.path }

// Package state persists cross-run bookkeeping under <out>/_state.
package state

import (
	"context"
	"time"
)

// UploadEntry is what the ledger remembers about one uploaded object
type UploadEntry struct {
	SHA256     string    `json:"sha256"`
	Size       int64     `json:"size"`
	PublicURL  string    `json:"publicUrl"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// UploadLedger records storage keys that already hold a given content hash
type UploadLedger interface {
	// Lookup returns the entry for key, or nil when the key was never recorded
	Lookup(key string) (*UploadEntry, error)

	// Record stores entry for key, replacing any previous entry
	Record(key string, entry UploadEntry) error

	// Forget removes key; removing an absent key is not an error
	Forget(key string) error

	// Count returns the number of recorded keys
	Count() int

	// RunGC runs periodic value-log garbage collection until ctx is done
	RunGC(ctx context.Context, interval time.Duration)

	// Close releases the underlying database
	Close() error
}

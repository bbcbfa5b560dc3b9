package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/LeeHome2/tedoori-pipeline/pkg/log"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

const uploadKeyPrefix = "upload:" // Prefix for object keys in DB

// BadgerLedger implements UploadLedger using BadgerDB
type BadgerLedger struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached key count for O(1) Count
}

// OpenBadgerLedger opens (or creates) the ledger at dbPath. With reset, existing state is removed first.
func OpenBadgerLedger(dbPath string, reset bool, logger *logrus.Entry) (*BadgerLedger, error) {
	ledger := &BadgerLedger{log: logger}

	if reset {
		logger.Warnf("Resetting upload ledger: removing %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove upload ledger %s: %v", dbPath, err)
		}
	}
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create ledger directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	var err error
	ledger.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open upload ledger at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	count, err := ledger.countKeys()
	if err != nil {
		logger.Warnf("Failed to count existing ledger keys: %v", err)
	} else {
		ledger.keyCount.Store(int64(count))
	}
	logger.Debugf("Upload ledger opened at %s with %d entries", dbPath, count)
	return ledger, nil
}

// countKeys performs a one-time key scan at open.
func (l *BadgerLedger) countKeys() (int, error) {
	count := 0
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(uploadKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent upload workers can write overlapping keys and get badger.ErrConflict.
func (l *BadgerLedger) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := l.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		l.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Lookup implements UploadLedger. An undecodable value is treated as absent.
func (l *BadgerLedger) Lookup(key string) (*UploadEntry, error) {
	var entry *UploadEntry
	dbKey := []byte(uploadKeyPrefix + key)

	err := l.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(dbKey)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: getting ledger key '%s': %w", utils.ErrDatabase, key, errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded UploadEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				l.log.Warnf("Failed to unmarshal ledger entry for '%s': %v. Treating as absent.", key, errJSON)
				return nil
			}
			entry = &decoded
			return nil
		})
	})
	if err != nil {
		l.log.Errorf("DB View error in Lookup for '%s': %v", key, err)
		return nil, err
	}
	return entry, nil
}

// Record implements UploadLedger
func (l *BadgerLedger) Record(key string, entry UploadEntry) error {
	dbKey := []byte(uploadKeyPrefix + key)
	entryBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: marshal ledger entry for '%s': %w", utils.ErrParsing, key, err)
	}

	isNew := false
	err = l.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(dbKey)
		isNew = errors.Is(errGet, badger.ErrKeyNotFound)
		return txn.SetEntry(badger.NewEntry(dbKey, entryBytes))
	})
	if err != nil {
		l.log.WithField("key", key).Errorf("DB Update error in Record: %v", err)
		return fmt.Errorf("%w: recording ledger key '%s': %w", utils.ErrDatabase, key, err)
	}
	if isNew {
		l.keyCount.Add(1)
	}
	return nil
}

// Forget implements UploadLedger
func (l *BadgerLedger) Forget(key string) error {
	dbKey := []byte(uploadKeyPrefix + key)
	existed := false
	err := l.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(dbKey)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		existed = true
		return txn.Delete(dbKey)
	})
	if err != nil {
		return fmt.Errorf("%w: forgetting ledger key '%s': %w", utils.ErrDatabase, key, err)
	}
	if existed {
		l.keyCount.Add(-1)
	}
	return nil
}

// Count implements UploadLedger
func (l *BadgerLedger) Count() int {
	return int(l.keyCount.Load())
}

// RunGC implements UploadLedger. Run it in a goroutine.
func (l *BadgerLedger) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if l.db == nil || l.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				// Rewrite while at least half of a value log file is reclaimable
				err = l.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				l.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close implements UploadLedger
func (l *BadgerLedger) Close() error {
	if l.db == nil || l.db.IsClosed() {
		return nil
	}
	if err := l.db.Close(); err != nil {
		l.log.Errorf("Error closing upload ledger: %v", err)
		return err
	}
	return nil
}

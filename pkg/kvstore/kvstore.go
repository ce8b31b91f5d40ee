// Package kvstore is the external key-value store the core treats as a
// collaborator (spec section 1): a Badger-backed implementation of the
// document.Txn contract, plus the full-scan primitive the upgrader needs
// to rewrite every record in one transaction (spec section 4.5). Grounded
// on the teacher's internal/keyValStore/keyValStore.go, adapted from a
// chunk-store to a generic key/Record store.
package kvstore

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/ouroboros-revdoc/pkg/record"
	"github.com/i5heu/ouroboros-revdoc/pkg/status"
)

// Config configures a Store. Only Paths[0] is used, matching the teacher's
// own single-path limitation (internal/keyValStore.StoreConfig).
type Config struct {
	Paths []string
	// MinimumFreeGB refuses Open if the data path's free space falls
	// below this threshold. Zero disables the check.
	MinimumFreeGB uint
	Logger        *logrus.Logger
}

// Store is the Badger-backed external key-value store. It owns the single
// on-disk database and hands out Txn values bound to Badger transactions.
type Store struct {
	log  *logrus.Logger
	db   *badger.DB
	path string
}

// Open opens (creating if necessary) the Badger database at config.Paths[0]
// after checking free disk space, mirroring the teacher's
// NewKeyValStore/checkConfig preflight.
func Open(config Config) (*Store, error) {
	if len(config.Paths) == 0 {
		return nil, fmt.Errorf("kvstore: no path provided in configuration")
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	path := config.Paths[0]

	if config.MinimumFreeGB > 0 {
		if err := checkFreeSpace(path, config.MinimumFreeGB); err != nil {
			return nil, err
		}
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = true // durability matters more than throughput for revision metadata

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open badger at %s: %w", path, err)
	}

	config.Logger.WithField("path", path).Info("kvstore opened")
	return &Store{log: config.Logger, db: db, path: path}, nil
}

// checkFreeSpace refuses to proceed if the data path's free space is below
// minimumFreeGB. The teacher's own checkConfig performs the equivalent
// check with a raw syscall.Statfs call, leaving its declared gopsutil
// dependency unused; this wires that dependency up instead.
func checkFreeSpace(path string, minimumFreeGB uint) error {
	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("kvstore: statting free space at %s: %w", path, err)
	}
	freeGB := usage.Free / (1024 * 1024 * 1024)
	if freeGB < uint64(minimumFreeGB) {
		return fmt.Errorf("kvstore: only %dGB free at %s, need %dGB", freeGB, path, minimumFreeGB)
	}
	return nil
}

// Close releases the underlying Badger database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("kvstore: close: %w", err)
	}
	return nil
}

// Txn is one Badger read-write transaction, implementing document.Txn
// plus the full-scan primitive the upgrader needs. Every mutating
// document operation must run inside one (spec section 5): Update opens
// it, the caller's function body drives the façade, and a non-nil return
// aborts the whole transaction.
type Txn struct {
	store *Store
	txn   *badger.Txn
}

// Update opens one Badger transaction, runs fn, and commits on success.
// Any error returned by fn — or by the commit itself — aborts the
// transaction; no partial state is ever persisted (spec section 7).
func (s *Store) Update(fn func(*Txn) error) error {
	return s.db.Update(func(btxn *badger.Txn) error {
		return fn(&Txn{store: s, txn: btxn})
	})
}

// View opens one read-only Badger transaction for callers that only need
// GetRecord/ForEach and never mutate.
func (s *Store) View(fn func(*Txn) error) error {
	return s.db.View(func(btxn *badger.Txn) error {
		return fn(&Txn{store: s, txn: btxn})
	})
}

// GetRecord returns the Record stored at key. It implements document.Txn.
func (t *Txn) GetRecord(key []byte) (record.Record, error) {
	item, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return record.Record{}, fmt.Errorf("kvstore: get %x: %w", key, status.ErrNotFound)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("kvstore: get %x: %w", key, err)
	}
	var rec record.Record
	if err := item.Value(func(val []byte) error {
		return record.Unmarshal(val, &rec)
	}); err != nil {
		return record.Record{}, fmt.Errorf("kvstore: decode %x: %w", key, err)
	}
	return rec, nil
}

// PutRecord writes rec, keyed by rec.Key. It implements document.Txn.
func (t *Txn) PutRecord(rec record.Record) error {
	blob, err := record.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kvstore: encode %x: %w", rec.Key, err)
	}
	if err := t.txn.Set(rec.Key, blob); err != nil {
		return fmt.Errorf("kvstore: set %x: %w", rec.Key, err)
	}
	return nil
}

// ForEach walks every record in the store — unsorted, including deleted
// documents, with full body content — invoking fn for each. This is the
// iteration primitive spec section 4.5 describes the upgrader using:
// "iterating the default key store with unsorted, includeDeleted, full-
// body content". A non-nil return from fn stops the walk and is returned
// from ForEach.
func (t *Txn) ForEach(fn func(record.Record) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var rec record.Record
		if err := item.Value(func(val []byte) error {
			return record.Unmarshal(val, &rec)
		}); err != nil {
			return fmt.Errorf("kvstore: decode %x: %w", item.Key(), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

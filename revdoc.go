// Package revdoc is the versioned-document core of an embedded document
// store: it assigns each mutation of a document a unique revision
// identity, preserves the ancestry of mutations, detects concurrent edits
// as conflicts, and synthesises merge identities when conflicts are
// resolved (spec section 1). Database is the top-level handle a caller
// opens once per data directory; pkg/document, pkg/revtree, pkg/version,
// pkg/revid, pkg/record and pkg/upgrade are the core this handle wires
// together, and pkg/kvstore is the external key-value collaborator spec
// section 1 treats as out of scope for the core itself.
//
// Database's shape — a Config carrying Paths/Logger/MinimumFreeGB, an
// Open function, an idempotent Close — mirrors the teacher's own
// OuroborosDB handle (github.com/i5heu/ouroboros-db's ouroboros.go).
package revdoc

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/i5heu/ouroboros-revdoc/internal/dbconfig"
	"github.com/i5heu/ouroboros-revdoc/pkg/document"
	"github.com/i5heu/ouroboros-revdoc/pkg/kvstore"
	"github.com/i5heu/ouroboros-revdoc/pkg/logging"
	"github.com/i5heu/ouroboros-revdoc/pkg/upgrade"
	"github.com/i5heu/ouroboros-revdoc/pkg/version"
)

// Sentinel errors surfaced by Open/Close, distinct from the status package
// errors a Document operation can return (spec section 7).
var (
	ErrNotStarted  = errors.New("revdoc: database not started")
	ErrClosed      = errors.New("revdoc: database closed")
	ErrNoPaths     = errors.New("revdoc: at least one path must be provided in config")
	ErrNotCreating = errors.New("revdoc: data directory does not exist and Options.Create is false")
)

// Options are the configuration switches spec section 6 names under
// "Configuration options recognised by open".
type Options struct {
	// ReadOnly refuses an upgrade even when one is otherwise required.
	// Nothing else in this package checks it.
	ReadOnly bool
	// NoUpgrade fails Open if the schema requires a tree-to-vector
	// upgrade, without otherwise restricting mutations.
	NoUpgrade bool
	// Create creates the data directory (and a fresh database within it)
	// if it does not already exist.
	Create bool
	// VersioningScheme selects tree (v2/v3) or vector scheme. A tree-
	// scheme database is transparently migrated to vector scheme on Open
	// unless NoUpgrade/ReadOnly forbid it.
	VersioningScheme dbconfig.VersioningScheme
	// MaxRevTreeDepth bounds rev-tree pruning. Zero defaults to 20.
	MaxRevTreeDepth int
	// GenerateOldStyleRevIDs switches tree-form digest generation to the
	// legacy MD5 quirk. Process-wide (spec section 9): set it, if at all,
	// before the first Database in the process opens.
	GenerateOldStyleRevIDs bool
}

func (o Options) scheme() document.Scheme {
	if o.VersioningScheme == dbconfig.SchemeVector {
		return document.SchemeVector
	}
	return document.SchemeTree
}

func (o Options) upgradeScheme() upgrade.Scheme {
	if o.VersioningScheme == dbconfig.SchemeVector {
		return upgrade.SchemeVector
	}
	return upgrade.SchemeTree
}

// Config configures a Database instance (spec section 6).
type Config struct {
	// Paths contains data directories. Only Paths[0] is used, matching
	// the teacher's own single-path limitation.
	Paths []string
	// MinimumFreeGB is a free-space preflight threshold; see
	// pkg/kvstore.Config.MinimumFreeGB.
	MinimumFreeGB uint
	// Logger is an optional structured logger. If nil, pkg/logging.Default()
	// is used, mirroring the teacher's own defaultLogger() fallback.
	Logger  *slog.Logger
	Options Options
}

// legacyDigestValue holds the process-wide GenerateOldStyleRevIDs default;
// anyDatabaseOpened closes its one mutation window, which is forbidden
// once any Database has opened (spec
// section 9, "Process-wide switches ... forbid mutation after the first
// handle is opened").
var (
	legacyDigestValue atomic.Bool
	anyDatabaseOpened atomic.Bool
)

// SetGenerateOldStyleRevIDs sets the process-wide default for legacy MD5
// digest generation. It returns an error if any Database in this process
// has already been opened.
func SetGenerateOldStyleRevIDs(legacy bool) error {
	if anyDatabaseOpened.Load() {
		return fmt.Errorf("revdoc: GenerateOldStyleRevIDs cannot change after a database has opened")
	}
	legacyDigestValue.Store(legacy)
	return nil
}

// Database is the main handle: it owns the external key-value store and
// holds the document.Config that Open builds for it (scheme, peer ID,
// prune depth, digest style). Its only method is Close; it does not
// dispatch document operations itself. A Database is not safe for concurrent use from
// multiple goroutines without external synchronization (spec section 5:
// "single-threaded per database handle").
type Database struct {
	log   *slog.Logger
	store *kvstore.Store
	docs  document.Config
	opts  Options

	closeOnce sync.Once
}

// Open opens (or creates, per Options.Create) the database at
// cfg.Paths[0]. Open performs the tree-to-vector upgrade in place if
// cfg.Options.VersioningScheme asks for the vector scheme and the stored
// data is still tree-form, unless ReadOnly/NoUpgrade forbid it (spec
// section 4.5/6).
func Open(cfg Config) (*Database, error) {
	if len(cfg.Paths) == 0 {
		return nil, ErrNoPaths
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	dataRoot := cfg.Paths[0]
	if _, err := os.Stat(dataRoot); os.IsNotExist(err) {
		if !cfg.Options.Create {
			return nil, ErrNotCreating
		}
		if err := os.MkdirAll(dataRoot, 0o700); err != nil {
			return nil, fmt.Errorf("revdoc: mkdir %s: %w", dataRoot, err)
		}
	}

	myID, err := loadOrCreatePeerID(dataRoot, cfg.Options.Create)
	if err != nil {
		return nil, err
	}

	store, err := kvstore.Open(kvstore.Config{
		Paths:         []string{filepath.Join(dataRoot, "kv")},
		MinimumFreeGB: cfg.MinimumFreeGB,
	})
	if err != nil {
		return nil, fmt.Errorf("revdoc: open store: %w", err)
	}

	if !anyDatabaseOpened.Swap(true) {
		legacyDigestValue.Store(cfg.Options.GenerateOldStyleRevIDs)
	}

	db := &Database{
		log:   cfg.Logger,
		store: store,
		opts:  cfg.Options,
		docs: document.Config{
			Scheme:          cfg.Options.scheme(),
			MyID:            myID,
			MaxRevTreeDepth: cfg.Options.MaxRevTreeDepth,
			LegacyDigest:    legacyDigestValue.Load(),
		},
	}

	if cfg.Options.VersioningScheme == dbconfig.SchemeVector {
		if err := db.maybeUpgrade(); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	db.log.Info("revdoc database opened", "path", dataRoot, "scheme", cfg.Options.VersioningScheme)
	return db, nil
}

// storeSchemeAdapter adapts *kvstore.Store to upgrade.Store: kvstore's
// Update passes a concrete *kvstore.Txn, which already satisfies
// upgrade.Txn structurally, but the two Update method *types* differ
// (func(*kvstore.Txn) error vs func(upgrade.Txn) error), so a one-line
// adapter closes the gap rather than widening either package's contract.
type storeSchemeAdapter struct{ store *kvstore.Store }

func (a storeSchemeAdapter) Update(fn func(upgrade.Txn) error) error {
	return a.store.Update(func(t *kvstore.Txn) error { return fn(t) })
}

// maybeUpgrade runs the tree-to-vector migration over every record. It
// passes SchemeTree as the current scheme, so the pass runs on each
// vector-scheme Open; records already in vector form are left as they
// are, and a database with no records has nothing to migrate.
func (db *Database) maybeUpgrade() error {
	return upgrade.Run(storeSchemeAdapter{db.store}, upgrade.SchemeTree, upgrade.SchemeVector, db.opts.ReadOnly, db.opts.NoUpgrade)
}

// Close releases the underlying store. Close is idempotent.
func (db *Database) Close() error {
	var err error
	db.closeOnce.Do(func() {
		err = db.store.Close()
		db.log.Info("revdoc database closed")
	})
	return err
}

// peerIDFile is the file, alongside the store's data directory, that
// persists this database's randomly generated peer identity across
// restarts — the vector scheme's analogue of the teacher's own
// crypt.NewFromFile(cryptKeyPath) persisted-identity pattern
// (github.com/i5heu/ouroboros-db's ouroboros.go Start()).
const peerIDFile = "peerid"

func loadOrCreatePeerID(dataRoot string, create bool) (version.PeerID, error) {
	path := filepath.Join(dataRoot, peerIDFile)
	raw, err := os.ReadFile(path)
	if err == nil && len(raw) == 8 {
		return version.PeerID(binary.BigEndian.Uint64(raw)), nil
	}
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("revdoc: read peer id: %w", err)
	}

	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("revdoc: generate peer id: %w", err)
		}
		id := binary.BigEndian.Uint64(buf[:])
		if id != uint64(version.Me) && id != uint64(version.Legacy) {
			break
		}
	}
	if err := os.WriteFile(path, buf[:], 0o600); err != nil {
		return 0, fmt.Errorf("revdoc: persist peer id: %w", err)
	}
	return version.PeerID(binary.BigEndian.Uint64(buf[:])), nil
}

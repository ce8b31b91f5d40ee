// Package document implements the per-document revision-lifecycle façade
// (spec section 4.4): a cursor over one document's revisions that
// abstracts which of the two versioning schemes is in effect. Callers
// obtain a Document via Open and drive it through the shared Document
// interface; TreeDocument and VectorDocument are its two concrete
// implementations (spec section 9, "Dynamic dispatch between schemes").
package document

import (
	"github.com/i5heu/ouroboros-revdoc/pkg/record"
	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/revtree"
	"github.com/i5heu/ouroboros-revdoc/pkg/version"
)

// Txn is the external transaction the façade requires for any mutating
// operation (spec section 5): Save/Purge sequences must run inside one,
// opened by the caller and committed by the caller. The concrete
// implementation is pkg/kvstore's Badger-backed transaction.
type Txn interface {
	// GetRecord returns the Record stored at key, or an error wrapping
	// status.ErrNotFound if none exists.
	GetRecord(key []byte) (record.Record, error)
	// PutRecord writes rec, keyed by rec.Key.
	PutRecord(rec record.Record) error
}

// Scheme selects which of the two revisioning schemes a Document uses.
type Scheme int

const (
	SchemeTree Scheme = iota
	SchemeVector
)

// LocalRemoteID is the RemoteID sentinel denoting the local current-state
// slot under the vector scheme (spec section 3, RemoteID.Local). It is
// never a key of VectorRecord.Remotes — remote peers are numbered from 1
// — and is distinct from revtree.DefaultRemoteID, which names the single
// remote tracked by a tree-scheme document for upgrade purposes.
const LocalRemoteID = revtree.RemoteID(0)

// Config configures one Document façade instance. MyID is substituted for
// version.Me wherever the local peer's identity must be made explicit in
// ASCII/binary encodings and merge digests. Per spec section 9 ("process-
// wide switches"), Config is fixed for the life of a database handle.
type Config struct {
	Scheme          Scheme
	MyID            version.PeerID
	MaxRevTreeDepth int
	LegacyDigest    bool
}

func (c Config) maxDepth() int {
	if c.MaxRevTreeDepth <= 0 {
		return 20
	}
	return c.MaxRevTreeDepth
}

// Selection is the façade's read-only view of whichever revision is
// currently selected, normalized across both schemes. Remote is only
// meaningful under the vector scheme.
type Selection struct {
	RevID          revid.RevID
	Remote         revtree.RemoteID
	Deleted        bool
	HasAttachments bool
	IsConflict     bool
	Body           []byte
	BodyLoaded     bool
}

// Document is the capability surface shared by both scheme façades (spec
// section 4.4). Callers never inspect which concrete type they hold.
type Document interface {
	Key() []byte
	Exists() bool
	Type() string
	SetType(t string)

	LoadRevisions(txn Txn) error
	RevisionsLoaded() bool

	SelectRevision(id revid.RevID, withBody bool) error
	SelectCurrentRevision() error
	SelectParentRevision() error
	SelectNextRevision() error
	SelectNextLeafRevision(includeDeleted bool) (bool, error)

	Selected() (Selection, bool)
	HasRevisionBody() bool
	LoadSelectedRevBody() error

	InsertRevision(id revid.RevID, body []byte, deleted, hasAttachments, allowConflict bool) (int, error)
	InsertRevisionWithHistory(history []revid.RevID, body []byte, deleted, hasAttachments bool) (int, error)
	PurgeRevision(id revid.RevID) (int, error)

	Save(txn Txn) error
}

// ConflictResolver is implemented only by VectorDocument: tree-scheme
// conflicts are resolved by purging the losing branch, not by synthesizing
// a merge identity (spec section 4.4).
type ConflictResolver interface {
	ResolveConflict(txn Txn, winner, loser revid.RevID, mergedBody []byte, mergedFlags record.Flag) error
}

// Open constructs an unloaded Document for key under cfg's scheme. Callers
// must call LoadRevisions before selecting or inserting revisions.
func Open(cfg Config, key []byte) Document {
	if cfg.Scheme == SchemeVector {
		return newVectorDocument(cfg, key)
	}
	return newTreeDocument(cfg, key)
}

func vectorDocFlags(deleted, hasAttachments bool) record.Flag {
	var f record.Flag
	if deleted {
		f |= record.FlagDeleted
	}
	if hasAttachments {
		f |= record.FlagHasAttachments
	}
	return f
}

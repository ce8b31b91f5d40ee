package revtree

import (
	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/version"
)

// Flag is a bitset of per-revision attributes (spec section 3, Rev).
type Flag uint8

const (
	FlagDeleted Flag = 1 << iota
	FlagLeaf
	FlagHasAttachments
	FlagKeepBody
	FlagClosed
	FlagIsConflict
	FlagNew
	FlagPurge
)

// insertableFlags is the subset of flags a caller may set on Insert; the
// rest (Leaf, New, Purge) are tree-managed.
const insertableFlags = FlagDeleted | FlagClosed | FlagHasAttachments | FlagKeepBody

// RemoteID names one of the document's tracked remote peers (spec
// section 4.2 "Remote tracking"). 0 is reserved for the local slot
// (document.LocalRemoteID); remote peers are numbered from 1.
type RemoteID uint32

// DefaultRemoteID is the remote slot the upgrader treats as "the" remote
// revision when migrating a document (spec section 4.5).
const DefaultRemoteID RemoteID = 1

// Rev is one node of a RevTree. Its parent is referenced by index into
// the owning tree's rev slice rather than by pointer, per the design
// note on cyclic back-pointers: the tree is an append-only arena and
// Sort and compact() are the only things that ever renumber indices.
type Rev struct {
	ID       revid.RevID
	Body     []byte
	Sequence uint64
	Flags    Flag

	parent int // index into tree.revs, or -1 for a root
}

func newRev(id revid.RevID, body []byte, flags Flag, parent int) *Rev {
	return &Rev{ID: id, Body: body, Flags: flags, parent: parent}
}

func (r *Rev) IsLeaf() bool           { return r.Flags&FlagLeaf != 0 }
func (r *Rev) IsDeleted() bool        { return r.Flags&FlagDeleted != 0 }
func (r *Rev) HasAttachments() bool   { return r.Flags&FlagHasAttachments != 0 }
func (r *Rev) KeepsBody() bool        { return r.Flags&FlagKeepBody != 0 }
func (r *Rev) IsClosed() bool         { return r.Flags&FlagClosed != 0 }
func (r *Rev) IsConflict() bool       { return r.Flags&FlagIsConflict != 0 }
func (r *Rev) IsNew() bool            { return r.Flags&FlagNew != 0 }
func (r *Rev) IsMarkedForPurge() bool { return r.Flags&FlagPurge != 0 }

// HasBody reports whether this rev's body is currently available (not
// compacted away).
func (r *Rev) HasBody() bool { return r.Body != nil }

// ASCIIString renders r's RevID in its local (non-expanded) ASCII form;
// a convenience for logging and tests.
func (r *Rev) ASCIIString() string { return r.ID.ASCII(version.Me) }

func (r *Rev) setFlag(f Flag, on bool) {
	if on {
		r.Flags |= f
	} else {
		r.Flags &^= f
	}
}

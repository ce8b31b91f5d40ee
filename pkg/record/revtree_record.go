package record

import (
	"fmt"

	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/revtree"
)

// RevTreeRecord binds a Record to the decoded RevTree it carries in its
// Extra field, under the tree-form versioning scheme. The current
// revision's body lives in Record.Body; everything else the tree knows
// about (history, remote-rev tracking) rides in Extra.
type RevTreeRecord struct {
	Record Record
	Tree   *revtree.RevTree
}

// NewRevTreeRecord wraps a freshly created, empty document: a Record with
// no Extra yet and a brand-new RevTree.
func NewRevTreeRecord(key []byte) *RevTreeRecord {
	return &RevTreeRecord{
		Record: Record{Key: append([]byte(nil), key...)},
		Tree:   revtree.New(),
	}
}

// DecodeRevTreeRecord reconstructs a RevTreeRecord from a Record previously
// produced by Encode: rec.Extra holds the tree's own wire encoding.
func DecodeRevTreeRecord(rec Record) (*RevTreeRecord, error) {
	if len(rec.Extra) == 0 {
		return &RevTreeRecord{Record: rec, Tree: revtree.New()}, nil
	}
	tree, err := revtree.Decode(rec.Extra)
	if err != nil {
		return nil, fmt.Errorf("record: decode rev tree: %w", err)
	}
	return &RevTreeRecord{Record: rec, Tree: tree}, nil
}

// Encode returns a copy of rr.Record built from rr.Tree: the current
// revision's binary RevID as Version, its body, sequence and flags, and
// the tree's own encoded form as Extra. rr.Record itself is not modified;
// callers write the returned Record back to the store.
func (rr *RevTreeRecord) Encode() (Record, error) {
	cur, ok := rr.Tree.CurrentRevision()
	if !ok {
		return Record{}, ErrMissingCurrentRevision
	}
	blob, err := rr.Tree.Encode()
	if err != nil {
		return Record{}, fmt.Errorf("record: encode rev tree: %w", err)
	}

	out := rr.Record.Clone()
	out.Extra = blob
	out.Version = cur.ID.AppendBinary(nil, 0)
	out.Body = cur.Body
	out.Sequence = cur.Sequence
	out.Flags = treeDocFlags(rr.Tree, cur)
	return out, nil
}

func treeDocFlags(tree *revtree.RevTree, cur *revtree.Rev) Flag {
	var f Flag
	if cur.IsDeleted() {
		f |= FlagDeleted
	}
	if cur.HasAttachments() {
		f |= FlagHasAttachments
	}
	if tree.HasConflict() {
		f |= FlagConflicted
	}
	return f
}

// CurrentRevID returns the ASCII-parseable RevID of rr's current revision.
func (rr *RevTreeRecord) CurrentRevID() (revid.RevID, bool) {
	cur, ok := rr.Tree.CurrentRevision()
	if !ok {
		return revid.RevID{}, false
	}
	return cur.ID, true
}

package revtree

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
)

// wireRev and wireTree are the gob-visible mirrors of Rev and RevTree:
// Rev.parent is unexported so the real types can't be gob-encoded
// directly. This is the self-describing encoding spec section 6 permits
// in place of the legacy bit-exact tree layout (see DESIGN.md for why we
// don't reproduce that layout byte-for-byte).
type wireRev struct {
	ID       revid.RevID
	Body     []byte
	Sequence uint64
	Flags    Flag
	Parent   int
}

type wireTree struct {
	Revs       []wireRev
	RemoteRevs map[RemoteID]int
}

// Encode serializes the tree, first establishing the canonical sort order
// so re-decoding always yields the same current revision at index 0.
func (t *RevTree) Encode() ([]byte, error) {
	t.Sort()
	wt := wireTree{
		Revs:       make([]wireRev, len(t.revs)),
		RemoteRevs: t.remoteRevs,
	}
	for i, r := range t.revs {
		wt.Revs[i] = wireRev{ID: r.ID, Body: r.Body, Sequence: r.Sequence, Flags: r.Flags, Parent: r.parent}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wt); err != nil {
		return nil, fmt.Errorf("revtree: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reconstructs a RevTree from a blob produced by Encode.
func Decode(data []byte) (*RevTree, error) {
	var wt wireTree
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wt); err != nil {
		return nil, fmt.Errorf("revtree: decode: %w", err)
	}
	t := &RevTree{
		revs:       make([]*Rev, len(wt.Revs)),
		remoteRevs: wt.RemoteRevs,
	}
	if t.remoteRevs == nil {
		t.remoteRevs = make(map[RemoteID]int)
	}
	for i, wr := range wt.Revs {
		t.revs[i] = &Rev{ID: wr.ID, Body: wr.Body, Sequence: wr.Sequence, Flags: wr.Flags, parent: wr.Parent}
	}
	t.sorted = true
	return t, nil
}

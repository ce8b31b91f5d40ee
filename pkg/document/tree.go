package document

import (
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-revdoc/pkg/record"
	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/revtree"
	"github.com/i5heu/ouroboros-revdoc/pkg/status"
)

// TreeDocument is the tree-scheme Document façade: its cursor is a plain
// *revtree.Rev, and InsertRevision/InsertRevisionWithHistory delegate
// straight to RevTree.Insert/InsertHistory.
type TreeDocument struct {
	cfg     Config
	key     []byte
	docType string
	loaded  bool
	exists  bool

	rr       *record.RevTreeRecord
	selected *revtree.Rev
}

func newTreeDocument(cfg Config, key []byte) *TreeDocument {
	return &TreeDocument{
		cfg: cfg,
		key: append([]byte(nil), key...),
		rr:  record.NewRevTreeRecord(key),
	}
}

func (td *TreeDocument) Key() []byte      { return td.key }
func (td *TreeDocument) Exists() bool     { return td.exists }
func (td *TreeDocument) Type() string     { return td.docType }
func (td *TreeDocument) SetType(t string) { td.docType = t }

func (td *TreeDocument) RevisionsLoaded() bool { return td.loaded }

// LoadRevisions fetches and decodes the document's full RevTree from the
// store, if not already loaded (spec section 4.4, "loadRevisions").
func (td *TreeDocument) LoadRevisions(txn Txn) error {
	if td.loaded {
		return nil
	}
	rec, err := txn.GetRecord(td.key)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			td.rr = record.NewRevTreeRecord(td.key)
			td.loaded = true
			td.exists = false
			return nil
		}
		return err
	}
	rr, err := record.DecodeRevTreeRecord(rec)
	if err != nil {
		return err
	}
	td.rr = rr
	td.loaded = true
	td.exists = true
	return nil
}

var errNoSelection = fmt.Errorf("document: no revision is selected: %w", status.ErrNotFound)

func (td *TreeDocument) SelectRevision(id revid.RevID, withBody bool) error {
	rev, ok := td.rr.Tree.Get(id)
	if !ok {
		return fmt.Errorf("document: revision %s: %w", id, status.ErrNotFound)
	}
	if withBody && !rev.HasBody() {
		return status.ErrGone
	}
	td.selected = rev
	return nil
}

func (td *TreeDocument) SelectCurrentRevision() error {
	cur, ok := td.rr.Tree.CurrentRevision()
	if !ok {
		return fmt.Errorf("document: %w", status.ErrNotFound)
	}
	td.selected = cur
	return nil
}

func (td *TreeDocument) SelectParentRevision() error {
	if td.selected == nil {
		return errNoSelection
	}
	parent, ok := td.rr.Tree.Parent(td.selected)
	if !ok {
		return fmt.Errorf("document: %w", status.ErrNotFound)
	}
	td.selected = parent
	return nil
}

// sortedIndexOf locates r's position in the tree's canonical sorted order.
func (td *TreeDocument) sortedIndexOf(r *revtree.Rev) int {
	td.rr.Tree.Sort()
	for i := 0; i < td.rr.Tree.Len(); i++ {
		if td.rr.Tree.GetByIndex(i) == r {
			return i
		}
	}
	return -1
}

func (td *TreeDocument) SelectNextRevision() error {
	if td.selected == nil {
		return errNoSelection
	}
	idx := td.sortedIndexOf(td.selected)
	if idx < 0 || idx+1 >= td.rr.Tree.Len() {
		return fmt.Errorf("document: %w", status.ErrNotFound)
	}
	td.selected = td.rr.Tree.GetByIndex(idx + 1)
	return nil
}

// SelectNextLeafRevision advances the cursor to the next leaf rev in
// sorted order, optionally skipping deleted (tombstone) leaves. It returns
// (false, nil) on normal exhaustion — the Open Question resolution
// recorded in SPEC_FULL.md section 5. With no current selection it starts
// from the first rev; it never returns a non-nil error.
func (td *TreeDocument) SelectNextLeafRevision(includeDeleted bool) (bool, error) {
	td.rr.Tree.Sort()
	start := 0
	if td.selected != nil {
		idx := td.sortedIndexOf(td.selected)
		if idx >= 0 {
			start = idx + 1
		}
	}
	for i := start; i < td.rr.Tree.Len(); i++ {
		r := td.rr.Tree.GetByIndex(i)
		if !r.IsLeaf() {
			continue
		}
		if r.IsDeleted() && !includeDeleted {
			continue
		}
		td.selected = r
		return true, nil
	}
	return false, nil
}

func (td *TreeDocument) Selected() (Selection, bool) {
	if td.selected == nil {
		return Selection{}, false
	}
	r := td.selected
	return Selection{
		RevID:          r.ID,
		Remote:         LocalRemoteID,
		Deleted:        r.IsDeleted(),
		HasAttachments: r.HasAttachments(),
		IsConflict:     r.IsConflict(),
		Body:           r.Body,
		BodyLoaded:     r.HasBody(),
	}, true
}

func (td *TreeDocument) HasRevisionBody() bool {
	return td.selected != nil && td.selected.HasBody()
}

// LoadSelectedRevBody reloads the selected rev's body. The tree scheme has
// no external body store to reload from (bodies live only in the tree
// itself), so a compacted-away body can never be recovered: this always
// either confirms the body is present or returns status.ErrGone.
func (td *TreeDocument) LoadSelectedRevBody() error {
	if td.selected == nil {
		return errNoSelection
	}
	if td.selected.HasBody() {
		return nil
	}
	return status.ErrGone
}

func (td *TreeDocument) InsertRevision(id revid.RevID, body []byte, deleted, hasAttachments, allowConflict bool) (int, error) {
	var flags revtree.Flag
	if deleted {
		flags |= revtree.FlagDeleted
	}
	if hasAttachments {
		flags |= revtree.FlagHasAttachments
	}

	var parentID revid.RevID
	hasParent := td.selected != nil
	if hasParent {
		parentID = td.selected.ID
	}

	rev, outcome, err := td.rr.Tree.Insert(id, body, flags, parentID, hasParent, allowConflict, false)
	if err != nil {
		return -1, err
	}
	if outcome == revtree.Existed {
		return 0, nil
	}
	td.selected = rev
	td.exists = true
	return 1, nil
}

func (td *TreeDocument) InsertRevisionWithHistory(history []revid.RevID, body []byte, deleted, hasAttachments bool) (int, error) {
	var flags revtree.Flag
	if deleted {
		flags |= revtree.FlagDeleted
	}
	if hasAttachments {
		flags |= revtree.FlagHasAttachments
	}
	idx, err := td.rr.Tree.InsertHistory(history, body, flags, true, true, td.cfg.maxDepth())
	if err != nil {
		return -1, err
	}
	if len(history) > 0 {
		if rev, ok := td.rr.Tree.Get(history[0]); ok {
			td.selected = rev
		}
	}
	td.exists = true
	return idx, nil
}

func (td *TreeDocument) PurgeRevision(id revid.RevID) (int, error) {
	var selectedID revid.RevID
	hadSelection := td.selected != nil
	if hadSelection {
		selectedID = td.selected.ID
	}

	n, err := td.rr.Tree.Purge(id)
	if err != nil {
		return 0, err
	}
	if hadSelection {
		if _, ok := td.rr.Tree.Get(selectedID); !ok {
			td.selected, _ = td.rr.Tree.CurrentRevision()
		}
	}
	return n, nil
}

// Save prunes the tree to the configured depth, drops non-leaf bodies, and
// persists the resulting Record via txn (spec section 4.4, "save").
func (td *TreeDocument) Save(txn Txn) error {
	td.rr.Tree.RemoveNonLeafBodies()
	td.rr.Tree.Prune(td.cfg.maxDepth())
	rec, err := td.rr.Encode()
	if err != nil {
		return err
	}
	if err := txn.PutRecord(rec); err != nil {
		return err
	}
	td.exists = true
	return nil
}

package revtree

import (
	"fmt"
	"sort"

	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/version"
)

// InsertOutcome distinguishes a freshly created rev from one that already
// existed in the tree (Insert is a no-op in the latter case).
type InsertOutcome int

const (
	Existed InsertOutcome = iota
	Created
)

// RevTree is the branching tree of a single document's tree-scheme
// revisions. Parents are referenced by index into revs — an append-only
// arena — rather than by pointer (see the design note on Rev in
// rev.go); Sort and compact are the only operations that renumber those
// indices, and both do so consistently across revs and remoteRevs.
type RevTree struct {
	revs       []*Rev
	remoteRevs map[RemoteID]int

	sorted bool
}

// New returns an empty RevTree.
func New() *RevTree {
	return &RevTree{remoteRevs: make(map[RemoteID]int)}
}

// Len returns the number of revs currently in the tree.
func (t *RevTree) Len() int { return len(t.revs) }

// Get finds the rev with the given RevID.
func (t *RevTree) Get(id revid.RevID) (*Rev, bool) {
	for _, r := range t.revs {
		if r.ID.Equal(id) {
			return r, true
		}
	}
	return nil, false
}

// GetByIndex returns the rev at position i in the tree's current
// (possibly unsorted) order, or nil if i is out of range.
func (t *RevTree) GetByIndex(i int) *Rev {
	if i < 0 || i >= len(t.revs) {
		return nil
	}
	return t.revs[i]
}

// GetBySequence finds the rev with the given external-store sequence
// number.
func (t *RevTree) GetBySequence(seq uint64) (*Rev, bool) {
	for _, r := range t.revs {
		if r.Sequence == seq {
			return r, true
		}
	}
	return nil, false
}

// Parent returns r's parent rev, if any.
func (t *RevTree) Parent(r *Rev) (*Rev, bool) {
	if r.parent < 0 {
		return nil, false
	}
	return t.revs[r.parent], true
}

func (t *RevTree) indexOfPtr(r *Rev) int {
	for i, x := range t.revs {
		if x == r {
			return i
		}
	}
	return -1
}

// compareRevs reports whether a sorts strictly before b under the
// descending-priority order of spec section 4.2: leaf before non-leaf,
// non-conflict before conflict, live before deleted, not-closed before
// closed, and otherwise higher RevID first.
func compareRevs(a, b *Rev) bool {
	if a.IsLeaf() != b.IsLeaf() {
		return a.IsLeaf()
	}
	if a.IsConflict() != b.IsConflict() {
		return !a.IsConflict()
	}
	if a.IsDeleted() != b.IsDeleted() {
		return !a.IsDeleted()
	}
	if a.IsClosed() != b.IsClosed() {
		return !a.IsClosed()
	}
	return revid.Compare(a.ID, b.ID) == version.Newer
}

// Sort establishes the canonical ordering (revs[0] is the current
// revision) if it isn't already memoized. Any tree mutation that could
// change relative priority must clear the memo by calling invalidateSort.
func (t *RevTree) Sort() {
	if t.sorted {
		return
	}
	n := len(t.revs)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return compareRevs(t.revs[order[a]], t.revs[order[b]])
	})

	newRevs := make([]*Rev, n)
	oldToNew := make([]int, n)
	for newIdx, oldIdx := range order {
		newRevs[newIdx] = t.revs[oldIdx]
		oldToNew[oldIdx] = newIdx
	}
	for _, r := range newRevs {
		if r.parent >= 0 {
			r.parent = oldToNew[r.parent]
		}
	}
	for rid, oldIdx := range t.remoteRevs {
		t.remoteRevs[rid] = oldToNew[oldIdx]
	}
	t.revs = newRevs
	t.sorted = true
}

func (t *RevTree) invalidateSort() { t.sorted = false }

// CurrentRevision returns the canonical current revision: revs[0] after
// Sort.
func (t *RevTree) CurrentRevision() (*Rev, bool) {
	t.Sort()
	if len(t.revs) == 0 {
		return nil, false
	}
	return t.revs[0], true
}

func (t *RevTree) isLatestRemoteRevision(r *Rev) bool {
	idx := t.indexOfPtr(r)
	for _, ridx := range t.remoteRevs {
		if ridx == idx {
			return true
		}
	}
	return false
}

// IsActive reports whether r counts toward a conflict: it must be a leaf,
// and either not deleted or the latest revision known on some remote
// (spec section 4.2, "Conflict").
func (t *RevTree) IsActive(r *Rev) bool {
	if !r.IsLeaf() {
		return false
	}
	return !r.IsDeleted() || t.isLatestRemoteRevision(r)
}

// HasConflict reports whether more than one rev in the tree is active.
func (t *RevTree) HasConflict() bool {
	active := 0
	for _, r := range t.revs {
		if t.IsActive(r) {
			active++
			if active > 1 {
				return true
			}
		}
	}
	return false
}

// resolveIfSingleActive clears IsConflict on the sole remaining active
// rev once a purge or conflict resolution leaves only one.
func (t *RevTree) resolveIfSingleActive() {
	var onlyActive *Rev
	active := 0
	for _, r := range t.revs {
		if t.IsActive(r) {
			active++
			onlyActive = r
		}
	}
	if active == 1 && onlyActive.IsConflict() {
		onlyActive.setFlag(FlagIsConflict, false)
	}
}

// Insert adds a single new revision as a child of parentID (or a new root
// if hasParent is false). If a rev with this id already exists, it is
// returned unchanged with InsertOutcome Existed.
func (t *RevTree) Insert(id revid.RevID, body []byte, flags Flag, parentID revid.RevID, hasParent, allowConflict, markConflict bool) (*Rev, InsertOutcome, error) {
	return t.insert(id, body, flags, parentID, hasParent, allowConflict, markConflict, false)
}

// insert adds a single rev. skipGenCheck mirrors RevTree.cc's distinction
// between the validating insert() (always requires newGen == parentGen+1)
// and the unchecked low-level _insert() that insertHistory calls for every
// link in a history chain, trusting the gap-tolerant validation already
// performed once over the whole chain rather than re-checking generation
// arithmetic per link.
func (t *RevTree) insert(id revid.RevID, body []byte, flags Flag, parentID revid.RevID, hasParent, allowConflict, markConflict, skipGenCheck bool) (*Rev, InsertOutcome, error) {
	if id.Generation() == 0 {
		return nil, Existed, ErrZeroGeneration
	}
	if existing, ok := t.Get(id); ok {
		return existing, Existed, nil
	}

	var parentIdx = -1
	var parentRev *Rev
	if hasParent {
		pr, ok := t.Get(parentID)
		if !ok {
			return nil, Existed, fmt.Errorf("revtree: parent %s: %w", parentID, ErrNotFound)
		}
		parentRev = pr
		parentIdx = t.indexOfPtr(pr)
	}

	if !skipGenCheck {
		if hasParent {
			if id.Generation() != parentRev.ID.Generation()+1 {
				return nil, Existed, ErrBadGeneration
			}
		} else if id.Generation() != 1 {
			return nil, Existed, ErrBadGeneration
		}
	}

	nonEmpty := len(t.revs) > 0
	parentNonLeaf := hasParent && !parentRev.IsLeaf()
	secondRoot := !hasParent && nonEmpty

	if !allowConflict && (parentNonLeaf || secondRoot) {
		return nil, Existed, ErrConflict
	}

	newFlags := (flags & insertableFlags) | FlagLeaf | FlagNew
	if newFlags&FlagClosed != 0 {
		newFlags |= FlagDeleted
	}
	if markConflict && (parentNonLeaf || (hasParent && parentRev.IsConflict()) || secondRoot) {
		newFlags |= FlagIsConflict
	}

	rev := newRev(id, body, newFlags, parentIdx)
	t.revs = append(t.revs, rev)
	if hasParent {
		parentRev.setFlag(FlagLeaf, false)
	}
	t.invalidateSort()
	return rev, Created, nil
}

// InsertHistory inserts a newest-first ordered history of revisions,
// creating bodyless intermediates for everything between the first
// already-known ancestor and the newest entry (which receives body and
// flags). It returns the index into history of the common ancestor: 0 if
// the newest entry itself was already present, or len(history) if no
// ancestor was found and the whole chain was inserted as one new branch
// under a new root.
//
// maxDepth is the tree's configured prune depth. A non-consecutive
// generation sequence is normally rejected, but a gap at or beyond
// maxDepth-1 entries into the history is tolerated — that part of the
// history is going to be pruned away anyway, so replicators may omit it
// to represent long histories compactly (RevTree.cc's findCommonAncestor).
func (t *RevTree) InsertHistory(history []revid.RevID, body []byte, flags Flag, allowConflict, markConflict bool, maxDepth int) (int, error) {
	if len(history) == 0 {
		return -1, ErrBadHistory
	}

	commonAncestor := len(history)
	var lastGen uint64
	for i, id := range history {
		gen := id.Generation()
		if gen == 0 {
			return -1, ErrBadHistory
		}
		if lastGen > 0 && gen != lastGen-1 {
			if !(gen < lastGen && i >= maxDepth-1) {
				return -1, ErrBadHistory
			}
		}
		lastGen = gen
		if _, ok := t.Get(id); ok {
			commonAncestor = i
			break
		}
	}
	if commonAncestor == len(history) && len(t.revs) > 0 && !allowConflict {
		return -1, ErrConflict
	}

	hasParent := commonAncestor < len(history)
	var parentID revid.RevID
	if hasParent {
		parentID = history[commonAncestor]
	}

	for i := commonAncestor - 1; i >= 0; i-- {
		isNewest := i == 0
		var insertBody []byte
		var insertFlags Flag
		if isNewest {
			insertBody = body
			insertFlags = flags
		}
		rev, _, err := t.insert(history[i], insertBody, insertFlags, parentID, hasParent, true, markConflict && isNewest, true)
		if err != nil {
			return -1, err
		}
		parentID = rev.ID
		hasParent = true
	}
	return commonAncestor, nil
}

// Prune removes revs whose distance from every leaf exceeds maxDepth,
// except revs marked KeepBody and except revs that are a remoteRevs tip.
// It returns the number of revs actually removed.
func (t *RevTree) Prune(maxDepth int) int {
	n := len(t.revs)
	if n == 0 {
		return 0
	}
	depth := make([]int, n)
	for i := range depth {
		depth[i] = -1
	}
	for i, r := range t.revs {
		if r.IsLeaf() {
			depth[i] = 0
		}
	}
	for changed := true; changed; {
		changed = false
		for i, r := range t.revs {
			if depth[i] < 0 || r.parent < 0 {
				continue
			}
			nd := depth[i] + 1
			if depth[r.parent] < 0 || nd < depth[r.parent] {
				depth[r.parent] = nd
				changed = true
			}
		}
	}

	pruned := 0
	for i, r := range t.revs {
		if depth[i] > maxDepth && !r.KeepsBody() && !t.isRemoteTip(i) {
			r.Flags |= FlagPurge
			pruned++
		}
	}
	if pruned > 0 {
		t.compact()
	}
	return pruned
}

func (t *RevTree) isRemoteTip(idx int) bool {
	for _, ridx := range t.remoteRevs {
		if ridx == idx {
			return true
		}
	}
	return false
}

// Purge removes the named leaf and walks upward removing ancestors that
// become childless as a result. It returns the number of revs removed.
func (t *RevTree) Purge(leafID revid.RevID) (int, error) {
	idx := -1
	for i, r := range t.revs {
		if r.ID.Equal(leafID) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, ErrNotFound
	}
	if !t.revs[idx].IsLeaf() {
		return 0, fmt.Errorf("revtree: %s is not a leaf: %w", leafID, ErrConflict)
	}

	count := 0
	cur := idx
	for cur >= 0 {
		if t.hasLiveChild(cur) {
			break
		}
		t.revs[cur].Flags |= FlagPurge
		count++
		for rid, ridx := range t.remoteRevs {
			if ridx == cur {
				delete(t.remoteRevs, rid)
			}
		}
		cur = t.revs[cur].parent
	}
	if count > 0 {
		t.compact()
		t.resolveIfSingleActive()
	}
	return count, nil
}

func (t *RevTree) hasLiveChild(idx int) bool {
	for _, r := range t.revs {
		if r.parent == idx && r.Flags&FlagPurge == 0 {
			return true
		}
	}
	return false
}

// compact physically removes revs flagged Purge and renumbers parent
// indices and remoteRevs entries accordingly.
func (t *RevTree) compact() {
	anyPurged := false
	for _, r := range t.revs {
		if r.Flags&FlagPurge != 0 {
			anyPurged = true
			break
		}
	}
	if !anyPurged {
		return
	}

	mapping := make([]int, len(t.revs))
	newRevs := make([]*Rev, 0, len(t.revs))
	for i, r := range t.revs {
		if r.Flags&FlagPurge != 0 {
			mapping[i] = -1
			continue
		}
		mapping[i] = len(newRevs)
		newRevs = append(newRevs, r)
	}
	for _, r := range newRevs {
		if r.parent >= 0 {
			r.parent = mapping[r.parent]
		}
	}
	newRemote := make(map[RemoteID]int, len(t.remoteRevs))
	for rid, idx := range t.remoteRevs {
		if ni := mapping[idx]; ni >= 0 {
			newRemote[rid] = ni
		}
	}
	t.revs = newRevs
	t.remoteRevs = newRemote
	t.invalidateSort()

	// A purge may unblock a previously-leafless ancestor; recompute Leaf
	// flags rather than trusting stale state carried from before compact.
	hasChild := make(map[int]bool, len(t.revs))
	for _, r := range t.revs {
		if r.parent >= 0 {
			hasChild[r.parent] = true
		}
	}
	for i, r := range t.revs {
		r.setFlag(FlagLeaf, !hasChild[i])
	}
}

// RemoveNonLeafBodies clears the body of every non-leaf rev that isn't
// marked KeepBody, mirroring the original RevTree's eager body eviction
// on save.
func (t *RevTree) RemoveNonLeafBodies() {
	for _, r := range t.revs {
		if !r.IsLeaf() && !r.KeepsBody() {
			r.Body = nil
		}
	}
}

// SetKeepBody marks r to retain its body through pruning, clearing the
// flag on every ancestor on r's root-to-leaf path so at most one rev per
// path keeps a body.
func (t *RevTree) SetKeepBody(r *Rev) {
	for cur := r.parent; cur >= 0; cur = t.revs[cur].parent {
		t.revs[cur].setFlag(FlagKeepBody, false)
	}
	r.setFlag(FlagKeepBody, true)
}

// ResetConflictSequence invalidates r's external-store sequence number so
// the caller knows to rewrite it; used after a losing conflict branch is
// superseded (spec-adjacent to RevTree.cc's resetConflictSequence).
func (t *RevTree) ResetConflictSequence(r *Rev) {
	r.Sequence = 0
}

// SetLatestRevisionOnRemote records rev as the newest revision known to
// have been seen by remote, or clears the entry if rev is nil.
func (t *RevTree) SetLatestRevisionOnRemote(remote RemoteID, rev *Rev) {
	if rev == nil {
		delete(t.remoteRevs, remote)
		return
	}
	idx := t.indexOfPtr(rev)
	if idx < 0 {
		return
	}
	t.remoteRevs[remote] = idx
}

// LatestRevisionOnRemote returns the rev last recorded for remote.
func (t *RevTree) LatestRevisionOnRemote(remote RemoteID) (*Rev, bool) {
	idx, ok := t.remoteRevs[remote]
	if !ok {
		return nil, false
	}
	return t.revs[idx], true
}

// IsLatestRevisionOnRemote reports whether rev is the latest revision
// recorded for remote.
func (t *RevTree) IsLatestRevisionOnRemote(remote RemoteID, rev *Rev) bool {
	idx, ok := t.remoteRevs[remote]
	return ok && t.revs[idx] == rev
}

// RemoteIDs returns every RemoteID this tree tracks a tip for, in no
// particular order. Used by the upgrader to migrate every tracked remote
// rather than assuming a single one (RevTree.cc's remoteRevisions()).
func (t *RevTree) RemoteIDs() []RemoteID {
	ids := make([]RemoteID, 0, len(t.remoteRevs))
	for rid := range t.remoteRevs {
		ids = append(ids, rid)
	}
	return ids
}

// CommonAncestor walks from and to toward the root, returning the deepest
// rev they share. Used by the upgrader (spec section 4.5) to measure how
// much of the local branch is unacknowledged by a remote.
func (t *RevTree) CommonAncestor(from, to *Rev) (*Rev, bool) {
	ancestors := make(map[*Rev]bool)
	for r := from; r != nil; {
		ancestors[r] = true
		p, ok := t.Parent(r)
		if !ok {
			break
		}
		r = p
	}
	for r := to; r != nil; {
		if ancestors[r] {
			return r, true
		}
		p, ok := t.Parent(r)
		if !ok {
			break
		}
		r = p
	}
	return nil, false
}

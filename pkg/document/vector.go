package document

import (
	"errors"
	"fmt"
	"sort"

	"github.com/i5heu/ouroboros-revdoc/pkg/record"
	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/revtree"
	"github.com/i5heu/ouroboros-revdoc/pkg/status"
	"github.com/i5heu/ouroboros-revdoc/pkg/version"
)

// VectorDocument is the vector-scheme Document façade: its cursor names a
// slot (LocalRemoteID or a tracked remote) rather than a tree node, since
// the vector scheme has no explicit parent pointers (spec glossary).
type VectorDocument struct {
	cfg     Config
	key     []byte
	docType string
	loaded  bool
	exists  bool

	vr *record.VectorRecord

	hasSelection   bool
	selectedRemote revtree.RemoteID
	selectedRevID  revid.RevID
	selectedBody   []byte
	selectedFlags  record.Flag
}

func newVectorDocument(cfg Config, key []byte) *VectorDocument {
	return &VectorDocument{
		cfg: cfg,
		key: append([]byte(nil), key...),
		vr:  record.NewVectorRecord(key),
	}
}

func (vd *VectorDocument) Key() []byte      { return vd.key }
func (vd *VectorDocument) Exists() bool     { return vd.exists }
func (vd *VectorDocument) Type() string     { return vd.docType }
func (vd *VectorDocument) SetType(t string) { vd.docType = t }

func (vd *VectorDocument) RevisionsLoaded() bool { return vd.loaded }

func (vd *VectorDocument) LoadRevisions(txn Txn) error {
	if vd.loaded {
		return nil
	}
	rec, err := txn.GetRecord(vd.key)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			vd.vr = record.NewVectorRecord(vd.key)
			vd.loaded = true
			vd.exists = false
			return nil
		}
		return err
	}
	vr, err := record.DecodeVectorRecord(rec)
	if err != nil {
		return err
	}
	vd.vr = vr
	vd.loaded = true
	vd.exists = true
	return nil
}

func (vd *VectorDocument) localVector() (version.VersionVector, error) {
	return vd.vr.LocalVector()
}

func (vd *VectorDocument) selectLocal(withBody bool) error {
	localVV, err := vd.localVector()
	if err != nil {
		return err
	}
	if withBody && vd.vr.Record.Body == nil {
		return status.ErrGone
	}
	vd.hasSelection = true
	vd.selectedRemote = LocalRemoteID
	vd.selectedRevID = revid.NewVector(localVV)
	vd.selectedBody = vd.vr.Record.Body
	vd.selectedFlags = vd.vr.Record.Flags
	return nil
}

func (vd *VectorDocument) selectRemote(remote revtree.RemoteID, rev record.Revision, withBody bool) error {
	if withBody && rev.Body == nil {
		return status.ErrGone
	}
	vd.hasSelection = true
	vd.selectedRemote = remote
	vd.selectedRevID = rev.RevID
	vd.selectedBody = rev.Body
	vd.selectedFlags = rev.Flags
	return nil
}

// vectorMatches implements the vector-scheme "select by revID" rule (spec
// section 4.4): a full vector (more than one entry) matches by binary
// (order-insensitive, per-peer) equality; a single Version matches only
// the current tip of the candidate vector.
func vectorMatches(id revid.RevID, candidate version.VersionVector) bool {
	if !id.IsVersion() {
		return false
	}
	vv := id.Vector()
	if vv.Count() > 1 {
		return version.Compare(vv, candidate) == version.Same
	}
	single, ok := vv.Current()
	if !ok {
		return false
	}
	return single.CompareToVector(candidate) == version.Same
}

func (vd *VectorDocument) SelectRevision(id revid.RevID, withBody bool) error {
	if !id.IsVersion() {
		return status.ErrBadRevisionID
	}
	localVV, err := vd.localVector()
	if err != nil {
		return err
	}
	if vectorMatches(id, localVV) {
		return vd.selectLocal(withBody)
	}
	for rid, rev := range vd.vr.Remotes {
		if vectorMatches(id, rev.RevID.Vector()) {
			return vd.selectRemote(rid, rev, withBody)
		}
	}
	return fmt.Errorf("document: revision %s: %w", id, status.ErrNotFound)
}

func (vd *VectorDocument) SelectCurrentRevision() error {
	return vd.selectLocal(false)
}

// SelectParentRevision has no analogue in the vector scheme: there are no
// explicit parent pointers (spec glossary, "Vector-scheme").
func (vd *VectorDocument) SelectParentRevision() error {
	return fmt.Errorf("document: vector scheme has no parent pointers: %w", status.ErrUnimplemented)
}

// orderedSlots returns LocalRemoteID followed by tracked remote IDs in
// ascending order, the stable iteration order SelectNextRevision and
// SelectNextLeafRevision walk.
func (vd *VectorDocument) orderedSlots() []revtree.RemoteID {
	out := make([]revtree.RemoteID, 0, len(vd.vr.Remotes)+1)
	out = append(out, LocalRemoteID)
	ids := make([]revtree.RemoteID, 0, len(vd.vr.Remotes))
	for rid := range vd.vr.Remotes {
		ids = append(ids, rid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return append(out, ids...)
}

func (vd *VectorDocument) SelectNextRevision() error {
	if !vd.hasSelection {
		return errNoSelection
	}
	slots := vd.orderedSlots()
	idx := -1
	for i, s := range slots {
		if s == vd.selectedRemote {
			idx = i
			break
		}
	}
	if idx < 0 || idx+1 >= len(slots) {
		return fmt.Errorf("document: %w", status.ErrNotFound)
	}
	return vd.selectSlot(slots[idx+1], false)
}

func (vd *VectorDocument) selectSlot(remote revtree.RemoteID, withBody bool) error {
	if remote == LocalRemoteID {
		return vd.selectLocal(withBody)
	}
	rev, ok := vd.vr.Remotes[remote]
	if !ok {
		return fmt.Errorf("document: remote %d: %w", remote, status.ErrNotFound)
	}
	return vd.selectRemote(remote, rev, withBody)
}

// SelectNextLeafRevision treats every tracked slot (Local plus each
// remote) as a tip, since the vector scheme has no internal tree shape —
// every Revision it holds is already a leaf. Exhaustion returns (false,
// nil), matching the tree scheme's contract (SPEC_FULL.md section 5).
func (vd *VectorDocument) SelectNextLeafRevision(includeDeleted bool) (bool, error) {
	slots := vd.orderedSlots()
	start := 0
	if vd.hasSelection {
		for i, s := range slots {
			if s == vd.selectedRemote {
				start = i + 1
				break
			}
		}
	}
	for i := start; i < len(slots); i++ {
		remote := slots[i]
		deleted := false
		if remote == LocalRemoteID {
			deleted = vd.vr.Record.Flags.Has(record.FlagDeleted)
		} else {
			deleted = vd.vr.Remotes[remote].Flags.Has(record.FlagDeleted)
		}
		if deleted && !includeDeleted {
			continue
		}
		_ = vd.selectSlot(remote, false)
		return true, nil
	}
	return false, nil
}

func (vd *VectorDocument) Selected() (Selection, bool) {
	if !vd.hasSelection {
		return Selection{}, false
	}
	return Selection{
		RevID:          vd.selectedRevID,
		Remote:         vd.selectedRemote,
		Deleted:        vd.selectedFlags.Has(record.FlagDeleted),
		HasAttachments: vd.selectedFlags.Has(record.FlagHasAttachments),
		IsConflict:     vd.selectedFlags.Has(record.FlagConflicted),
		Body:           vd.selectedBody,
		BodyLoaded:     vd.selectedBody != nil,
	}, true
}

func (vd *VectorDocument) HasRevisionBody() bool {
	return vd.hasSelection && vd.selectedBody != nil
}

// LoadSelectedRevBody reports whether the selected slot's body is present.
// Neither Local's nor a remote's body can be fetched lazily here — that is
// the replicator's job, out of scope (spec section 1) — so an absent body
// is always status.ErrGone.
func (vd *VectorDocument) LoadSelectedRevBody() error {
	if !vd.hasSelection {
		return errNoSelection
	}
	if vd.selectedBody != nil {
		return nil
	}
	return status.ErrGone
}

// setRemoteSlot writes id/body/flags into the named slot: Local's own
// Record fields, or an entry in vr.Remotes.
func (vd *VectorDocument) setRemoteSlot(remote revtree.RemoteID, id revid.RevID, body []byte, deleted, hasAttachments bool) {
	flags := vectorDocFlags(deleted, hasAttachments)
	if remote == LocalRemoteID {
		vd.vr.SetLocalVector(id.Vector())
		vd.vr.Record.Body = body
		vd.vr.Record.Flags = flags
		return
	}
	vd.vr.Remotes[remote] = record.Revision{RevID: id, Body: body, Flags: flags}
}

// PutExistingRevision implements the putExistingRevision ordering table
// from spec section 4.4: the replicator-facing entry point for applying a
// revision that arrived already fully identified (as opposed to InsertRevision,
// which derives a new identity for a local edit).
func (vd *VectorDocument) PutExistingRevision(remote revtree.RemoteID, newID revid.RevID, body []byte, deleted, hasAttachments bool) (int, error) {
	if !newID.IsVersion() {
		return -1, status.ErrBadRevisionID
	}
	newVV := newID.Vector()

	// The comparand is always Local's current vector, whether the incoming
	// revision originates at Local or at a remote: a remote's own previously
	// tracked tip plays no part in deciding whether this arrival should move
	// Local forward.
	localVV, err := vd.localVector()
	if err != nil {
		return -1, err
	}

	switch version.Compare(newVV, localVV) {
	case version.Conflicting:
		if remote == LocalRemoteID {
			return -1, status.ErrConflict
		}
		flags := vectorDocFlags(deleted, hasAttachments) | record.FlagConflicted
		vd.vr.Remotes[remote] = record.Revision{RevID: newID, Body: body, Flags: flags}
		vd.vr.Record.Flags |= record.FlagConflicted
		return 1, nil
	case version.Newer:
		vd.setRemoteSlot(LocalRemoteID, newID, body, deleted, hasAttachments)
		if remote != LocalRemoteID {
			vd.setRemoteSlot(remote, newID, body, deleted, hasAttachments)
		}
		return 1, nil
	default: // Same or Older
		if remote != LocalRemoteID {
			vd.setRemoteSlot(remote, newID, body, deleted, hasAttachments)
		}
		return 0, nil
	}
}

func (vd *VectorDocument) InsertRevision(id revid.RevID, body []byte, deleted, hasAttachments, allowConflict bool) (int, error) {
	if !id.IsVersion() {
		return -1, status.ErrBadRevisionID
	}
	localVV, err := vd.localVector()
	if err != nil {
		return -1, err
	}
	order := version.Compare(id.Vector(), localVV)
	if order == version.Conflicting && !allowConflict {
		return -1, status.ErrConflict
	}
	if order != version.Newer && order != version.Conflicting {
		return 0, nil
	}
	vd.setRemoteSlot(LocalRemoteID, id, body, deleted, hasAttachments)
	if order == version.Conflicting {
		vd.vr.Record.Flags |= record.FlagConflicted
	}
	vd.exists = true
	return 1, nil
}

// InsertRevisionWithHistory treats history[0] (the vector scheme has no
// generation chain, so only the newest entry is meaningful) as a
// replicator-sourced revision arriving on the default remote slot.
func (vd *VectorDocument) InsertRevisionWithHistory(history []revid.RevID, body []byte, deleted, hasAttachments bool) (int, error) {
	if len(history) == 0 {
		return -1, status.ErrBadRevisionID
	}
	idx, err := vd.PutExistingRevision(revtree.DefaultRemoteID, history[0], body, deleted, hasAttachments)
	if err != nil {
		return -1, err
	}
	vd.exists = true
	return idx, nil
}

func (vd *VectorDocument) PurgeRevision(id revid.RevID) (int, error) {
	localVV, err := vd.localVector()
	if err != nil {
		return 0, err
	}
	if vectorMatches(id, localVV) {
		return 0, fmt.Errorf("document: cannot purge the local revision: %w", status.ErrConflict)
	}
	for rid, rev := range vd.vr.Remotes {
		if vectorMatches(id, rev.RevID.Vector()) {
			delete(vd.vr.Remotes, rid)
			if vd.hasSelection && vd.selectedRemote == rid {
				_ = vd.selectLocal(false)
			}
			return 1, nil
		}
	}
	return 0, fmt.Errorf("document: revision %s: %w", id, status.ErrNotFound)
}

// ResolveConflict synthesizes a merge identity from Local and a Conflicted
// remote (spec section 4.4): exactly one of winner/loser must name Local,
// the other a tracked remote.
func (vd *VectorDocument) ResolveConflict(txn Txn, winner, loser revid.RevID, mergedBody []byte, mergedFlags record.Flag) error {
	localVV, err := vd.localVector()
	if err != nil {
		return err
	}
	winnerIsLocal := vectorMatches(winner, localVV)
	loserIsLocal := vectorMatches(loser, localVV)
	if winnerIsLocal == loserIsLocal {
		return fmt.Errorf("document: resolveConflict requires exactly one operand to be Local: %w", status.ErrBadRevisionID)
	}

	remoteRevID := loser
	if loserIsLocal {
		remoteRevID = winner
	}

	var remoteID revtree.RemoteID
	var remoteRev record.Revision
	found := false
	for rid, rev := range vd.vr.Remotes {
		if vectorMatches(remoteRevID, rev.RevID.Vector()) {
			remoteID, remoteRev, found = rid, rev, true
			break
		}
	}
	if !found {
		return fmt.Errorf("document: remote revision %s: %w", remoteRevID, status.ErrNotFound)
	}

	merged := version.Merge(localVV, remoteRev.RevID.Vector())
	if err := merged.IncrementGen(vd.cfg.MyID); err != nil {
		return err
	}

	body := mergedBody
	if body == nil {
		if winnerIsLocal {
			body = vd.vr.Record.Body
		} else {
			body = remoteRev.Body
		}
	}

	vd.vr.SetLocalVector(merged)
	vd.vr.Record.Body = body
	vd.vr.Record.Flags = mergedFlags &^ record.FlagConflicted

	remoteRev.Flags &^= record.FlagConflicted
	vd.vr.Remotes[remoteID] = remoteRev

	return vd.selectLocal(true)
}

// Save bounds the local vector's peer count to the configured depth (the
// vector-scheme analogue of MaxRevTreeDepth; SPEC_FULL.md section 4 item 2)
// and persists the resulting Record via txn.
func (vd *VectorDocument) Save(txn Txn) error {
	localVV, err := vd.localVector()
	if err != nil {
		return err
	}
	vd.vr.SetLocalVector(localVV.LimitCount(vd.cfg.maxDepth()))
	rec, err := vd.vr.Encode()
	if err != nil {
		return err
	}
	if err := txn.PutRecord(rec); err != nil {
		return err
	}
	vd.exists = true
	return nil
}

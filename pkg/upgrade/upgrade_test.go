package upgrade_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-revdoc/pkg/record"
	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/revtree"
	"github.com/i5heu/ouroboros-revdoc/pkg/status"
	"github.com/i5heu/ouroboros-revdoc/pkg/upgrade"
	"github.com/i5heu/ouroboros-revdoc/pkg/version"
)

// memStore is a minimal in-memory stand-in for kvstore.Store, just enough
// to drive upgrade.Run's single-transaction contract in tests.
type memStore struct {
	records map[string]record.Record
}

type memTxn struct{ s *memStore }

func (t memTxn) ForEach(fn func(record.Record) error) error {
	for _, rec := range t.s.records {
		if err := fn(rec.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (t memTxn) PutRecord(rec record.Record) error {
	t.s.records[string(rec.Key)] = rec.Clone()
	return nil
}

func (s *memStore) Update(fn func(upgrade.Txn) error) error {
	return fn(memTxn{s: s})
}

func mustTreeID(id string) revid.RevID {
	r, err := revid.Parse(id, version.Me)
	if err != nil {
		panic(err)
	}
	return r
}

func TestUpgradeNoOpWhenAlreadyVector(t *testing.T) {
	s := &memStore{records: map[string]record.Record{}}
	err := upgrade.Run(s, upgrade.SchemeVector, upgrade.SchemeVector, false, false)
	require.NoError(t, err)
}

func TestUpgradeRejectsDowngrade(t *testing.T) {
	s := &memStore{records: map[string]record.Record{}}
	err := upgrade.Run(s, upgrade.SchemeVector, upgrade.SchemeTree, false, false)
	require.ErrorIs(t, err, status.ErrUnimplemented)
}

func TestUpgradeRejectsWhenNotAllowed(t *testing.T) {
	s := &memStore{records: map[string]record.Record{}}
	err := upgrade.Run(s, upgrade.SchemeTree, upgrade.SchemeVector, true, false)
	require.ErrorIs(t, err, status.ErrCantUpgradeDatabase)

	err = upgrade.Run(s, upgrade.SchemeTree, upgrade.SchemeVector, false, true)
	require.ErrorIs(t, err, status.ErrCantUpgradeDatabase)
}

// TestUpgradeMigratesRecord covers a tree doc whose current revision is at
// generation 3 and whose tracked remote last acknowledged its parent at
// generation 2. That generation-2 revision is the common ancestor, so the
// doc migrates to vector [2@kLegacy, 1@kMe], body preserved, sequence
// preserved.
func TestUpgradeMigratesRecord(t *testing.T) {
	tree := revtree.New()
	_, _, err := tree.Insert(mustTreeID("1-aaaa"), []byte("body1"), 0, revid.RevID{}, false, false, false)
	require.NoError(t, err)
	_, _, err = tree.Insert(mustTreeID("2-bbbb"), []byte("body2"), 0, mustTreeID("1-aaaa"), true, false, false)
	require.NoError(t, err)
	_, _, err = tree.Insert(mustTreeID("3-cccc"), []byte("body3"), 0, mustTreeID("2-bbbb"), true, false, false)
	require.NoError(t, err)

	remoteRev, ok := tree.Get(mustTreeID("2-bbbb"))
	require.True(t, ok)
	tree.SetLatestRevisionOnRemote(revtree.DefaultRemoteID, remoteRev)

	rr := &record.RevTreeRecord{
		Record: record.Record{Key: []byte("doc1"), Sequence: 42},
		Tree:   tree,
	}
	rec, err := rr.Encode()
	require.NoError(t, err)
	rec.Sequence = 42

	s := &memStore{records: map[string]record.Record{"doc1": rec}}
	err = upgrade.Run(s, upgrade.SchemeTree, upgrade.SchemeVector, false, false)
	require.NoError(t, err)

	migrated := s.records["doc1"]
	assert.Equal(t, uint64(42), migrated.Sequence)
	assert.Equal(t, []byte("body3"), migrated.Body)

	vv, err := version.ParseVersionVectorBinary(migrated.Version)
	require.NoError(t, err)
	require.Equal(t, 2, vv.Count())
	assert.Equal(t, version.New(2, version.Legacy), vv.At(0))
	assert.Equal(t, version.New(1, version.Me), vv.At(1))

	vr, err := record.DecodeVectorRecord(migrated)
	require.NoError(t, err)
	remote, ok := vr.Remotes[revtree.DefaultRemoteID]
	require.True(t, ok)
	assert.Equal(t, []byte("body2"), remote.Body)
}

// TestUpgradeMigratesAllTrackedRemotes covers a document tracked by two
// replication peers: one acknowledged an older revision (legacy single-entry
// path) and the other has already caught up to the document's current tip
// (the "rev == currentRev" special case, which carries the full migrated
// vector rather than a bespoke legacy entry). Both must survive the
// migration, not just revtree.DefaultRemoteID's.
func TestUpgradeMigratesAllTrackedRemotes(t *testing.T) {
	tree := revtree.New()
	_, _, err := tree.Insert(mustTreeID("1-aaaa"), []byte("body1"), 0, revid.RevID{}, false, false, false)
	require.NoError(t, err)
	_, _, err = tree.Insert(mustTreeID("2-bbbb"), []byte("body2"), 0, mustTreeID("1-aaaa"), true, false, false)
	require.NoError(t, err)
	_, _, err = tree.Insert(mustTreeID("3-cccc"), []byte("body3"), 0, mustTreeID("2-bbbb"), true, false, false)
	require.NoError(t, err)

	behindRev, ok := tree.Get(mustTreeID("2-bbbb"))
	require.True(t, ok)
	tree.SetLatestRevisionOnRemote(revtree.DefaultRemoteID, behindRev)

	currentRev, ok := tree.CurrentRevision()
	require.True(t, ok)
	caughtUpRemote := revtree.RemoteID(7)
	tree.SetLatestRevisionOnRemote(caughtUpRemote, currentRev)

	rr := &record.RevTreeRecord{
		Record: record.Record{Key: []byte("doc2"), Sequence: 9},
		Tree:   tree,
	}
	rec, err := rr.Encode()
	require.NoError(t, err)
	rec.Sequence = 9

	s := &memStore{records: map[string]record.Record{"doc2": rec}}
	err = upgrade.Run(s, upgrade.SchemeTree, upgrade.SchemeVector, false, false)
	require.NoError(t, err)

	migrated := s.records["doc2"]
	vr, err := record.DecodeVectorRecord(migrated)
	require.NoError(t, err)
	require.Len(t, vr.Remotes, 2)

	behind, ok := vr.Remotes[revtree.DefaultRemoteID]
	require.True(t, ok)
	assert.Equal(t, []byte("body2"), behind.Body)
	behindVV := behind.RevID.Vector()
	require.Equal(t, 1, behindVV.Count())
	assert.Equal(t, version.New(2, version.Legacy), behindVV.At(0))

	caughtUp, ok := vr.Remotes[caughtUpRemote]
	require.True(t, ok)
	assert.Equal(t, []byte("body3"), caughtUp.Body)

	docVV, err := version.ParseVersionVectorBinary(migrated.Version)
	require.NoError(t, err)
	assert.Equal(t, docVV, caughtUp.RevID.Vector())
}

func TestUpgradeSkipsEmptyTree(t *testing.T) {
	rr := record.NewRevTreeRecord([]byte("empty"))
	rec, err := func() (record.Record, error) {
		// An empty RevTreeRecord has no current revision; Encode would
		// fail, so emulate a bare, untouched Record directly.
		return record.Record{Key: rr.Record.Key}, nil
	}()
	require.NoError(t, err)

	s := &memStore{records: map[string]record.Record{"empty": rec}}
	err = upgrade.Run(s, upgrade.SchemeTree, upgrade.SchemeVector, false, false)
	require.NoError(t, err)
	assert.Equal(t, rec, s.records["empty"])
}

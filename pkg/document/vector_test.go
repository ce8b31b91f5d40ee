package document_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-revdoc/pkg/document"
	"github.com/i5heu/ouroboros-revdoc/pkg/record"
	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/revtree"
	"github.com/i5heu/ouroboros-revdoc/pkg/status"
	"github.com/i5heu/ouroboros-revdoc/pkg/version"
)

func vectorConfig() document.Config {
	return document.Config{Scheme: document.SchemeVector, MaxRevTreeDepth: 20}
}

const testRemote = revtree.RemoteID(7)

func TestFreshInsertVectorScheme(t *testing.T) {
	txn := newMemTxn()
	f := document.NewFactory(vectorConfig())

	res, err := f.Put(txn, document.PutRequest{
		DocID: "doc1",
		Body:  []byte("v1"),
		Save:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "doc1", res.DocID)
	assert.Equal(t, uint64(1), res.RevID.Generation())

	doc := document.Open(vectorConfig(), []byte("doc1"))
	require.NoError(t, doc.LoadRevisions(txn))
	assert.True(t, doc.Exists())
	require.NoError(t, doc.SelectCurrentRevision())
	sel, ok := doc.Selected()
	require.True(t, ok)
	assert.Equal(t, "v1", string(sel.Body))
	assert.Equal(t, document.LocalRemoteID, sel.Remote)
}

// TestPutExistingRevisionNewerPropagatesToLocal exercises the Newer row of
// the putExistingRevision table: a remote revision whose vector strictly
// dominates Local's current vector must both become Local's new current
// state and be recorded as that remote's tip.
func TestPutExistingRevisionNewerPropagatesToLocal(t *testing.T) {
	txn := newMemTxn()
	cfg := vectorConfig()
	f := document.NewFactory(cfg)

	res1, err := f.Put(txn, document.PutRequest{DocID: "doc1", Body: []byte("v1"), Save: true})
	require.NoError(t, err)
	localVV := res1.RevID.Vector()
	assert.Equal(t, uint64(1), localVV.GenOf(version.Me))

	doc := document.Open(cfg, []byte("doc1"))
	require.NoError(t, doc.LoadRevisions(txn))
	_, ok := doc.(document.ConflictResolver)
	require.True(t, ok)

	newerVV := version.Of(version.New(1, 99), version.New(1, version.Me))
	newerID := revid.NewVector(newerVV)

	idx, err := doc.InsertRevisionWithHistory([]revid.RevID{newerID}, []byte("from-peer-99"), false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	require.NoError(t, doc.SelectCurrentRevision())
	sel, ok := doc.Selected()
	require.True(t, ok)
	assert.Equal(t, "from-peer-99", string(sel.Body))

	require.NoError(t, doc.Save(txn))

	reloaded := document.Open(cfg, []byte("doc1"))
	require.NoError(t, reloaded.LoadRevisions(txn))
	require.NoError(t, reloaded.SelectCurrentRevision())
	sel, _ = reloaded.Selected()
	assert.Equal(t, "from-peer-99", string(sel.Body))
}

// TestPutExistingRevisionConflictingMarksRemoteOnly exercises the
// Conflicting row: a remote revision that neither dominates nor is
// dominated by Local must not disturb Local, but must still be recorded
// (as the conflicting remote tip) and flip the document's conflict flag.
func TestPutExistingRevisionConflictingMarksRemoteOnly(t *testing.T) {
	txn := newMemTxn()
	cfg := vectorConfig()
	f := document.NewFactory(cfg)

	_, err := f.Put(txn, document.PutRequest{DocID: "doc1", Body: []byte("v1"), Save: true})
	require.NoError(t, err)

	doc := document.Open(cfg, []byte("doc1"))
	require.NoError(t, doc.LoadRevisions(txn))

	conflictingVV := version.Of(version.New(1, version.PeerID(testRemote)))
	conflictingID := revid.NewVector(conflictingVV)

	idx, err := f.Put(txn, document.PutRequest{
		DocID:   "doc1",
		History: []string{conflictingID.ASCII(0)},
		Body:    []byte("from-remote-7"),
		Remote:  testRemote,
		Save:    true,
	})
	_ = idx
	require.NoError(t, err)

	reloaded := document.Open(cfg, []byte("doc1"))
	require.NoError(t, reloaded.LoadRevisions(txn))
	require.NoError(t, reloaded.SelectCurrentRevision())
	sel, _ := reloaded.Selected()
	assert.Equal(t, "v1", string(sel.Body))
	assert.True(t, sel.IsConflict)

	require.NoError(t, reloaded.SelectRevision(conflictingID, false))
	sel, _ = reloaded.Selected()
	assert.Equal(t, "from-remote-7", string(sel.Body))
	assert.Equal(t, testRemote, sel.Remote)
}

func TestResolveConflictSynthesizesMergeVersion(t *testing.T) {
	txn := newMemTxn()
	cfg := vectorConfig()
	f := document.NewFactory(cfg)

	localRes, err := f.Put(txn, document.PutRequest{DocID: "doc1", Body: []byte("v1"), Save: true})
	require.NoError(t, err)

	conflictingVV := version.Of(version.New(1, version.PeerID(testRemote)))
	conflictingID := revid.NewVector(conflictingVV)
	_, err = f.Put(txn, document.PutRequest{
		DocID:   "doc1",
		History: []string{conflictingID.ASCII(0)},
		Body:    []byte("from-remote-7"),
		Remote:  testRemote,
		Save:    true,
	})
	require.NoError(t, err)

	doc := document.Open(cfg, []byte("doc1"))
	require.NoError(t, doc.LoadRevisions(txn))
	resolver, ok := doc.(document.ConflictResolver)
	require.True(t, ok)

	err = resolver.ResolveConflict(txn, localRes.RevID, conflictingID, []byte("merged"), record.FlagDeleted&0)
	require.NoError(t, err)
	require.NoError(t, doc.Save(txn))

	reloaded := document.Open(cfg, []byte("doc1"))
	require.NoError(t, reloaded.LoadRevisions(txn))
	require.NoError(t, reloaded.SelectCurrentRevision())
	sel, ok := reloaded.Selected()
	require.True(t, ok)
	assert.Equal(t, "merged", string(sel.Body))
	assert.False(t, sel.IsConflict)
}

func TestPurgeRevisionVectorScheme(t *testing.T) {
	txn := newMemTxn()
	cfg := vectorConfig()
	f := document.NewFactory(cfg)

	_, err := f.Put(txn, document.PutRequest{DocID: "doc1", Body: []byte("v1"), Save: true})
	require.NoError(t, err)

	conflictingVV := version.Of(version.New(1, version.PeerID(testRemote)))
	conflictingID := revid.NewVector(conflictingVV)
	_, err = f.Put(txn, document.PutRequest{
		DocID:   "doc1",
		History: []string{conflictingID.ASCII(0)},
		Body:    []byte("from-remote-7"),
		Remote:  testRemote,
		Save:    true,
	})
	require.NoError(t, err)

	doc := document.Open(cfg, []byte("doc1"))
	require.NoError(t, doc.LoadRevisions(txn))

	n, err := doc.PurgeRevision(conflictingID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = doc.SelectRevision(conflictingID, false)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestSelectNextLeafRevisionVectorSchemeWalksSlots(t *testing.T) {
	txn := newMemTxn()
	cfg := vectorConfig()
	f := document.NewFactory(cfg)

	_, err := f.Put(txn, document.PutRequest{DocID: "doc1", Body: []byte("v1"), Save: true})
	require.NoError(t, err)

	conflictingVV := version.Of(version.New(1, version.PeerID(testRemote)))
	conflictingID := revid.NewVector(conflictingVV)
	_, err = f.Put(txn, document.PutRequest{
		DocID:   "doc1",
		History: []string{conflictingID.ASCII(0)},
		Body:    []byte("from-remote-7"),
		Remote:  testRemote,
		Save:    true,
	})
	require.NoError(t, err)

	doc := document.Open(cfg, []byte("doc1"))
	require.NoError(t, doc.LoadRevisions(txn))

	var bodies []string
	for {
		ok, err := doc.SelectNextLeafRevision(true)
		require.NoError(t, err)
		if !ok {
			break
		}
		sel, _ := doc.Selected()
		bodies = append(bodies, string(sel.Body))
	}
	assert.ElementsMatch(t, []string{"v1", "from-remote-7"}, bodies)

	ok, err := doc.SelectNextLeafRevision(true)
	require.NoError(t, err)
	assert.False(t, ok)
}

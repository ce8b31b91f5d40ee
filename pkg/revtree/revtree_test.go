package revtree_test

import (
	"testing"

	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/revtree"
	"github.com/i5heu/ouroboros-revdoc/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTree(id string) revid.RevID {
	r, err := revid.Parse(id, version.Me)
	if err != nil {
		panic(err)
	}
	return r
}

func TestSequentialUpdate(t *testing.T) {
	tr := revtree.New()
	_, _, err := tr.Insert(mustTree("1-aaaa"), []byte("a"), 0, revid.RevID{}, false, false, false)
	require.NoError(t, err)
	_, _, err = tr.Insert(mustTree("2-bbbb"), []byte("b"), 0, mustTree("1-aaaa"), true, false, false)
	require.NoError(t, err)

	cur, ok := tr.CurrentRevision()
	require.True(t, ok)
	assert.Equal(t, "2-bbbb", cur.ASCIIString())
	assert.Equal(t, 2, tr.Len())
	assert.False(t, tr.HasConflict())

	parent, ok := tr.Parent(cur)
	require.True(t, ok)
	assert.Equal(t, "1-aaaa", parent.ASCIIString())
}

func TestConflictDetection(t *testing.T) {
	tr := revtree.New()
	_, _, err := tr.Insert(mustTree("1-aaaa"), []byte("a"), 0, revid.RevID{}, false, false, false)
	require.NoError(t, err)
	_, _, err = tr.Insert(mustTree("2-bbbb"), []byte("b"), 0, mustTree("1-aaaa"), true, false, false)
	require.NoError(t, err)
	_, _, err = tr.Insert(mustTree("2-cccc"), []byte("c"), 0, mustTree("1-aaaa"), true, true, false)
	require.NoError(t, err)

	assert.True(t, tr.HasConflict())
	cur, ok := tr.CurrentRevision()
	require.True(t, ok)
	assert.Equal(t, "2-cccc", cur.ASCIIString())
}

func TestPurgeCascade(t *testing.T) {
	tr := revtree.New()
	_, _, err := tr.Insert(mustTree("1-aa"), []byte("a"), 0, revid.RevID{}, false, false, false)
	require.NoError(t, err)
	_, _, err = tr.Insert(mustTree("2-bb"), []byte("b"), 0, mustTree("1-aa"), true, false, false)
	require.NoError(t, err)
	_, _, err = tr.Insert(mustTree("3-cc"), []byte("c"), 0, mustTree("2-bb"), true, false, false)
	require.NoError(t, err)

	n, err := tr.Purge(mustTree("3-cc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, tr.Len())
}

func TestInsertRejectsZeroGeneration(t *testing.T) {
	tr := revtree.New()
	zero := revid.NewTree(0, []byte{0x01})
	_, _, err := tr.Insert(zero, nil, 0, revid.RevID{}, false, false, false)
	assert.ErrorIs(t, err, revtree.ErrZeroGeneration)
}

func TestInsertAlreadyExistingIsNoOp(t *testing.T) {
	tr := revtree.New()
	_, outcome, err := tr.Insert(mustTree("1-aa"), []byte("a"), 0, revid.RevID{}, false, false, false)
	require.NoError(t, err)
	assert.Equal(t, revtree.Created, outcome)

	_, outcome2, err2 := tr.Insert(mustTree("1-aa"), []byte("different"), 0, revid.RevID{}, false, false, false)
	require.NoError(t, err2)
	assert.Equal(t, revtree.Existed, outcome2)
	assert.Equal(t, 1, tr.Len())
}

func TestInsertHistoryWithGap(t *testing.T) {
	tr := revtree.New()
	_, _, err := tr.Insert(mustTree("1-aa"), []byte("a"), 0, revid.RevID{}, false, false, false)
	require.NoError(t, err)

	history := []revid.RevID{mustTree("3-cc"), mustTree("2-bb"), mustTree("1-aa")}
	idx, err := tr.InsertHistory(history, []byte("c"), 0, false, false, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.Equal(t, 3, tr.Len())

	cur, ok := tr.CurrentRevision()
	require.True(t, ok)
	assert.Equal(t, "3-cc", cur.ASCIIString())
}

// TestInsertHistoryGapRejectedNearTip exercises a genuine non-consecutive
// generation sequence (5,2,1): with a generous prune depth the gap sits
// well short of maxDepth-1 entries into the history, so it must be
// rejected rather than silently accepted.
func TestInsertHistoryGapRejectedNearTip(t *testing.T) {
	tr := revtree.New()
	_, _, err := tr.Insert(mustTree("1-aa"), []byte("a"), 0, revid.RevID{}, false, false, false)
	require.NoError(t, err)

	history := []revid.RevID{mustTree("5-ee"), mustTree("2-bb"), mustTree("1-aa")}
	_, err = tr.InsertHistory(history, []byte("e"), 0, false, false, 20)
	assert.ErrorIs(t, err, revtree.ErrBadHistory)
}

// TestInsertHistoryGapToleratedBelowPruneDepth mirrors
// RevTree.cc's findCommonAncestor special case: the same non-consecutive
// gap (5,2,1) is tolerated once it falls at or beyond maxDepth-1 entries
// into the history, since that part of the history is going to be pruned
// away anyway.
func TestInsertHistoryGapToleratedBelowPruneDepth(t *testing.T) {
	tr := revtree.New()
	_, _, err := tr.Insert(mustTree("1-aa"), []byte("a"), 0, revid.RevID{}, false, false, false)
	require.NoError(t, err)

	history := []revid.RevID{mustTree("5-ee"), mustTree("2-bb"), mustTree("1-aa")}
	idx, err := tr.InsertHistory(history, []byte("e"), 0, false, false, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.Equal(t, 3, tr.Len())

	cur, ok := tr.CurrentRevision()
	require.True(t, ok)
	assert.Equal(t, "5-ee", cur.ASCIIString())
}

func TestPruneIdempotent(t *testing.T) {
	tr := revtree.New()
	_, _, _ = tr.Insert(mustTree("1-aa"), []byte("a"), 0, revid.RevID{}, false, false, false)
	_, _, _ = tr.Insert(mustTree("2-bb"), []byte("b"), 0, mustTree("1-aa"), true, false, false)
	_, _, _ = tr.Insert(mustTree("3-cc"), []byte("c"), 0, mustTree("2-bb"), true, false, false)
	_, _, _ = tr.Insert(mustTree("4-dd"), []byte("d"), 0, mustTree("3-cc"), true, false, false)

	first := tr.Prune(1)
	second := tr.Prune(1)
	assert.Equal(t, 0, second)
	assert.GreaterOrEqual(t, first, 1)
	assert.Equal(t, 2, tr.Len())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tr := revtree.New()
	_, _, _ = tr.Insert(mustTree("1-aa"), []byte("body1"), 0, revid.RevID{}, false, false, false)
	_, _, _ = tr.Insert(mustTree("2-bb"), []byte("body2"), 0, mustTree("1-aa"), true, false, false)

	data, err := tr.Encode()
	require.NoError(t, err)

	decoded, err := revtree.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, tr.Len(), decoded.Len())

	cur, ok := decoded.CurrentRevision()
	require.True(t, ok)
	assert.Equal(t, "2-bb", cur.ASCIIString())
}

func TestRemoveNonLeafBodies(t *testing.T) {
	tr := revtree.New()
	_, _, _ = tr.Insert(mustTree("1-aa"), []byte("body1"), 0, revid.RevID{}, false, false, false)
	_, _, _ = tr.Insert(mustTree("2-bb"), []byte("body2"), 0, mustTree("1-aa"), true, false, false)

	tr.RemoveNonLeafBodies()
	root, ok := tr.Get(mustTree("1-aa"))
	require.True(t, ok)
	assert.False(t, root.HasBody())

	leaf, ok := tr.Get(mustTree("2-bb"))
	require.True(t, ok)
	assert.True(t, leaf.HasBody())
}

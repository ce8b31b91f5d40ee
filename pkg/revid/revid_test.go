package revid_test

import (
	"testing"

	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeASCIIRoundTrip(t *testing.T) {
	r := revid.NewTree(2, []byte{0xab, 0xcd})
	assert.Equal(t, "2-abcd", r.ASCII(version.Me))

	parsed, err := revid.Parse("2-abcd", version.Me)
	require.NoError(t, err)
	assert.Equal(t, r, parsed)
}

func TestTreeBinaryRoundTrip(t *testing.T) {
	r := revid.NewTree(300, []byte{0x01, 0x02, 0x03})
	buf := r.AppendBinary(nil, version.Me)

	parsed, err := revid.ParseBinary(buf)
	require.NoError(t, err)
	assert.Equal(t, r, parsed)
}

func TestVectorASCIIRoundTrip(t *testing.T) {
	vv := version.Of(version.New(2, version.Me), version.New(1, version.PeerID(9)))
	r := revid.NewVector(vv)

	s := r.ASCII(version.PeerID(7))
	parsed, err := revid.Parse(s, version.PeerID(7))
	require.NoError(t, err)
	assert.True(t, parsed.IsVersion())
	assert.Equal(t, r.Vector(), parsed.Vector())
}

func TestParseDisambiguatesOnDash(t *testing.T) {
	_, err := revid.Parse("nonsense", version.Me)
	assert.Error(t, err)
}

func TestCompareTreeLexicographic(t *testing.T) {
	a := revid.NewTree(1, []byte{0x01})
	b := revid.NewTree(1, []byte{0x02})
	assert.Equal(t, version.Older, revid.Compare(a, b))
	assert.Equal(t, version.Newer, revid.Compare(b, a))
	assert.Equal(t, version.Same, revid.Compare(a, a))
}

func TestGenerateTreeRevIDFirstGeneration(t *testing.T) {
	r := revid.GenerateTreeRevID([]byte(`{"x":1}`), revid.RevID{}, false, false, false)
	assert.Equal(t, uint64(1), r.Generation())
	assert.NotEmpty(t, r.Digest())
}

func TestGenerateTreeRevIDIncrementsGeneration(t *testing.T) {
	parent := revid.NewTree(3, []byte{0xaa, 0xbb})
	r := revid.GenerateTreeRevID([]byte("body"), parent, true, false, false)
	assert.Equal(t, uint64(4), r.Generation())
}

func TestGenerateTreeRevIDLegacyMD5DigestLength(t *testing.T) {
	r := revid.GenerateTreeRevID([]byte("body"), revid.RevID{}, false, false, true)
	assert.Len(t, r.Digest(), 16)
}

func TestGenerateTreeRevIDSHA1DigestLength(t *testing.T) {
	r := revid.GenerateTreeRevID([]byte("body"), revid.RevID{}, false, false, false)
	assert.Len(t, r.Digest(), 20)
}

func TestGenerateTreeRevIDDeletedVsLiveDiffer(t *testing.T) {
	live := revid.GenerateTreeRevID([]byte("body"), revid.RevID{}, false, false, false)
	deleted := revid.GenerateTreeRevID([]byte("body"), revid.RevID{}, false, true, false)
	assert.NotEqual(t, live.Digest(), deleted.Digest())
}

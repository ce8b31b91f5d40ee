package version_test

import (
	"testing"

	"github.com/i5heu/ouroboros-revdoc/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionASCIIRoundTrip(t *testing.T) {
	v := version.New(5, version.PeerID(0xabc))
	s := v.ASCII(version.Me)
	assert.Equal(t, "5@abc", s)

	parsed, err := version.ParseVersion(s, version.Me)
	require.NoError(t, err)
	assert.Equal(t, v, parsed)
}

func TestVersionASCIIMeAbbreviation(t *testing.T) {
	v := version.New(3, version.Me)
	assert.Equal(t, "3@*", v.ASCII(version.Me))

	myID := version.PeerID(0x42)
	assert.Equal(t, "3@42", v.ASCII(myID))

	parsed, err := version.ParseVersion("3@42", myID)
	require.NoError(t, err)
	assert.Equal(t, version.New(3, version.Me), parsed)
}

func TestVersionASCIIZeroPeerMustBeStar(t *testing.T) {
	_, err := version.ParseVersion("3@0", version.Me)
	assert.ErrorIs(t, err, version.ErrBadRevisionID)
}

func TestVersionMergeASCII(t *testing.T) {
	v := version.NewMerge("c29tZWRpZ2VzdA==")
	assert.True(t, v.IsMerge())
	assert.Equal(t, "0@c29tZWRpZ2VzdA==", v.ASCII(version.Me))

	parsed, err := version.ParseVersion("0@c29tZWRpZ2VzdA==", version.Me)
	require.NoError(t, err)
	assert.Equal(t, v, parsed)
}

func TestVersionMalformed(t *testing.T) {
	for _, s := range []string{"", "noat", "@peer", "5@"} {
		_, err := version.ParseVersion(s, version.Me)
		assert.ErrorIsf(t, err, version.ErrBadRevisionID, "input %q", s)
	}
}

func TestVersionBinaryRoundTrip(t *testing.T) {
	v := version.New(300, version.PeerID(70000))
	buf := v.AppendBinary(nil, version.Me)

	parsed, rest, err := version.ParseVersionBinary(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, v, parsed)
}

func TestVersionBinaryMeSubstitution(t *testing.T) {
	myID := version.PeerID(99)
	v := version.New(1, version.Me)
	buf := v.AppendBinary(nil, myID)

	parsed, _, err := version.ParseVersionBinary(buf)
	require.NoError(t, err)
	assert.Equal(t, version.New(1, myID), parsed)
}

func TestVersionBinaryMergeDigest(t *testing.T) {
	v := version.NewMerge("abcdef==")
	buf := v.AppendBinary(nil, version.Me)

	parsed, rest, err := version.ParseVersionBinary(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, v, parsed)
}

func TestOrderCombination(t *testing.T) {
	assert.Equal(t, version.Conflicting, version.Older|version.Newer)
	assert.Equal(t, "Conflicting", version.Conflicting.String())
}

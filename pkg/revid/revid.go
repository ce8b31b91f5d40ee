// Package revid implements RevID, the identifier of a single document
// revision. A RevID is either a tree-form "generation-digest" pair
// (Couchbase Mobile 1/2 style) or a vector-form wrapper around a
// version.VersionVector (Couchbase Mobile 3 style). The two forms share one
// binary encoding distinguished by a leading zero byte on the vector form —
// a real generation is never zero, so the tag never collides with a tree
// revID.
package revid

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/i5heu/ouroboros-revdoc/pkg/version"
)

// ErrBadRevisionID is returned for malformed ASCII or binary RevIDs. It
// wraps version.ErrBadRevisionID so callers can use a single sentinel
// across both packages.
var ErrBadRevisionID = version.ErrBadRevisionID

// Scheme identifies which of the two revision-identity schemes a RevID
// belongs to.
type Scheme int

const (
	Tree Scheme = iota
	Vector
)

func (s Scheme) String() string {
	if s == Vector {
		return "vector"
	}
	return "tree"
}

// RevID is an immutable revision identifier. The zero value is invalid;
// construct one with NewTree, NewVector, Parse, or ParseBinary.
type RevID struct {
	scheme Scheme
	gen    uint64
	digest []byte
	vector version.VersionVector
}

// NewTree constructs a tree-form RevID. gen must be >= 1.
func NewTree(gen uint64, digest []byte) RevID {
	d := make([]byte, len(digest))
	copy(d, digest)
	return RevID{scheme: Tree, gen: gen, digest: d}
}

// NewVector constructs a vector-form RevID wrapping vv.
func NewVector(vv version.VersionVector) RevID {
	return RevID{scheme: Vector, vector: vv}
}

// Scheme reports which form r belongs to.
func (r RevID) Scheme() Scheme { return r.scheme }

// IsVersion reports whether r is vector-form.
func (r RevID) IsVersion() bool { return r.scheme == Vector }

// Generation returns the tree-form generation count, or the generation of
// the vector's current (lead) entry for vector-form RevIDs (0 if the
// vector is empty).
func (r RevID) Generation() uint64 {
	if r.scheme == Tree {
		return r.gen
	}
	if cur, ok := r.vector.Current(); ok {
		return cur.Gen
	}
	return 0
}

// Digest returns the tree-form digest bytes. It panics if r is vector-form;
// callers must check Scheme/IsVersion first.
func (r RevID) Digest() []byte {
	if r.scheme != Tree {
		panic("revid: Digest called on a vector-form RevID")
	}
	return r.digest
}

// Vector returns the wrapped VersionVector. It panics if r is tree-form.
func (r RevID) Vector() version.VersionVector {
	if r.scheme != Vector {
		panic("revid: Vector called on a tree-form RevID")
	}
	return r.vector
}

// IsZero reports whether r is the unconstructed zero value.
func (r RevID) IsZero() bool {
	return r.scheme == Tree && r.gen == 0 && len(r.digest) == 0
}

// ASCII renders r in its external textual form: "gen-hexdigest" (decimal
// generation) for tree form, or the comma-separated VersionVector grammar
// for vector form.
func (r RevID) ASCII(myID version.PeerID) string {
	if r.scheme == Vector {
		return r.vector.AsASCII(myID)
	}
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(r.gen, 10))
	sb.WriteByte('-')
	const hexDigits = "0123456789abcdef"
	for _, b := range r.digest {
		sb.WriteByte(hexDigits[b>>4])
		sb.WriteByte(hexDigits[b&0x0f])
	}
	return sb.String()
}

func (r RevID) String() string { return r.ASCII(version.Me) }

// GobEncode implements gob.GobEncoder so a RevID's unexported fields can
// be carried through a self-describing gob stream (used by revtree's
// non-legacy encoding) without reflecting over private state.
func (r RevID) GobEncode() ([]byte, error) {
	return r.AppendBinary(nil, version.Me), nil
}

// GobDecode implements gob.GobDecoder, the inverse of GobEncode.
func (r *RevID) GobDecode(data []byte) error {
	parsed, err := ParseBinary(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Equal reports whether r and other denote the same revision identity.
// Unlike Compare, it never panics on mismatched schemes: RevIDs of
// different schemes are simply unequal.
func (r RevID) Equal(other RevID) bool {
	if r.scheme != other.scheme {
		return false
	}
	if r.scheme == Vector {
		a, b := r.vector.Versions(), other.vector.Versions()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	return r.gen == other.gen && string(r.digest) == string(other.digest)
}

// Parse parses an ASCII RevID. The grammar is disambiguated exactly as the
// reference parser does: the presence of a '-' byte anywhere in the string
// means tree form; otherwise it is parsed as a (possibly multi-entry,
// comma-separated) vector form.
func Parse(s string, myID version.PeerID) (RevID, error) {
	if strings.IndexByte(s, '-') >= 0 {
		return parseTreeASCII(s)
	}
	vv, err := version.ParseVersionVectorASCII(s, myID)
	if err != nil {
		return RevID{}, err
	}
	if vv.IsEmpty() {
		return RevID{}, fmt.Errorf("revid: empty revision id: %w", ErrBadRevisionID)
	}
	return NewVector(vv), nil
}

func parseTreeASCII(s string) (RevID, error) {
	dash := strings.IndexByte(s, '-')
	if dash <= 0 || dash == len(s)-1 {
		return RevID{}, fmt.Errorf("revid: malformed revision id %q: %w", s, ErrBadRevisionID)
	}
	gen, err := strconv.ParseUint(s[:dash], 10, 64)
	if err != nil || gen == 0 {
		return RevID{}, fmt.Errorf("revid: malformed generation %q: %w", s[:dash], ErrBadRevisionID)
	}
	hexDigest := s[dash+1:]
	if len(hexDigest)%2 != 0 {
		return RevID{}, fmt.Errorf("revid: odd-length digest %q: %w", hexDigest, ErrBadRevisionID)
	}
	digest := make([]byte, len(hexDigest)/2)
	for i := 0; i < len(digest); i++ {
		hi, ok1 := lowerHexVal(hexDigest[2*i])
		lo, ok2 := lowerHexVal(hexDigest[2*i+1])
		if !ok1 || !ok2 {
			return RevID{}, fmt.Errorf("revid: non-hex digest %q: %w", hexDigest, ErrBadRevisionID)
		}
		digest[i] = hi<<4 | lo
	}
	return NewTree(gen, digest), nil
}

func lowerHexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// AppendBinary appends r's binary encoding to buf: for tree form, a varint
// generation followed by the raw digest bytes; for vector form, a leading
// zero byte followed by the vector's binary encoding.
func (r RevID) AppendBinary(buf []byte, myID version.PeerID) []byte {
	if r.scheme == Vector {
		buf = append(buf, 0)
		return append(buf, r.vector.AsBinary(myID)...)
	}
	buf = binary.AppendUvarint(buf, r.gen)
	return append(buf, r.digest...)
}

// ParseBinary decodes a full binary RevID (the entire remaining buffer is
// consumed — unlike version.ParseVersionBinary, there is no trailer after
// a tree-form digest).
func ParseBinary(data []byte) (RevID, error) {
	if len(data) == 0 {
		return RevID{}, fmt.Errorf("revid: empty binary revision id: %w", ErrBadRevisionID)
	}
	if data[0] == 0 {
		vv, err := version.ParseVersionVectorBinary(data[1:])
		if err != nil {
			return RevID{}, err
		}
		return NewVector(vv), nil
	}
	gen, n := binary.Uvarint(data)
	if n <= 0 {
		return RevID{}, fmt.Errorf("revid: truncated generation: %w", ErrBadRevisionID)
	}
	return NewTree(gen, data[n:]), nil
}

// Compare orders two like-scheme RevIDs. Tree-form RevIDs compare
// lexicographically on (generation, digest), matching RevTree's sort
// order (spec section 4.2); vector-form RevIDs compare via
// version.Compare on their wrapped vectors. Comparing RevIDs of different
// schemes panics: a single RevTree never mixes the two.
func Compare(a, b RevID) version.Order {
	if a.scheme != b.scheme {
		panic("revid: cannot compare a tree-form and vector-form RevID")
	}
	if a.scheme == Vector {
		return version.Compare(a.vector, b.vector)
	}
	switch {
	case a.gen != b.gen:
		return version.CompareGen(a.gen, b.gen)
	default:
		c := compareBytes(a.digest, b.digest)
		switch {
		case c < 0:
			return version.Older
		case c > 0:
			return version.Newer
		default:
			return version.Same
		}
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// ErrDigestTooShort names a digest step that produced no output. No
// function in this package returns it; GenerateTreeRevID hashes a nil
// body like any other.
var ErrDigestTooShort = errors.New("revid: digest algorithm produced no output")

// GenerateTreeRevID computes the next tree-form RevID for a new revision,
// per spec section 4.3. It hashes a single byte holding the binary-encoded
// parent RevID's length (clipped to 255), the parent RevID's binary
// encoding itself, a single deletion byte, and the new body. legacyMD5
// selects MD5 over the SHA-1 default and reproduces the historical bug
// where the length byte is omitted when there is no parent.
func GenerateTreeRevID(body []byte, parent RevID, hasParent bool, deleted bool, legacyMD5 bool) RevID {
	var parentBytes []byte
	if hasParent {
		parentBytes = parent.AppendBinary(nil, version.Me)
	}

	var digest []byte
	if legacyMD5 {
		h := md5.New()
		if hasParent {
			h.Write([]byte{clipLen(len(parentBytes))})
			h.Write(parentBytes)
		}
		h.Write(deletionByte(deleted))
		h.Write(body)
		sum := h.Sum(nil)
		digest = sum[:]
	} else {
		h := sha1.New()
		h.Write([]byte{clipLen(len(parentBytes))})
		h.Write(parentBytes)
		h.Write(deletionByte(deleted))
		h.Write(body)
		sum := h.Sum(nil)
		digest = sum[:]
	}

	gen := uint64(1)
	if hasParent {
		gen = parent.Generation() + 1
	}
	return NewTree(gen, digest)
}

func clipLen(n int) byte {
	if n > 255 {
		return 255
	}
	return byte(n)
}

func deletionByte(deleted bool) []byte {
	if deleted {
		return []byte{1}
	}
	return []byte{0}
}

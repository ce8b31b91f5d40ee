package version

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

// VersionVector is an ordered list of Versions, at most one per peer, with
// the most-recently-mutated peer first. The ordering is semantically
// significant — it identifies the vector's "current" author — so two
// vectors containing the same set of Versions in a different order are
// distinct values, even though Compare treats them as Same.
type VersionVector struct {
	versions []Version
}

// Empty returns the zero-length VersionVector.
func Empty() VersionVector {
	return VersionVector{}
}

// Of constructs a VersionVector from an explicit, already-ordered list of
// Versions. It does not validate the no-duplicate-peer or
// merge-is-first-entry invariants; use Validate to check an
// externally-constructed vector.
func Of(vs ...Version) VersionVector {
	cp := make([]Version, len(vs))
	copy(cp, vs)
	return VersionVector{versions: cp}
}

// Count returns the number of Versions in the vector.
func (vv VersionVector) Count() int { return len(vv.versions) }

// IsEmpty reports whether the vector has no entries.
func (vv VersionVector) IsEmpty() bool { return len(vv.versions) == 0 }

// Versions returns a defensive copy of the vector's entries, in order.
func (vv VersionVector) Versions() []Version {
	cp := make([]Version, len(vv.versions))
	copy(cp, vv.versions)
	return cp
}

// At returns the i'th Version.
func (vv VersionVector) At(i int) Version { return vv.versions[i] }

// Current returns the first (most recently mutated) Version, if any.
func (vv VersionVector) Current() (Version, bool) {
	if len(vv.versions) == 0 {
		return Version{}, false
	}
	return vv.versions[0], true
}

// GenOf returns the generation recorded for peer, or 0 if the vector has
// no entry for it.
func (vv VersionVector) GenOf(peer PeerID) Generation {
	for _, v := range vv.versions {
		if !v.IsMerge() && v.Peer == peer {
			return v.Gen
		}
	}
	return 0
}

// Validate checks the VersionVector invariants from spec section 4.1: no
// duplicate peers, and a merge version (if present) only as the first
// entry.
func (vv VersionVector) Validate() error {
	seen := make(map[PeerID]bool, len(vv.versions))
	for i, v := range vv.versions {
		if v.IsMerge() {
			if i != 0 {
				return fmt.Errorf("version: merge version not in lead position: %w", ErrBadVersionVector)
			}
			continue
		}
		if seen[v.Peer] {
			return fmt.Errorf("version: duplicate peer %s: %w", v.Peer, ErrBadVersionVector)
		}
		seen[v.Peer] = true
	}
	return nil
}

// IncrementGen finds the existing entry for peer, bumps its generation by
// one (or creates generation 1 if absent), and moves it to the front of
// the vector. A merge version is never taken as peer's existing entry.
func (vv *VersionVector) IncrementGen(peer PeerID) error {
	// A lead merge version's slot belongs to no peer, so it is simply
	// skipped here: incrementing any peer always starts a fresh entry
	// rather than touching the merge marker.
	idx := -1
	for i, v := range vv.versions {
		if !v.IsMerge() && v.Peer == peer {
			idx = i
			break
		}
	}

	var newGen Generation = 1
	if idx >= 0 {
		existing := vv.versions[idx]
		if existing.IsMerge() {
			return fmt.Errorf("version: cannot increment a merge version: %w", ErrBadRevisionID)
		}
		newGen = existing.Gen + 1
		vv.versions = append(vv.versions[:idx], vv.versions[idx+1:]...)
	}
	vv.versions = append([]Version{New(newGen, peer)}, vv.versions...)
	return nil
}

// Compare computes the product of per-peer generation comparisons between
// a and b, per spec section 4.1: for every peer appearing in either
// vector, Older is added if a's generation is lower, Newer if higher; the
// bits combine into Conflicting. Two empty vectors compare Same.
func Compare(a, b VersionVector) Order {
	peers := make(map[PeerID]bool, len(a.versions)+len(b.versions))
	for _, v := range a.versions {
		if !v.IsMerge() {
			peers[v.Peer] = true
		}
	}
	for _, v := range b.versions {
		if !v.IsMerge() {
			peers[v.Peer] = true
		}
	}

	var o Order
	for peer := range peers {
		ga, gb := a.GenOf(peer), b.GenOf(peer)
		if ga < gb {
			o |= Older
		} else if ga > gb {
			o |= Newer
		}
		if o == Conflicting {
			return Conflicting
		}
	}
	return o
}

// Compare is the method form of the package-level Compare(vv, other).
func (vv VersionVector) Compare(other VersionVector) Order {
	return Compare(vv, other)
}

// CompareToVector compares a single Version against a VersionVector using
// the asymmetric rule used by the tree-to-single-version path (spec
// section 4.1): v "matches" the vector only when v names the vector's
// current-tip peer at the current-tip generation. This never returns
// Conflicting.
func (v Version) CompareToVector(vv VersionVector) Order {
	cur, ok := vv.Current()
	if !ok {
		return Newer
	}
	if cur.IsMerge() {
		return Newer
	}
	if v.Peer != cur.Peer {
		// The vector doesn't name this peer as its current tip at all.
		if vv.GenOf(v.Peer) == 0 {
			return Older
		}
		return Newer
	}
	switch {
	case v.Gen < cur.Gen:
		return Older
	case v.Gen == cur.Gen:
		return Same
	default:
		return Newer
	}
}

// Merge produces a vector containing, for every peer, the maximum
// generation seen in either input. The relative order walks a and b in
// parallel (spec section 4.1): at step i, a[i] is included if its
// generation dominates b's record for that peer, then b[i] is included if
// its generation strictly exceeds a's record. The result is not a
// canonical ordering — only a deduplicated, dominating union.
func Merge(a, b VersionVector) VersionVector {
	var out []Version
	seen := make(map[PeerID]bool, len(a.versions)+len(b.versions))

	addIfDominant := func(v Version, other VersionVector) {
		if v.IsMerge() {
			return
		}
		if seen[v.Peer] {
			return
		}
		if v.Gen >= other.GenOf(v.Peer) {
			out = append(out, v)
			seen[v.Peer] = true
		}
	}
	// a merge-version lead entry, if present, always survives the merge:
	// it's a frozen snapshot of a prior resolution, not a per-peer count.
	if cur, ok := a.Current(); ok && cur.IsMerge() {
		out = append(out, cur)
	} else if cur, ok := b.Current(); ok && cur.IsMerge() && Compare(a, Of(cur)) == Same {
		out = append(out, cur)
	}

	n := maxInt(len(a.versions), len(b.versions))
	for i := 0; i < n; i++ {
		if i < len(a.versions) {
			addIfDominant(a.versions[i], b)
		}
		if i < len(b.versions) {
			v := b.versions[i]
			if !v.IsMerge() && !seen[v.Peer] && v.Gen > a.GenOf(v.Peer) {
				out = append(out, v)
				seen[v.Peer] = true
			}
		}
	}
	return VersionVector{versions: out}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// LimitCount truncates the vector to its maxCount most-recently-mutated
// peers (VersionVector::limitCount in the reference implementation). Not
// named by the core document-revision spec; this is the vector scheme's
// analogue of rev-tree pruning and bounds unbounded peer-count growth.
func (vv VersionVector) LimitCount(maxCount int) VersionVector {
	if maxCount < 0 || len(vv.versions) <= maxCount {
		return vv
	}
	return Of(vv.versions[:maxCount]...)
}

// AsASCII renders the vector as a comma-separated list of Version ASCII
// forms.
func (vv VersionVector) AsASCII(myID PeerID) string {
	parts := make([]string, len(vv.versions))
	for i, v := range vv.versions {
		parts[i] = v.ASCII(myID)
	}
	return strings.Join(parts, ",")
}

// ParseVersionVectorASCII parses a comma-separated list of Versions. It
// rejects embedded NUL bytes per spec section 4.1 invariant (iv).
func ParseVersionVectorASCII(s string, myID PeerID) (VersionVector, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return VersionVector{}, fmt.Errorf("version: NUL byte in ascii vector: %w", ErrBadRevisionID)
	}
	if s == "" {
		return VersionVector{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]Version, 0, len(parts))
	for _, p := range parts {
		v, err := ParseVersion(p, myID)
		if err != nil {
			return VersionVector{}, err
		}
		out = append(out, v)
	}
	vv := VersionVector{versions: out}
	if err := vv.Validate(); err != nil {
		return VersionVector{}, err
	}
	return vv, nil
}

// AsBinary renders the vector as consecutive binary Versions.
func (vv VersionVector) AsBinary(myID PeerID) []byte {
	var buf []byte
	for _, v := range vv.versions {
		buf = v.AppendBinary(buf, myID)
	}
	return buf
}

// ParseVersionVectorBinary reads consecutive binary Versions until the
// input is exhausted.
func ParseVersionVectorBinary(data []byte) (VersionVector, error) {
	var out []Version
	for len(data) > 0 {
		v, rest, err := ParseVersionBinary(data)
		if err != nil {
			return VersionVector{}, err
		}
		out = append(out, v)
		data = rest
	}
	vv := VersionVector{versions: out}
	if err := vv.Validate(); err != nil {
		return VersionVector{}, err
	}
	return vv, nil
}

// CanonicalASCII renders the vector's Versions in ascending peer-ID order,
// with Me expanded to myID, for use strictly as digest input (spec
// section 4.1's "Merge-vector ordering non-canonicality" design note).
// This ordering is not semantically meaningful and must never be used as
// the vector's stored or compared form.
func (vv VersionVector) CanonicalASCII(myID PeerID) string {
	expanded := vv.ExpandMyPeerID(myID)
	sorted := make([]Version, len(expanded.versions))
	copy(sorted, expanded.versions)
	sort.Slice(sorted, func(i, j int) bool {
		return peerSortKey(sorted[i]) < peerSortKey(sorted[j])
	})
	parts := make([]string, len(sorted))
	for i, v := range sorted {
		parts[i] = v.ASCII(Me)
	}
	return strings.Join(parts, ",")
}

func peerSortKey(v Version) uint64 {
	if v.IsMerge() {
		return 0
	}
	return uint64(v.Peer)
}

// IsExpanded reports whether none of the vector's versions' authors are
// Me (the "*" placeholder).
func (vv VersionVector) IsExpanded() bool {
	for _, v := range vv.versions {
		if !v.IsMerge() && v.Peer == Me {
			return false
		}
	}
	return true
}

// ExpandMyPeerID replaces Me with myID throughout the vector.
func (vv VersionVector) ExpandMyPeerID(myID PeerID) VersionVector {
	out := make([]Version, len(vv.versions))
	for i, v := range vv.versions {
		if !v.IsMerge() && v.Peer == Me {
			v.Peer = myID
		}
		out[i] = v
	}
	return VersionVector{versions: out}
}

// CompactMyPeerID replaces myID with Me throughout the vector — the
// inverse of ExpandMyPeerID.
func (vv VersionVector) CompactMyPeerID(myID PeerID) VersionVector {
	if myID == Me {
		return vv
	}
	out := make([]Version, len(vv.versions))
	for i, v := range vv.versions {
		if !v.IsMerge() && v.Peer == myID {
			v.Peer = Me
		}
		out[i] = v
	}
	return VersionVector{versions: out}
}

// InsertMergeVersion computes the merge identity for a conflict
// resolution: SHA1(canonicalASCII(vv, myID) || 0x00 || body), base64, and
// prepends a merge Version carrying that digest. myID is the caller's own
// peer ID, substituted for Me wherever it appears so the digest input is
// stable regardless of which replica computes it.
func (vv VersionVector) InsertMergeVersion(myID PeerID, body []byte) VersionVector {
	h := sha1.New()
	h.Write([]byte(vv.CanonicalASCII(myID)))
	h.Write([]byte{0})
	h.Write(body)
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	out := make([]Version, 0, len(vv.versions)+1)
	out = append(out, NewMerge(digest))
	out = append(out, vv.versions...)
	return VersionVector{versions: out}
}

// DeltaFrom returns the subset of vv's entries that are newer than, or
// absent from, base — i.e. the minimal set of Versions that, applied to
// base via ApplyDelta, reconstructs vv. The second return value is false
// if base is not older than or equal to vv (Compare(vv, base) is neither
// Same nor Newer), in which case no delta exists.
//
// This is a local value operation only; transmitting deltas between peers
// is replication-protocol behavior and explicitly out of scope.
func (vv VersionVector) DeltaFrom(base VersionVector) (VersionVector, bool) {
	switch Compare(vv, base) {
	case Same:
		return Empty(), true
	case Newer:
		// fall through
	default:
		return VersionVector{}, false
	}
	var out []Version
	for _, v := range vv.versions {
		if v.IsMerge() {
			out = append(out, v)
			continue
		}
		if v.Gen > base.GenOf(v.Peer) {
			out = append(out, v)
		}
	}
	return VersionVector{versions: out}, true
}

// ApplyDelta reconstructs the newer vector from a base vector and a delta
// produced by DeltaFrom: for every entry in delta, it replaces (or adds)
// base's entry for that peer, then moves it to the front in delta order,
// leaving base's remaining peers following in their original order.
func (vv VersionVector) ApplyDelta(delta VersionVector) (VersionVector, error) {
	if err := delta.Validate(); err != nil {
		return VersionVector{}, err
	}
	replaced := make(map[PeerID]bool, delta.Count())
	for _, v := range delta.versions {
		if !v.IsMerge() {
			replaced[v.Peer] = true
		}
	}
	out := make([]Version, 0, vv.Count()+delta.Count())
	out = append(out, delta.versions...)
	for _, v := range vv.versions {
		if v.IsMerge() || replaced[v.Peer] {
			continue
		}
		out = append(out, v)
	}
	result := VersionVector{versions: out}
	if err := result.Validate(); err != nil {
		return VersionVector{}, err
	}
	return result, nil
}

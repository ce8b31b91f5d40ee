package version

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Generation counts the number of times a single peer has mutated a
// document. A Version with Gen == 0 is special: it denotes a merge
// version, synthesized when a conflict is resolved (see InsertMergeVersion).
type Generation = uint64

// PeerID identifies the writer that authored a Version: either the local
// database (Me), a revision migrated from a pre-vector store (Legacy), or
// an opaque remote peer.
type PeerID uint64

const (
	// Me is the sentinel peerID meaning "the local database". It is
	// written as '*' in ASCII form unless an explicit peer ID is supplied
	// at serialization time.
	Me PeerID = 0

	// Legacy is the sentinel peerID assigned to versions synthesized by
	// the tree-to-vector Upgrader for revisions that predate version
	// vectors. The value matches the fake source ID used by the original
	// upgrader (Database+Upgrade.cc: kLegacyPeerID).
	Legacy PeerID = 0x7777777
)

func (p PeerID) String() string {
	if p == Me {
		return "*"
	}
	return strconv.FormatUint(uint64(p), 16)
}

// Order is the result of comparing two VersionVectors, or a Version
// against a VersionVector. It can be read as two independent 1-bit flags,
// so Older|Newer combines into Conflicting.
type Order int

const (
	Same        Order = 0
	Older       Order = 1
	Newer       Order = 2
	Conflicting Order = Older | Newer
)

func (o Order) String() string {
	switch o {
	case Same:
		return "Same"
	case Older:
		return "Older"
	case Newer:
		return "Newer"
	case Conflicting:
		return "Conflicting"
	default:
		return "Unknown"
	}
}

// Version is a single (generation, peer) pair, or — when Gen is 0 — a
// merge version whose Digest carries the base64 SHA-1 digest computed by
// InsertMergeVersion. A merge version may only ever appear as the first
// entry of a VersionVector.
type Version struct {
	Gen    Generation
	Peer   PeerID
	Digest string // meaningful only when Gen == 0
}

// New constructs an ordinary (non-merge) Version. gen must be >= 1.
func New(gen Generation, peer PeerID) Version {
	return Version{Gen: gen, Peer: peer}
}

// NewMerge constructs a merge Version carrying the given base64 digest.
func NewMerge(digest string) Version {
	return Version{Gen: 0, Digest: digest}
}

// IsMerge reports whether v is a synthetic merge version (Gen == 0).
func (v Version) IsMerge() bool {
	return v.Gen == 0
}

// CompareGen compares two bare generation counts.
func CompareGen(a, b Generation) Order {
	switch {
	case a > b:
		return Newer
	case a < b:
		return Older
	default:
		return Same
	}
}

// ASCII renders v in the comma-joinable Version grammar: hex(gen) '@' peer,
// where peer is '*' for Me (after myID substitution) and lowercase hex
// otherwise. Generation is written in hexadecimal, matching the reference
// codec (LiteCore's Version::writeASCII uses writeHex for the generation
// too — this is not a typo carried over from the tree-form RevID, whose
// generation is decimal).
func (v Version) ASCII(myID PeerID) string {
	if v.IsMerge() {
		return "0@" + v.Digest
	}
	author := v.Peer
	if author == Me {
		author = myID
	}
	if author == Me {
		return strconv.FormatUint(v.Gen, 16) + "@*"
	}
	return strconv.FormatUint(v.Gen, 16) + "@" + author.String()
}

// ParseVersion parses a single ASCII Version. If myID is non-zero, an
// explicit occurrence of myID in the string is collapsed to Me, mirroring
// the "abbreviate my ID" behavior of the reference parser.
func ParseVersion(s string, myID PeerID) (Version, error) {
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return Version{}, fmt.Errorf("version: malformed version %q: %w", s, ErrBadRevisionID)
	}
	genPart, peerPart := s[:at], s[at+1:]
	gen, err := strconv.ParseUint(genPart, 16, 64)
	if err != nil {
		return Version{}, fmt.Errorf("version: malformed generation %q: %w", genPart, ErrBadRevisionID)
	}
	if gen == 0 {
		// Merge version: whatever follows '@' is an opaque digest, not a
		// peer ID, and is carried through verbatim.
		if strings.IndexByte(peerPart, 0) >= 0 {
			return Version{}, fmt.Errorf("version: NUL byte in digest: %w", ErrBadRevisionID)
		}
		return NewMerge(peerPart), nil
	}
	if peerPart == "*" {
		return New(gen, Me), nil
	}
	id, err := strconv.ParseUint(peerPart, 16, 64)
	if err != nil {
		return Version{}, fmt.Errorf("version: malformed peer %q: %w", peerPart, ErrBadRevisionID)
	}
	peer := PeerID(id)
	if peer == Me {
		// 0 must always be spelled '*'.
		return Version{}, fmt.Errorf("version: peer id 0 must be written as '*': %w", ErrBadRevisionID)
	}
	if myID != Me && peer == myID {
		peer = Me
	}
	return New(gen, peer), nil
}

// AppendBinary appends the binary encoding of v (two unsigned varints:
// generation then peer id) to buf and returns the extended slice. Writing
// substitutes myID wherever the in-memory peer is Me; a merge version's
// digest is instead written as a varint length prefix followed by its raw
// bytes, since it cannot be represented as a bare peer id.
func (v Version) AppendBinary(buf []byte, myID PeerID) []byte {
	buf = binary.AppendUvarint(buf, v.Gen)
	if v.IsMerge() {
		digest := []byte(v.Digest)
		buf = binary.AppendUvarint(buf, uint64(len(digest)))
		return append(buf, digest...)
	}
	author := v.Peer
	if author == Me {
		author = myID
	}
	return binary.AppendUvarint(buf, uint64(author))
}

// ParseVersionBinary reads one binary Version from the front of data and
// returns it along with the unconsumed remainder. Reading does not
// substitute the local peer id back to Me: that is the caller's job via
// CompactMyPeerID, matching "reading does not" in the binary codec rule.
func ParseVersionBinary(data []byte) (Version, []byte, error) {
	gen, n := binary.Uvarint(data)
	if n <= 0 {
		return Version{}, nil, fmt.Errorf("version: truncated binary version: %w", ErrBadVersionVector)
	}
	rest := data[n:]
	if gen == 0 {
		length, n2 := binary.Uvarint(rest)
		if n2 <= 0 || uint64(len(rest)-n2) < length {
			return Version{}, nil, fmt.Errorf("version: truncated merge digest: %w", ErrBadVersionVector)
		}
		rest2 := rest[n2:]
		digest := string(rest2[:length])
		return NewMerge(digest), rest2[length:], nil
	}
	peer, n2 := binary.Uvarint(rest)
	if n2 <= 0 {
		return Version{}, nil, fmt.Errorf("version: truncated binary peer: %w", ErrBadVersionVector)
	}
	return New(gen, PeerID(peer)), rest[n2:], nil
}

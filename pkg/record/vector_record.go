package record

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/ulikunitz/xz/lzma"

	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/revtree"
	"github.com/i5heu/ouroboros-revdoc/pkg/version"
)

// Revision is one remote peer's last-known-acknowledged state under the
// vector scheme: a vector-form RevID and the body as of that
// revision (or nil if only the identity, not the content, is retained).
type Revision struct {
	RevID revid.RevID
	Body  []byte
	Flags Flag
}

// VectorRecord binds a Record to the set of remote tips it carries, under
// the version-vector scheme. Record.Version holds Local's current vector
// in binary form; Remotes holds the last revision acknowledged by each
// non-local remote, keyed the same way RevTree.remoteRevs is.
type VectorRecord struct {
	Record  Record
	Remotes map[revtree.RemoteID]Revision
}

// NewVectorRecord wraps a freshly created, empty document under the
// vector scheme.
func NewVectorRecord(key []byte) *VectorRecord {
	return &VectorRecord{
		Record:  Record{Key: append([]byte(nil), key...)},
		Remotes: make(map[revtree.RemoteID]Revision),
	}
}

// LocalVector decodes Record.Version as the document's current vector.
func (vr *VectorRecord) LocalVector() (version.VersionVector, error) {
	if len(vr.Record.Version) == 0 {
		return version.Empty(), nil
	}
	return version.ParseVersionVectorBinary(vr.Record.Version)
}

// SetLocalVector encodes vv into Record.Version.
func (vr *VectorRecord) SetLocalVector(vv version.VersionVector) {
	vr.Record.Version = vv.AsBinary(version.Me)
}

// gobRemotes is the on-the-wire shape of Remotes: revid.RevID already
// implements GobEncode/GobDecode, so this is a direct mirror, kept as a
// distinct named type. Its values are Revision itself, so a field added
// to Revision also changes this wire format.
type gobRemotes map[revtree.RemoteID]Revision

// DecodeVectorRecord reconstructs a VectorRecord from a Record previously
// produced by Encode: rec.Extra holds an LZMA-compressed gob stream of the
// remote-revision snapshot. An empty Extra means no remotes are tracked
// yet (a document that has never been replicated).
func DecodeVectorRecord(rec Record) (*VectorRecord, error) {
	vr := &VectorRecord{Record: rec, Remotes: make(map[revtree.RemoteID]Revision)}
	if len(rec.Extra) == 0 {
		return vr, nil
	}
	raw, err := decompressLZMA(rec.Extra)
	if err != nil {
		return nil, fmt.Errorf("record: decompress vector extra: %w", err)
	}
	var remotes gobRemotes
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&remotes); err != nil {
		return nil, fmt.Errorf("record: decode vector extra: %w", err)
	}
	vr.Remotes = map[revtree.RemoteID]Revision(remotes)
	return vr, nil
}

// Encode returns a copy of vr.Record whose Extra is built from vr.Remotes;
// vr.Record itself is not modified. An empty Remotes map
// produces an empty Extra rather than an empty-but-valid gob stream, so
// "no remotes tracked" round-trips identically through DecodeVectorRecord.
func (vr *VectorRecord) Encode() (Record, error) {
	out := vr.Record.Clone()
	if len(vr.Remotes) == 0 {
		out.Extra = nil
		return out, nil
	}
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(gobRemotes(vr.Remotes)); err != nil {
		return Record{}, fmt.Errorf("record: encode vector extra: %w", err)
	}
	compressed, err := compressLZMA(raw.Bytes())
	if err != nil {
		return Record{}, fmt.Errorf("record: compress vector extra: %w", err)
	}
	out.Extra = compressed
	return out, nil
}

func compressLZMA(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZMA(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

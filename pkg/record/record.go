// Package record binds a single document's revision state — whichever
// scheme is in effect — to the durable key/sequence/flags/body/extra tuple
// obtained from the external key-value store (spec section 3, "Record").
// The package itself never touches storage; it only knows how to decode and
// re-encode the blob a store handed it.
package record

// Flag is a bitset of per-document attributes carried alongside a Record,
// independent of any single revision's own flags.
type Flag uint8

const (
	// FlagDeleted marks the document's current revision as a tombstone.
	FlagDeleted Flag = 1 << iota
	// FlagHasAttachments marks the current revision as referencing
	// attachments stored outside the record body.
	FlagHasAttachments
	// FlagConflicted marks the document as having more than one active
	// revision (tree scheme) or at least one remote slot whose vector is
	// Conflicting with Local (vector scheme).
	FlagConflicted
	// FlagSynced marks the document as having no pending local changes
	// unacknowledged by any configured remote.
	FlagSynced
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Record is the opaque bundle a key-value store hands back for one
// document: its key, per-document flags, the current revision's body, a
// scheme-specific "extra" blob (the encoded RevTree or the vector record's
// remote-revision snapshot), the store's sequence number for this record,
// and the binary form of the current revID or version vector.
type Record struct {
	Key      []byte
	Flags    Flag
	Body     []byte
	Extra    []byte
	Sequence uint64
	Version  []byte
}

// Clone returns a deep copy of r, so callers can mutate the result without
// aliasing the original's slices.
func (r Record) Clone() Record {
	cp := Record{Flags: r.Flags, Sequence: r.Sequence}
	if r.Key != nil {
		cp.Key = append([]byte(nil), r.Key...)
	}
	if r.Body != nil {
		cp.Body = append([]byte(nil), r.Body...)
	}
	if r.Extra != nil {
		cp.Extra = append([]byte(nil), r.Extra...)
	}
	if r.Version != nil {
		cp.Version = append([]byte(nil), r.Version...)
	}
	return cp
}

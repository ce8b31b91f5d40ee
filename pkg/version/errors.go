// Package version implements the version-vector revisioning scheme: a
// single (generation, peer) Version and the ordered VersionVector that
// tracks one per authoring peer.
package version

import "errors"

// Sentinel errors surfaced by the codecs and comparison helpers in this
// package. They do not wrap the status package's sentinels, and the
// document façade does not translate them into those.
var (
	// ErrBadRevisionID is returned when an ASCII Version/VersionVector
	// string does not match the expected grammar.
	ErrBadRevisionID = errors.New("version: bad revision id")

	// ErrBadVersionVector is returned for structurally invalid binary or
	// in-memory vectors (duplicate peers, merge version not in the lead
	// position, truncated binary data, and so on).
	ErrBadVersionVector = errors.New("version: bad version vector")
)

// Package status defines the HTTP-style integer statuses and the small
// sentinel-error taxonomy surfaced at the document façade's boundary (spec
// sections 6-7). The document façade's own checks return these sentinels,
// wrapped with %w where they add context; callers test them with
// errors.Is. Errors from pkg/revtree, pkg/version and pkg/revid keep those
// packages' own sentinels and do not wrap these.
package status

import "errors"

// HTTP-style status codes. No function in this module returns them;
// failures are reported through the sentinel errors below.
const (
	OK       = 200 // already exists, no change made
	Created  = 201 // new revision created
	BadReq   = 400 // malformed request: bad revid, bad history, zero generation
	NotFound = 404
	Conflict = 409
	Gone     = 410 // body known-absent (compacted away)
)

var (
	// ErrBadRevisionID is surfaced for a malformed ASCII/binary RevID or
	// VersionVector reaching the façade boundary.
	ErrBadRevisionID = errors.New("status: bad revision id")

	// ErrBadVersionVector is surfaced for a structurally invalid
	// VersionVector (duplicate peers, misplaced merge version, truncated
	// binary data).
	ErrBadVersionVector = errors.New("status: bad version vector")

	// ErrNotInTransaction names a mutating operation invoked outside a
	// caller-begun transaction (spec section 5). No code in this module
	// returns it: operations take the caller's transaction as an argument
	// and do not check whether one was begun.
	ErrNotInTransaction = errors.New("status: not in transaction")

	// ErrCantUpgradeDatabase is returned by Open when a database that
	// requires a tree-to-vector upgrade is opened ReadOnly or NoUpgrade.
	ErrCantUpgradeDatabase = errors.New("status: database needs upgrade but upgrades are disabled")

	// ErrConflict is returned for HTTP 409: an insert that would create a
	// conflict without allowConflict, or a putExistingRevision of Local
	// against an incomparable vector.
	ErrConflict = errors.New("status: conflict")

	// ErrGone is returned for HTTP 410: the caller asked for a revision
	// body that is known to have existed but was compacted away.
	ErrGone = errors.New("status: revision body is gone")

	// ErrNotFound is returned for HTTP 404: no such document or revision.
	ErrNotFound = errors.New("status: not found")

	// ErrDeltaBaseUnknown names a delta whose declared base revision isn't
	// present locally to apply it against. No code in this module returns
	// it.
	ErrDeltaBaseUnknown = errors.New("status: delta base revision unknown")

	// ErrUnimplemented is returned for operations explicitly out of scope,
	// chiefly vector-to-tree downgrade (spec section 4.5).
	ErrUnimplemented = errors.New("status: unimplemented")
)

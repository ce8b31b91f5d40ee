// Package revtree implements RevTree: the branching tree of revisions
// belonging to a single document under the tree-form versioning scheme,
// plus the remote-revision tracking table used to decide conflicts and
// drive the upgrader.
package revtree

import "errors"

var (
	// ErrZeroGeneration is returned by Insert when a caller's revID has
	// generation 0.
	ErrZeroGeneration = errors.New("revtree: revision id has generation 0")

	// ErrBadGeneration is returned when a revID's generation does not
	// equal parent.generation+1 (or 1, when there is no parent).
	ErrBadGeneration = errors.New("revtree: revision id has wrong generation for its parent")

	// ErrConflict is returned by Insert/InsertHistory when the caller
	// disallowed conflicts but inserting would create one.
	ErrConflict = errors.New("revtree: insert would create a conflict")

	// ErrBadHistory is returned by InsertHistory for a malformed history
	// list (not strictly decreasing by 1, excluding tolerated gaps at or
	// below the prune depth).
	ErrBadHistory = errors.New("revtree: malformed revision history")

	// ErrNotFound is returned when a referenced revID or leaf does not
	// exist in the tree.
	ErrNotFound = errors.New("revtree: revision not found")
)

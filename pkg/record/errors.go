package record

import "errors"

// ErrMissingCurrentRevision is returned by RevTreeRecord.Encode when the
// tree has no current revision (it is empty, or every revision was
// purged).
var ErrMissingCurrentRevision = errors.New("record: rev tree has no current revision")

// Package upgrade implements the one-shot, one-way migration that
// rewrites every document in a store from the tree-form versioning scheme
// to the version-vector scheme (spec section 4.5). It is grounded on
// original_source/LiteCore/Database/Database+Upgrade.cc, whose
// "upgradeRemoteRevs" walk over every tracked RemoteID (copy flags, assign
// (rev.generation, kLegacy), or the document's own new vector when a
// remote's tip coincides with the current revision) is reproduced in
// buildRemoteRevisions.
package upgrade

import (
	"fmt"

	"github.com/i5heu/ouroboros-revdoc/pkg/record"
	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/revtree"
	"github.com/i5heu/ouroboros-revdoc/pkg/status"
	"github.com/i5heu/ouroboros-revdoc/pkg/version"
)

// Store is the subset of kvstore.Store the upgrader needs: a single
// transaction spanning every record (spec section 4.5, "executed inside a
// single external transaction").
type Store interface {
	Update(fn func(Txn) error) error
}

// Txn is the subset of kvstore.Txn the upgrader drives: a full-store walk
// plus the ability to overwrite each record in place.
type Txn interface {
	ForEach(fn func(record.Record) error) error
	PutRecord(rec record.Record) error
}

// Scheme mirrors document.Scheme without importing it, so this package has
// no dependency on the façade — the upgrader operates purely on records.
type Scheme int

const (
	SchemeTree Scheme = iota
	SchemeVector
)

// Run migrates every record in store from the tree scheme to the vector
// scheme. It is a no-op if current already equals SchemeVector (spec
// section 8, invariant 8, "Upgrade is a no-op if current scheme equals
// target scheme"). Down-migration is never supported: requesting
// SchemeTree as the target raises ErrUnimplemented regardless of current.
//
// readOnly and noUpgrade reject the migration outright with
// ErrCantUpgradeDatabase, matching a database opened with those Options
// (spec section 6).
func Run(store Store, current, target Scheme, readOnly, noUpgrade bool) error {
	if target == SchemeTree {
		return fmt.Errorf("upgrade: vector-to-tree downgrade: %w", status.ErrUnimplemented)
	}
	if current == target {
		return nil
	}
	if readOnly || noUpgrade {
		return fmt.Errorf("upgrade: schema requires upgrade: %w", status.ErrCantUpgradeDatabase)
	}
	return store.Update(func(txn Txn) error {
		var rewritten []record.Record
		if err := txn.ForEach(func(rec record.Record) error {
			newRec, changed, err := upgradeRecord(rec)
			if err != nil {
				return fmt.Errorf("upgrade: record %x: %w", rec.Key, err)
			}
			if changed {
				rewritten = append(rewritten, newRec)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, rec := range rewritten {
			if err := txn.PutRecord(rec); err != nil {
				return fmt.Errorf("upgrade: write %x: %w", rec.Key, err)
			}
		}
		return nil
	})
}

// upgradeRecord converts one tree-form Record to vector form. changed is
// false for a Record with no decodable tree (already vector-form, or
// genuinely empty), in which case rec is returned unmodified.
func upgradeRecord(rec record.Record) (record.Record, bool, error) {
	rr, err := record.DecodeRevTreeRecord(rec)
	if err != nil {
		if _, verr := record.DecodeVectorRecord(rec); verr == nil {
			// Already vector-form: Extra holds a remote-revision snapshot,
			// not a rev tree.
			return rec, false, nil
		}
		return record.Record{}, false, fmt.Errorf("decode rev tree: %w", err)
	}
	current, ok := rr.Tree.CurrentRevision()
	if !ok {
		// An empty tree (never written) carries no history to migrate;
		// leave it untouched.
		return rec, false, nil
	}

	remote, hasRemote := rr.Tree.LatestRevisionOnRemote(revtree.DefaultRemoteID)
	var base *revtree.Rev
	if hasRemote {
		if b, ok := rr.Tree.CommonAncestor(current, remote); ok {
			base = b
		}
	}

	vv := buildVector(current, base)

	newRec := rec.Clone()
	newRec.Version = vv.AsBinary(version.Me)
	newRec.Body = current.Body
	// Sequence and Key and Flags are preserved verbatim: the upgrade does
	// not advance the sequence (spec section 4.5, "do not advance
	// sequence"; section 9, updateSequence=false).

	vr := record.NewVectorRecord(rec.Key)
	vr.Record = newRec
	if remotes := buildRemoteRevisions(rr.Tree, current, vv); len(remotes) > 0 {
		vr.Remotes = remotes
	}
	encoded, err := vr.Encode()
	if err != nil {
		return record.Record{}, false, fmt.Errorf("encode vector record: %w", err)
	}
	return encoded, true, nil
}

// buildVector implements spec section 4.5's vector-construction rule: a
// leading (base.generation, kLegacy) entry if a common ancestor with the
// tracked remote exists, followed by a (local, kMe) entry for any
// generations the local peer has added since that ancestor. This order —
// legacy first, then the local tip — is the migration's own convention,
// distinct from the general "most-recently-mutated peer leads" rule
// (spec section 4.1). For example, a current revision at generation 3
// whose common ancestor with the remote's tip is at generation 2 migrates
// to [2@kLegacy, 1@kMe].
func buildVector(current, base *revtree.Rev) version.VersionVector {
	var versions []version.Version
	baseGen := uint64(0)
	if base != nil {
		baseGen = base.ID.Generation()
		versions = append(versions, version.New(baseGen, version.Legacy))
	}
	local := current.ID.Generation() - baseGen
	if local > 0 {
		versions = append(versions, version.New(local, version.Me))
	}
	return version.Of(versions...)
}

// buildRemoteRevisions reproduces Database+Upgrade.cc's upgradeRemoteRevs:
// it walks every RemoteID the tree tracks a tip for — not just the default
// one — and synthesizes a vector-scheme Revision for each. A remote whose
// tracked tip is the document's own current revision carries the same
// full vector just computed for the document (vv) rather than a
// single-entry one, matching the original's "rev == currentRev" special
// case; every other remote gets a single-entry kLegacy RevID at that rev's
// tree generation, plus its body if still present. Returns nil if the tree
// tracks no remotes at all.
func buildRemoteRevisions(tree *revtree.RevTree, current *revtree.Rev, vv version.VersionVector) map[revtree.RemoteID]record.Revision {
	ids := tree.RemoteIDs()
	if len(ids) == 0 {
		return nil
	}

	out := make(map[revtree.RemoteID]record.Revision, len(ids))
	for _, rid := range ids {
		tip, ok := tree.LatestRevisionOnRemote(rid)
		if !ok {
			continue
		}
		if tip == current {
			out[rid] = record.Revision{
				RevID: revid.NewVector(vv),
				Body:  current.Body,
				Flags: remoteFlags(current),
			}
			continue
		}
		legacy := version.Of(version.New(tip.ID.Generation(), version.Legacy))
		out[rid] = record.Revision{
			RevID: revid.NewVector(legacy),
			Body:  tip.Body,
			Flags: remoteFlags(tip),
		}
	}
	return out
}

func remoteFlags(r *revtree.Rev) record.Flag {
	var f record.Flag
	if r.IsDeleted() {
		f |= record.FlagDeleted
	}
	if r.HasAttachments() {
		f |= record.FlagHasAttachments
	}
	return f
}

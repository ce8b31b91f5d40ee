package document

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-revdoc/pkg/record"
	"github.com/i5heu/ouroboros-revdoc/pkg/revid"
	"github.com/i5heu/ouroboros-revdoc/pkg/revtree"
	"github.com/i5heu/ouroboros-revdoc/pkg/status"
)

// PutRequest is the input to Factory.Put (spec section 4.4, "Put
// pipeline"). A non-empty History selects the "existing revision"
// (replicator) path; an empty History selects the "new local revision"
// path, where ParentRevID (if any) must name the caller's understanding of
// the document's current tip.
type PutRequest struct {
	DocID          string
	ParentRevID    string
	History        []string
	Body           []byte
	Deleted        bool
	HasAttachments bool
	AllowConflict  bool
	Save           bool
	Remote         revtree.RemoteID // vector scheme, replicator path only
}

// PutResult is Factory.Put's successful outcome.
type PutResult struct {
	DocID               string
	RevID               revid.RevID
	CommonAncestorIndex int
}

// Factory constructs and mutates documents under one fixed Config — the
// analogue of the database handle's view of "which scheme is in effect"
// (spec section 4.4).
type Factory struct {
	cfg Config
}

// NewFactory returns a Factory bound to cfg.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

// generateDocID produces a random 22-character, 132-bit base64 document ID
// prefixed with '-', per spec section 4.4.
func generateDocID() (string, error) {
	buf := make([]byte, 17)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("document: generate doc id: %w", err)
	}
	enc := base64.RawURLEncoding.EncodeToString(buf)
	return "-" + enc[:22], nil
}

// Put drives the full put pipeline described in spec section 4.4.
func (f *Factory) Put(txn Txn, req PutRequest) (*PutResult, error) {
	if len(req.History) > 0 {
		return f.putExisting(txn, req)
	}
	if f.cfg.Scheme == SchemeVector {
		return f.putNewVector(txn, req)
	}
	return f.putNewTree(txn, req)
}

func (f *Factory) putNewTree(txn Txn, req PutRequest) (*PutResult, error) {
	docID := req.DocID
	if docID == "" {
		id, err := generateDocID()
		if err != nil {
			return nil, err
		}
		docID = id
	}

	rr, err := loadOrNewTreeRecord(txn, docID)
	if err != nil {
		return nil, err
	}

	var parent revid.RevID
	hasParent := req.ParentRevID != ""
	if hasParent {
		parent, err = revid.Parse(req.ParentRevID, f.cfg.MyID)
		if err != nil {
			return nil, err
		}
		pr, ok := rr.Tree.Get(parent)
		if !ok {
			return nil, fmt.Errorf("document: parent %s: %w", req.ParentRevID, status.ErrNotFound)
		}
		if !pr.IsLeaf() && !req.AllowConflict {
			return nil, status.ErrConflict
		}
	} else if cur, ok := rr.Tree.CurrentRevision(); ok {
		if !cur.IsDeleted() {
			return nil, status.ErrConflict
		}
		parent = cur.ID
		hasParent = true
	}

	newID := revid.GenerateTreeRevID(req.Body, parent, hasParent, req.Deleted, f.cfg.LegacyDigest)

	var flags revtree.Flag
	if req.Deleted {
		flags |= revtree.FlagDeleted
	}
	if req.HasAttachments {
		flags |= revtree.FlagHasAttachments
	}

	if _, _, err := rr.Tree.Insert(newID, req.Body, flags, parent, hasParent, req.AllowConflict, false); err != nil {
		return nil, err
	}

	if req.Save {
		rr.Tree.RemoveNonLeafBodies()
		rr.Tree.Prune(f.cfg.maxDepth())
		enc, err := rr.Encode()
		if err != nil {
			return nil, err
		}
		if err := txn.PutRecord(enc); err != nil {
			return nil, err
		}
	}

	return &PutResult{DocID: docID, RevID: newID}, nil
}

func (f *Factory) putNewVector(txn Txn, req PutRequest) (*PutResult, error) {
	docID := req.DocID
	if docID == "" {
		id, err := generateDocID()
		if err != nil {
			return nil, err
		}
		docID = id
	}

	vr, err := loadOrNewVectorRecord(txn, docID)
	if err != nil {
		return nil, err
	}

	localVV, err := vr.LocalVector()
	if err != nil {
		return nil, err
	}

	if req.ParentRevID == "" {
		if !localVV.IsEmpty() && !vr.Record.Flags.Has(record.FlagDeleted) {
			return nil, status.ErrConflict
		}
	} else {
		parent, err := revid.Parse(req.ParentRevID, f.cfg.MyID)
		if err != nil {
			return nil, err
		}
		if !vectorMatches(parent, localVV) {
			return nil, status.ErrConflict
		}
	}

	newVV := localVV
	if err := newVV.IncrementGen(f.cfg.MyID); err != nil {
		return nil, err
	}

	vr.SetLocalVector(newVV)
	vr.Record.Body = req.Body
	vr.Record.Flags = vectorDocFlags(req.Deleted, req.HasAttachments)

	if req.Save {
		vr.SetLocalVector(newVV.LimitCount(f.cfg.maxDepth()))
		enc, err := vr.Encode()
		if err != nil {
			return nil, err
		}
		if err := txn.PutRecord(enc); err != nil {
			return nil, err
		}
	}

	return &PutResult{DocID: docID, RevID: revid.NewVector(newVV)}, nil
}

func (f *Factory) putExisting(txn Txn, req PutRequest) (*PutResult, error) {
	if req.DocID == "" || len(req.History) == 0 {
		return nil, status.ErrBadRevisionID
	}
	if f.cfg.Scheme == SchemeVector {
		return f.putExistingVector(txn, req)
	}
	return f.putExistingTree(txn, req)
}

func (f *Factory) putExistingTree(txn Txn, req PutRequest) (*PutResult, error) {
	rr, err := loadOrNewTreeRecord(txn, req.DocID)
	if err != nil {
		return nil, err
	}

	history := make([]revid.RevID, len(req.History))
	for i, s := range req.History {
		id, err := revid.Parse(s, f.cfg.MyID)
		if err != nil {
			return nil, err
		}
		history[i] = id
	}

	var flags revtree.Flag
	if req.Deleted {
		flags |= revtree.FlagDeleted
	}
	if req.HasAttachments {
		flags |= revtree.FlagHasAttachments
	}

	idx, err := rr.Tree.InsertHistory(history, req.Body, flags, true, true, f.cfg.maxDepth())
	if err != nil {
		return nil, err
	}

	if req.Save {
		rr.Tree.RemoveNonLeafBodies()
		rr.Tree.Prune(f.cfg.maxDepth())
		enc, err := rr.Encode()
		if err != nil {
			return nil, err
		}
		if err := txn.PutRecord(enc); err != nil {
			return nil, err
		}
	}

	return &PutResult{DocID: req.DocID, RevID: history[0], CommonAncestorIndex: idx}, nil
}

func (f *Factory) putExistingVector(txn Txn, req PutRequest) (*PutResult, error) {
	vr, err := loadOrNewVectorRecord(txn, req.DocID)
	if err != nil {
		return nil, err
	}

	newID, err := revid.Parse(req.History[0], f.cfg.MyID)
	if err != nil {
		return nil, err
	}

	vd := &VectorDocument{cfg: f.cfg, key: []byte(req.DocID), loaded: true, exists: true, vr: vr}
	idx, err := vd.PutExistingRevision(req.Remote, newID, req.Body, req.Deleted, req.HasAttachments)
	if err != nil {
		return nil, err
	}

	if req.Save {
		if err := vd.Save(txn); err != nil {
			return nil, err
		}
	}

	return &PutResult{DocID: req.DocID, RevID: newID, CommonAncestorIndex: idx}, nil
}

func loadOrNewTreeRecord(txn Txn, docID string) (*record.RevTreeRecord, error) {
	rec, err := txn.GetRecord([]byte(docID))
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			return record.NewRevTreeRecord([]byte(docID)), nil
		}
		return nil, err
	}
	return record.DecodeRevTreeRecord(rec)
}

func loadOrNewVectorRecord(txn Txn, docID string) (*record.VectorRecord, error) {
	rec, err := txn.GetRecord([]byte(docID))
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			return record.NewVectorRecord([]byte(docID)), nil
		}
		return nil, err
	}
	return record.DecodeVectorRecord(rec)
}

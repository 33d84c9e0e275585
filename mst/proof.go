package mst

import (
	"context"
	"fmt"

	"github.com/gloudx/mstengine/errs"
	"github.com/ipfs/go-cid"
)

// Proof is the set of node CIDs visited searching for one rpath: the
// witness a verifier needs to confirm a record is (or isn't) present
// without holding the whole tree.
type Proof struct {
	Value cid.Cid // cid.Undef when rpath is absent
	Nodes []cid.Cid
}

// Present reports whether the proof witnesses an inclusion (rpath found).
func (p *Proof) Present() bool { return p.Value.Defined() }

// BuildProof walks root searching for rpath and returns the witness: the
// CIDs of every node on the search path, plus the found value (cid.Undef
// if absent). The same construction serves both inclusion and exclusion
// proofs — which one it is depends on whether Value ends up defined.
func BuildProof(ctx context.Context, ns *NodeStore, root cid.Cid, rpath []byte) (*Proof, error) {
	w, err := NewWalker(ctx, ns, root)
	if err != nil {
		return nil, err
	}
	value, _, err := w.Find(ctx, rpath)
	if err != nil {
		return nil, err
	}
	seen := cidSet{}
	var nodes []cid.Cid
	for _, f := range w.stack {
		if !seen.has(f.node.CID()) {
			seen.add(f.node.CID())
			nodes = append(nodes, f.node.CID())
		}
	}
	return &Proof{Value: value, Nodes: nodes}, nil
}

// BuildInclusionProof is BuildProof, but fails with ErrProofError if rpath
// turns out to be absent — a caller asking for an inclusion proof expects
// one to exist.
func BuildInclusionProof(ctx context.Context, ns *NodeStore, root cid.Cid, rpath []byte) (*Proof, error) {
	p, err := BuildProof(ctx, ns, root, rpath)
	if err != nil {
		return nil, err
	}
	if !p.Present() {
		return nil, fmt.Errorf("%w: rpath %q is not present in the tree", errs.ErrProofError, rpath)
	}
	return p, nil
}

// BuildExclusionProof is BuildProof, but fails with ErrProofError if rpath
// turns out to be present.
func BuildExclusionProof(ctx context.Context, ns *NodeStore, root cid.Cid, rpath []byte) (*Proof, error) {
	p, err := BuildProof(ctx, ns, root, rpath)
	if err != nil {
		return nil, err
	}
	if p.Present() {
		return nil, fmt.Errorf("%w: rpath %q is present in the tree", errs.ErrProofError, rpath)
	}
	return p, nil
}

// VerifyInclusion re-walks root (typically backed by a Store restricted to
// exactly a proof's witness blocks) and confirms rpath is present. A
// missing witness block surfaces as errs.ErrInvalidProof, same as rpath
// turning out absent.
func VerifyInclusion(ctx context.Context, ns *NodeStore, root cid.Cid, rpath []byte) error {
	w, err := NewWalker(ctx, ns, root)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidProof, err)
	}
	value, _, err := w.Find(ctx, rpath)
	if err != nil {
		return fmt.Errorf("%w: missing proof blocks: %v", errs.ErrInvalidProof, err)
	}
	if !value.Defined() {
		return fmt.Errorf("%w: rpath not present in tree", errs.ErrInvalidProof)
	}
	return nil
}

// VerifyExclusion is VerifyInclusion's counterpart: it confirms rpath is
// absent.
func VerifyExclusion(ctx context.Context, ns *NodeStore, root cid.Cid, rpath []byte) error {
	w, err := NewWalker(ctx, ns, root)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidProof, err)
	}
	value, _, err := w.Find(ctx, rpath)
	if err != nil {
		return fmt.Errorf("%w: missing proof blocks: %v", errs.ErrInvalidProof, err)
	}
	if value.Defined() {
		return fmt.Errorf("%w: rpath is present in tree", errs.ErrInvalidProof)
	}
	return nil
}

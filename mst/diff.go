package mst

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// cidSet is a small set-of-CIDs helper; diff.go is the only place that
// needs set algebra (union, intersection, subtraction) over CIDs.
type cidSet map[cid.Cid]struct{}

func (s cidSet) add(c cid.Cid)         { s[c] = struct{}{} }
func (s cidSet) has(c cid.Cid) bool    { _, ok := s[c]; return ok }
func (s cidSet) addAll(cs []cid.Cid) {
	for _, c := range cs {
		s.add(c)
	}
}

// DiffResult is the structural diff between two tree roots: the sets of
// node CIDs newly reachable from B but not A (Created), and reachable from
// A but not B (Deleted).
type DiffResult struct {
	Created cidSet
	Deleted cidSet
}

// Diff computes the structural diff between roots a and b by walking both
// trees with a matched pair of cursors, recursing only where they diverge
// and skipping identical subtrees by CID. The result agrees with the
// exhaustive SlowDiff for any pair of roots.
func Diff(ctx context.Context, ns *NodeStore, a, b cid.Cid) (*DiffResult, error) {
	aNode, err := ns.Get(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("mst: diff: load a: %w", err)
	}
	bNode, err := ns.Get(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("mst: diff: load b: %w", err)
	}

	created := cidSet{}
	deleted := cidSet{}

	aWalker, err := NewWalker(ctx, ns, aNode.CID())
	if err != nil {
		return nil, err
	}
	bWalker, err := NewWalker(ctx, ns, bNode.CID())
	if err != nil {
		return nil, err
	}

	if err := diffRecursive(ctx, ns, created, deleted, aWalker, bWalker); err != nil {
		return nil, err
	}

	// The two-cursor algorithm tentatively adds both sides' node CIDs
	// before it knows whether they'll turn out identical subtrees; when
	// one tree contains a subtree of the other this can double-count a
	// node as both created and deleted. Subtracting the intersection
	// below corrects for that.
	middle := cidSet{}
	for c := range created {
		if deleted.has(c) {
			middle.add(c)
		}
	}
	for c := range middle {
		delete(created, c)
		delete(deleted, c)
	}

	emptyCID := EmptyNode().CID()
	if aNode.CID() == emptyCID && bNode.CID() != emptyCID {
		deleted.add(emptyCID)
	}
	if bNode.CID() == emptyCID && aNode.CID() != emptyCID {
		created.add(emptyCID)
	}

	return &DiffResult{Created: created, Deleted: deleted}, nil
}

func diffRecursive(ctx context.Context, ns *NodeStore, created, deleted cidSet, a, b *Walker) error {
	if a.Node().CID() == b.Node().CID() {
		return nil
	}

	if a.Node().IsEmpty() {
		cids, err := b.IterNodeCIDs(ctx)
		if err != nil {
			return err
		}
		created.addAll(cids)
		return nil
	}
	if b.Node().IsEmpty() {
		cids, err := a.IterNodeCIDs(ctx)
		if err != nil {
			return err
		}
		deleted.addAll(cids)
		return nil
	}

	created.add(b.Node().CID())
	deleted.add(a.Node().CID())

	for {
		for a.Rpath().compare(b.Rpath()) != 0 {
			for a.Rpath().less(b.Rpath()) && !a.IsFinal() {
				if a.Subtree().Defined() {
					if err := a.Down(ctx); err != nil {
						return err
					}
					deleted.add(a.Node().CID())
				} else {
					if err := a.RightOrUp(); err != nil {
						return err
					}
				}
			}
			for b.Rpath().less(a.Rpath()) && !b.IsFinal() {
				if b.Subtree().Defined() {
					if err := b.Down(ctx); err != nil {
						return err
					}
					created.add(b.Node().CID())
				} else {
					if err := b.RightOrUp(); err != nil {
						return err
					}
				}
			}
		}

		aSub, err := a.SubtreeWalker(ctx)
		if err != nil {
			return err
		}
		bSub, err := b.SubtreeWalker(ctx)
		if err != nil {
			return err
		}
		if err := diffRecursive(ctx, ns, created, deleted, aSub, bSub); err != nil {
			return err
		}

		aAtRoot := a.Rpath().compare(rootRpath(a)) == 0
		bAtRoot := b.Rpath().compare(rootRpath(b)) == 0
		if aAtRoot && bAtRoot {
			break
		}
		if err := a.RightOrUp(); err != nil {
			return err
		}
		if err := b.RightOrUp(); err != nil {
			return err
		}
	}

	return nil
}

func rootRpath(w *Walker) pathBound {
	return w.stack[0].rpath
}

// SlowDiff is the exhaustive reference diff: it enumerates every node
// reachable from each root and takes plain set differences. It exists to
// validate Diff's faster two-cursor algorithm in tests, not for production
// use — it visits every node in both trees.
func SlowDiff(ctx context.Context, ns *NodeStore, a, b cid.Cid) (*DiffResult, error) {
	aWalker, err := NewWalker(ctx, ns, a)
	if err != nil {
		return nil, err
	}
	bWalker, err := NewWalker(ctx, ns, b)
	if err != nil {
		return nil, err
	}
	aCIDs, err := aWalker.IterNodeCIDs(ctx)
	if err != nil {
		return nil, err
	}
	bCIDs, err := bWalker.IterNodeCIDs(ctx)
	if err != nil {
		return nil, err
	}

	aSet := cidSet{}
	aSet.addAll(aCIDs)
	bSet := cidSet{}
	bSet.addAll(bCIDs)

	created := cidSet{}
	for c := range bSet {
		if !aSet.has(c) {
			created.add(c)
		}
	}
	deleted := cidSet{}
	for c := range aSet {
		if !bSet.has(c) {
			deleted.add(c)
		}
	}
	return &DiffResult{Created: created, Deleted: deleted}, nil
}

// RecordChangeKind enumerates the three kinds of record-level delta
// RecordDiff can produce.
type RecordChangeKind int

const (
	RecordCreated RecordChangeKind = iota
	RecordUpdated
	RecordDeleted
)

func (k RecordChangeKind) String() string {
	switch k {
	case RecordCreated:
		return "created"
	case RecordUpdated:
		return "updated"
	case RecordDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// RecordChange is one record-level delta derived from a DiffResult: a key
// whose value in the "before" tree (Prior) and/or "after" tree (Later)
// differs. Prior/Later are cid.Undef when the key didn't exist on that
// side.
type RecordChange struct {
	Kind  RecordChangeKind
	Key   []byte
	Prior cid.Cid
	Later cid.Cid
}

// RecordDiff derives record-level changes from a DiffResult's created and
// deleted node sets: union the (key, value) pairs across all nodes on each
// side, then classify every key present on either side as created,
// updated, or deleted.
func RecordDiff(ctx context.Context, ns *NodeStore, result *DiffResult) ([]RecordChange, error) {
	createdKV, err := unionKV(ctx, ns, result.Created)
	if err != nil {
		return nil, fmt.Errorf("mst: record diff: created side: %w", err)
	}
	deletedKV, err := unionKV(ctx, ns, result.Deleted)
	if err != nil {
		return nil, fmt.Errorf("mst: record diff: deleted side: %w", err)
	}

	var out []RecordChange
	for k, v := range createdKV {
		if old, ok := deletedKV[k]; !ok {
			out = append(out, RecordChange{Kind: RecordCreated, Key: []byte(k), Later: v})
		} else if old != v {
			out = append(out, RecordChange{Kind: RecordUpdated, Key: []byte(k), Prior: old, Later: v})
		}
	}
	for k, v := range deletedKV {
		if _, ok := createdKV[k]; !ok {
			out = append(out, RecordChange{Kind: RecordDeleted, Key: []byte(k), Prior: v})
		}
	}
	return out, nil
}

// unionKV builds a key->value map over every key in every node in cids.
// Nodes in a diff's created/deleted sets never share a key with another
// node in the same set (each key lives in exactly one node at its height),
// so this is a plain union, not a conflict-resolving merge.
func unionKV(ctx context.Context, ns *NodeStore, cids cidSet) (map[string]cid.Cid, error) {
	out := make(map[string]cid.Cid)
	for c := range cids {
		n, err := ns.Get(ctx, c)
		if err != nil {
			return nil, err
		}
		for i, k := range n.keys {
			out[string(k)] = n.values[i]
		}
	}
	return out, nil
}

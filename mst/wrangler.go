package mst

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// Wrangler performs the root-to-root put/delete transformations that
// preserve canonical tree shape: the same key set always converges to the
// same root CID no matter what order it was built in or what the tree's
// prior shape happened to be. Neither Put nor Delete ever fails on a
// semantic nop — a caller detects "nothing changed" by comparing the
// returned CID against the one it passed in.
type Wrangler struct {
	ns *NodeStore
}

// NewWrangler returns a Wrangler operating over ns.
func NewWrangler(ns *NodeStore) *Wrangler {
	return &Wrangler{ns: ns}
}

// Put inserts or updates key -> value under root, returning the new root
// CID. Putting the same (key, value) pair that is already present is a nop:
// the returned CID equals root.
func (w *Wrangler) Put(ctx context.Context, root cid.Cid, key []byte, value cid.Cid) (cid.Cid, error) {
	rootNode, err := w.ns.Get(ctx, root)
	if err != nil {
		return cid.Undef, fmt.Errorf("mst: put: load root: %w", err)
	}

	if rootNode.IsEmpty() {
		n, err := w.putHere(ctx, rootNode, key, value)
		if err != nil {
			return cid.Undef, err
		}
		return n.CID(), nil
	}

	n, err := w.putRecursive(ctx, rootNode, key, value, KeyHeight(key), rootNode.Height())
	if err != nil {
		return cid.Undef, err
	}
	return n.CID(), nil
}

// putRecursive implements the three-way branch of insertion: grow the tree
// if the key's height exceeds the current level, descend if it's below, or
// insert here if they match.
func (w *Wrangler) putRecursive(ctx context.Context, n *Node, key []byte, value cid.Cid, keyHeight, treeHeight int) (*Node, error) {
	if keyHeight > treeHeight {
		wrapped, err := newNode(nil, nil, []cid.Cid{n.CID()})
		if err != nil {
			return nil, err
		}
		if _, err := w.ns.Put(ctx, wrapped); err != nil {
			return nil, err
		}
		grown, err := w.putRecursive(ctx, wrapped, key, value, keyHeight, treeHeight+1)
		if err != nil {
			return nil, err
		}
		return w.ns.Put(ctx, grown)
	}

	if keyHeight < treeHeight {
		i := n.GTEIndex(key)
		child, err := w.ns.Get(ctx, n.subtrees[i])
		if err != nil {
			return nil, fmt.Errorf("mst: put: load subtree: %w", err)
		}
		newChild, err := w.putRecursive(ctx, child, key, value, keyHeight, treeHeight-1)
		if err != nil {
			return nil, err
		}
		subtrees := replaceAt(n.subtrees, i, newChild.ToOptionalCID())
		replaced, err := newNode(n.keys, n.values, subtrees)
		if err != nil {
			return nil, err
		}
		return w.ns.Put(ctx, replaced)
	}

	return w.putHere(ctx, n, key, value)
}

// putHere inserts (or updates) key at the level n already belongs to:
// replace the value in place if the key is already present, otherwise
// split the straddling subtree around key and splice the new entry in
// between the two halves.
func (w *Wrangler) putHere(ctx context.Context, n *Node, key []byte, value cid.Cid) (*Node, error) {
	i := n.GTEIndex(key)

	if i < len(n.keys) && bytesEqual(n.keys[i], key) {
		if n.values[i] == value {
			return n, nil
		}
		newValues := replaceAt(n.values, i, value)
		updated, err := newNode(n.keys, newValues, n.subtrees)
		if err != nil {
			return nil, err
		}
		return w.ns.Put(ctx, updated)
	}

	left, right, err := w.splitOnKey(ctx, n.subtrees[i], key)
	if err != nil {
		return nil, err
	}
	subtrees := make([]cid.Cid, 0, len(n.subtrees)+1)
	subtrees = append(subtrees, n.subtrees[:i]...)
	subtrees = append(subtrees, left, right)
	subtrees = append(subtrees, n.subtrees[i+1:]...)

	newKeys := insertAt(n.keys, i, append([]byte{}, key...))
	newValues := insertAt(n.values, i, value)

	inserted, err := newNode(newKeys, newValues, subtrees)
	if err != nil {
		return nil, err
	}
	return w.ns.Put(ctx, inserted)
}

// splitOnKey recursively partitions the subtree at subtreeCID so every key
// strictly less than key ends up in the returned left subtree, and every
// key strictly greater ends up in right. An undefined subtreeCID splits
// into (undef, undef).
func (w *Wrangler) splitOnKey(ctx context.Context, subtreeCID cid.Cid, key []byte) (left, right cid.Cid, err error) {
	if !subtreeCID.Defined() {
		return cid.Undef, cid.Undef, nil
	}

	n, err := w.ns.Get(ctx, subtreeCID)
	if err != nil {
		return cid.Undef, cid.Undef, fmt.Errorf("mst: split: load subtree: %w", err)
	}

	i := n.GTEIndex(key)
	lsub, rsub, err := w.splitOnKey(ctx, n.subtrees[i], key)
	if err != nil {
		return cid.Undef, cid.Undef, err
	}

	leftSubtrees := append(append([]cid.Cid{}, n.subtrees[:i]...), lsub)
	leftNode, err := newNode(n.keys[:i], n.values[:i], leftSubtrees)
	if err != nil {
		return cid.Undef, cid.Undef, err
	}
	if _, err := w.ns.Put(ctx, leftNode); err != nil {
		return cid.Undef, cid.Undef, err
	}

	rightSubtrees := append([]cid.Cid{rsub}, n.subtrees[i+1:]...)
	rightNode, err := newNode(n.keys[i:], n.values[i:], rightSubtrees)
	if err != nil {
		return cid.Undef, cid.Undef, err
	}
	if _, err := w.ns.Put(ctx, rightNode); err != nil {
		return cid.Undef, cid.Undef, err
	}

	return leftNode.ToOptionalCID(), rightNode.ToOptionalCID(), nil
}

// Delete removes key from root, returning the new root CID. Deleting a key
// that isn't present is a nop: the returned CID equals root.
func (w *Wrangler) Delete(ctx context.Context, root cid.Cid, key []byte) (cid.Cid, error) {
	rootNode, err := w.ns.Get(ctx, root)
	if err != nil {
		return cid.Undef, fmt.Errorf("mst: delete: load root: %w", err)
	}

	result, err := w.deleteRecursive(ctx, rootNode, key, KeyHeight(key), rootNode.Height())
	if err != nil {
		return cid.Undef, err
	}

	squashed, err := w.squashTop(ctx, result)
	if err != nil {
		return cid.Undef, err
	}
	squashedNode, err := w.ns.Get(ctx, squashed)
	if err != nil {
		return cid.Undef, err
	}
	return squashedNode.CID(), nil
}

// deleteRecursive mirrors putRecursive's descent: too tall for the key to
// be present, descend, or locate-and-remove at this level, merging the two
// subtrees that straddled the removed key.
func (w *Wrangler) deleteRecursive(ctx context.Context, n *Node, key []byte, keyHeight, treeHeight int) (cid.Cid, error) {
	if keyHeight > treeHeight {
		return n.ToOptionalCID(), nil
	}

	i := n.GTEIndex(key)

	if keyHeight < treeHeight {
		if !n.subtrees[i].Defined() {
			return n.ToOptionalCID(), nil
		}
		child, err := w.ns.Get(ctx, n.subtrees[i])
		if err != nil {
			return cid.Undef, fmt.Errorf("mst: delete: load subtree: %w", err)
		}
		newChild, err := w.deleteRecursive(ctx, child, key, keyHeight, treeHeight-1)
		if err != nil {
			return cid.Undef, err
		}
		replaced, err := newNode(n.keys, n.values, replaceAt(n.subtrees, i, newChild))
		if err != nil {
			return cid.Undef, err
		}
		if _, err := w.ns.Put(ctx, replaced); err != nil {
			return cid.Undef, err
		}
		return replaced.ToOptionalCID(), nil
	}

	if i == len(n.keys) || !bytesEqual(n.keys[i], key) {
		return n.ToOptionalCID(), nil
	}

	merged, err := w.merge(ctx, n.subtrees[i], n.subtrees[i+1])
	if err != nil {
		return cid.Undef, err
	}

	subtrees := make([]cid.Cid, 0, len(n.subtrees)-1)
	subtrees = append(subtrees, n.subtrees[:i]...)
	subtrees = append(subtrees, merged)
	subtrees = append(subtrees, n.subtrees[i+2:]...)

	removed, err := newNode(removeAt(n.keys, i), removeAt(n.values, i), subtrees)
	if err != nil {
		return cid.Undef, err
	}
	if _, err := w.ns.Put(ctx, removed); err != nil {
		return cid.Undef, err
	}
	return removed.ToOptionalCID(), nil
}

// merge combines the two subtrees that straddled a just-removed key into a
// single subtree: the removed spine collapses into the recursive merge of
// left's rightmost subtree with right's leftmost one.
func (w *Wrangler) merge(ctx context.Context, leftCID, rightCID cid.Cid) (cid.Cid, error) {
	if !leftCID.Defined() {
		return rightCID, nil
	}
	if !rightCID.Defined() {
		return leftCID, nil
	}

	left, err := w.ns.Get(ctx, leftCID)
	if err != nil {
		return cid.Undef, fmt.Errorf("mst: merge: load left: %w", err)
	}
	right, err := w.ns.Get(ctx, rightCID)
	if err != nil {
		return cid.Undef, fmt.Errorf("mst: merge: load right: %w", err)
	}

	mergedSpine, err := w.merge(ctx, left.subtrees[len(left.subtrees)-1], right.subtrees[0])
	if err != nil {
		return cid.Undef, err
	}

	keys := append(append([][]byte{}, left.keys...), right.keys...)
	values := append(append([]cid.Cid{}, left.values...), right.values...)
	subtrees := append(append([]cid.Cid{}, left.subtrees[:len(left.subtrees)-1]...), mergedSpine)
	subtrees = append(subtrees, right.subtrees[1:]...)

	merged, err := newNode(keys, values, subtrees)
	if err != nil {
		return cid.Undef, err
	}
	if _, err := w.ns.Put(ctx, merged); err != nil {
		return cid.Undef, err
	}
	return merged.ToOptionalCID(), nil
}

// squashTop strips a chain of keyless top-level nodes left behind by
// delete, descending subtrees[0] until reaching a node that either has
// keys or a null subtrees[0]. This keeps a tree's height equal to its
// tallest remaining key, which canonical shape requires.
func (w *Wrangler) squashTop(ctx context.Context, nodeCID cid.Cid) (cid.Cid, error) {
	n, err := w.ns.Get(ctx, nodeCID)
	if err != nil {
		return cid.Undef, fmt.Errorf("mst: squash: load: %w", err)
	}
	if len(n.keys) > 0 || !n.subtrees[0].Defined() {
		return nodeCID, nil
	}
	return w.squashTop(ctx, n.subtrees[0])
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func replaceAt[T any](s []T, i int, v T) []T {
	out := make([]T, len(s))
	copy(out, s)
	out[i] = v
	return out
}

func insertAt[T any](s []T, i int, v T) []T {
	out := make([]T, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, v)
	out = append(out, s[i:]...)
	return out
}

func removeAt[T any](s []T, i int) []T {
	out := make([]T, 0, len(s)-1)
	out = append(out, s[:i]...)
	out = append(out, s[i+1:]...)
	return out
}

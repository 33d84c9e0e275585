package mst

import (
	"bytes"
	"context"
	"fmt"

	"github.com/gloudx/mstengine/errs"
	"github.com/ipfs/go-cid"
)

// pathBound is a key boundary that can also represent one of the two
// virtual sentinels the root frame is anchored with (-infinity,
// +infinity). Plain byte-string sentinels ("", "\xff") only work as long as
// no real key can equal or exceed them; an explicit infinity flag makes the
// bound correct for arbitrary key bytes instead of assuming an ASCII-ish
// keyspace.
type pathBound struct {
	key   []byte
	negInf bool
	posInf bool
}

func negInfBound() pathBound { return pathBound{negInf: true} }
func posInfBound() pathBound { return pathBound{posInf: true} }
func keyBound(k []byte) pathBound { return pathBound{key: k} }

// compare returns -1, 0, or 1 as a compares below, equal to, or above b.
func (a pathBound) compare(b pathBound) int {
	if a.negInf {
		if b.negInf {
			return 0
		}
		return -1
	}
	if a.posInf {
		if b.posInf {
			return 0
		}
		return 1
	}
	if b.negInf {
		return 1
	}
	if b.posInf {
		return -1
	}
	return bytes.Compare(a.key, b.key)
}

// compareKey compares this bound against a plain key.
func (a pathBound) compareKey(k []byte) int {
	return a.compare(keyBound(k))
}

func (a pathBound) less(b pathBound) bool { return a.compare(b) < 0 }

func (a pathBound) isKey() bool { return !a.negInf && !a.posInf }

// frame is one level of a Walker's stack: the node currently visited, the
// inherited boundary keys, and the slot (idx) the cursor sits at within it.
type frame struct {
	node  *Node
	lpath pathBound
	rpath pathBound
	idx   int
}

func (f *frame) curLpath() pathBound {
	if f.idx == 0 {
		return f.lpath
	}
	return keyBound(f.node.keys[f.idx-1])
}

func (f *frame) curRpath() pathBound {
	if f.idx == len(f.node.keys) {
		return f.rpath
	}
	return keyBound(f.node.keys[f.idx])
}

func (f *frame) curLval() cid.Cid {
	if f.idx == 0 {
		return cid.Undef
	}
	return f.node.values[f.idx-1]
}

func (f *frame) curRval() cid.Cid {
	if f.idx == len(f.node.values) {
		return cid.Undef
	}
	return f.node.values[f.idx]
}

func (f *frame) curSubtree() cid.Cid {
	return f.node.subtrees[f.idx]
}

// Walker is a stateful cursor over one MST: the substrate every read-side
// operation (iteration, range, lookup, proof, diff) is built on. It is not
// restartable; construct a fresh Walker to start over.
type Walker struct {
	ns    *NodeStore
	stack []*frame
}

// NewWalker constructs a Walker positioned at the root of the tree rooted
// at root, spanning the full key range.
func NewWalker(ctx context.Context, ns *NodeStore, root cid.Cid) (*Walker, error) {
	return newWalkerBounded(ctx, ns, root, negInfBound(), posInfBound())
}

func newWalkerBounded(ctx context.Context, ns *NodeStore, root cid.Cid, lpath, rpath pathBound) (*Walker, error) {
	n, err := ns.Get(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("mst: walker: load root: %w", err)
	}
	return &Walker{
		ns: ns,
		stack: []*frame{{
			node:  n,
			lpath: lpath,
			rpath: rpath,
			idx:   0,
		}},
	}, nil
}

func (w *Walker) top() *frame { return w.stack[len(w.stack)-1] }

// Lpath is the key bound immediately to the left of the cursor.
func (w *Walker) Lpath() pathBound { return w.top().curLpath() }

// Rpath is the key bound immediately to the right of the cursor.
func (w *Walker) Rpath() pathBound { return w.top().curRpath() }

// Lval is the value immediately to the left of the cursor, or cid.Undef at
// the left edge of a node.
func (w *Walker) Lval() cid.Cid { return w.top().curLval() }

// Rval is the value immediately to the right of the cursor, or cid.Undef at
// the right edge of a node.
func (w *Walker) Rval() cid.Cid { return w.top().curRval() }

// Subtree is the subtree CID at the cursor's current slot (possibly
// cid.Undef).
func (w *Walker) Subtree() cid.Cid { return w.top().curSubtree() }

// Node is the node the cursor currently sits in.
func (w *Walker) Node() *Node { return w.top().node }

// IsFinal reports whether the cursor has exhausted the whole tree: the
// stack is empty (shouldn't normally happen while a Walker is alive) or the
// cursor sits at a null subtree at the tree's own right boundary.
func (w *Walker) IsFinal() bool {
	if len(w.stack) == 0 {
		return true
	}
	f := w.top()
	return !f.curSubtree().Defined() && f.curRpath().compare(w.stack[0].rpath) == 0
}

// Down descends into the subtree at the cursor's current slot. It is a
// CursorMisuse to call Down when Subtree() is undefined.
func (w *Walker) Down(ctx context.Context) error {
	f := w.top()
	subtree := f.curSubtree()
	if !subtree.Defined() {
		return fmt.Errorf("%w: down() on a null subtree", errs.ErrCursorMisuse)
	}
	n, err := w.ns.Get(ctx, subtree)
	if err != nil {
		return fmt.Errorf("mst: walker: down: %w", err)
	}
	w.stack = append(w.stack, &frame{
		node:  n,
		lpath: f.curLpath(),
		rpath: f.curRpath(),
		idx:   0,
	})
	return nil
}

// Right advances to the next slot in the current node. It is a
// CursorMisuse to call Right when already at the node's rightmost slot;
// callers that want the "pop back out to the parent" behavior should call
// RightOrUp instead.
func (w *Walker) Right() error {
	f := w.top()
	if f.idx+1 >= len(f.node.subtrees) {
		return fmt.Errorf("%w: right() past the last slot", errs.ErrCursorMisuse)
	}
	f.idx++
	return nil
}

// RightOrUp advances the cursor, popping back up to the parent (and
// recursing upward) whenever it falls off the right edge of the current
// node. This is how the walker re-emerges after an empty or exhausted
// subtree.
func (w *Walker) RightOrUp() error {
	f := w.top()
	if f.idx+1 >= len(f.node.subtrees) {
		w.stack = w.stack[:len(w.stack)-1]
		if len(w.stack) == 0 {
			return nil
		}
		return w.RightOrUp()
	}
	f.idx++
	return nil
}

// SubtreeWalker returns a new Walker rooted at the cursor's current
// subtree, inheriting the cursor's current bounds. Used by Diff to recurse
// into a matched slot without disturbing the parent cursor.
func (w *Walker) SubtreeWalker(ctx context.Context) (*Walker, error) {
	f := w.top()
	return newWalkerBounded(ctx, w.ns, f.curSubtree(), f.curLpath(), f.curRpath())
}

// nextKV descends through every non-null subtree at the cursor, then steps
// right-or-up, returning the (key, value) pair just crossed.
func (w *Walker) nextKV(ctx context.Context) ([]byte, cid.Cid, error) {
	for w.top().curSubtree().Defined() {
		if err := w.Down(ctx); err != nil {
			return nil, cid.Undef, err
		}
	}
	if err := w.RightOrUp(); err != nil {
		return nil, cid.Undef, err
	}
	f := w.top()
	return f.curLpath().key, f.curLval(), nil
}

// KV is one key/value pair yielded by iteration.
type KV struct {
	Key   []byte
	Value cid.Cid
}

// IterKV yields every key/value pair reachable from the cursor's current
// position in ascending key order.
func (w *Walker) IterKV(ctx context.Context) ([]KV, error) {
	var out []KV
	for !w.IsFinal() {
		k, v, err := w.nextKV(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, KV{Key: k, Value: v})
	}
	return out, nil
}

// IterNodes yields every node visited by the walk, starting with the
// current node.
func (w *Walker) IterNodes(ctx context.Context) ([]*Node, error) {
	var out []*Node
	out = append(out, w.top().node)
	for !w.IsFinal() {
		for w.top().curSubtree().Defined() {
			if err := w.Down(ctx); err != nil {
				return nil, err
			}
			out = append(out, w.top().node)
		}
		if err := w.RightOrUp(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// IterNodeCIDs is IterNodes, projected down to CIDs.
func (w *Walker) IterNodeCIDs(ctx context.Context) ([]cid.Cid, error) {
	nodes, err := w.IterNodes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]cid.Cid, len(nodes))
	for i, n := range nodes {
		out[i] = n.CID()
	}
	return out, nil
}

// IterKVRange yields key/value pairs with start <= key < end (or <= end
// when endInclusive), matching the subset of IterKV in that range.
func (w *Walker) IterKVRange(ctx context.Context, start, end []byte, endInclusive bool) ([]KV, error) {
	for {
		for w.top().curRpath().compareKey(start) < 0 {
			if err := w.RightOrUp(); err != nil {
				return nil, err
			}
		}
		if !w.top().curSubtree().Defined() {
			break
		}
		if err := w.Down(ctx); err != nil {
			return nil, err
		}
	}

	var out []KV
	for !w.IsFinal() {
		k, v, err := w.nextKV(ctx)
		if err != nil {
			return nil, err
		}
		cmp := bytes.Compare(k, end)
		if cmp > 0 || (!endInclusive && cmp == 0) {
			break
		}
		out = append(out, KV{Key: k, Value: v})
	}
	return out, nil
}

// Find walks to key and returns its value, or (cid.Undef, false) if key is
// absent.
func (w *Walker) Find(ctx context.Context, key []byte) (cid.Cid, bool, error) {
	for {
		for w.top().curRpath().compareKey(key) < 0 {
			if err := w.RightOrUp(); err != nil {
				return cid.Undef, false, err
			}
		}
		if w.top().curRpath().compareKey(key) == 0 || !w.top().curSubtree().Defined() {
			break
		}
		if err := w.Down(ctx); err != nil {
			return cid.Undef, false, err
		}
	}
	if w.top().curRpath().compareKey(key) != 0 {
		return cid.Undef, false, nil
	}
	return w.top().curRval(), true, nil
}

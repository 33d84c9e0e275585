// Package mst implements the content-addressed Merkle Search Tree: an
// ordered key/value map whose shape is derived from key hashes rather than
// insertion order, so the same key set always converges to the same root
// CID regardless of how it was built.
package mst

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/bits"

	"github.com/gloudx/mstengine/blockstore"
	"github.com/gloudx/mstengine/errs"
	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

// Node is an immutable MST node: keys, aligned values, and the len(keys)+1
// subtrees interleaved between them (subtrees[i] holds everything strictly
// between keys[i-1] and keys[i]). A zero cid.Cid ("cid.Undef") in subtrees
// represents an absent (empty) subtree.
//
// Node instances are only ever produced by newNode/DeserializeNode, which
// validate structural invariants and memoize the serialized bytes, CID, and
// height once, at construction. Treat the returned slices as read-only.
type Node struct {
	keys     [][]byte
	values   []cid.Cid
	subtrees []cid.Cid

	raw    []byte
	cid    cid.Cid
	height int
}

var emptyNode *Node

func init() {
	n, err := newNode(nil, nil, []cid.Cid{cid.Undef})
	if err != nil {
		panic(fmt.Sprintf("mst: canonical empty node failed to construct: %v", err))
	}
	emptyNode = n
}

// EmptyNode returns the canonical empty node: no keys, a single null
// subtree, height 0. It has a concrete CID like any other node.
func EmptyNode() *Node {
	return emptyNode
}

// newNode validates §3's structural invariants, then derives and memoizes
// the serialized bytes, CID, and height. It does not check that every key
// shares one height or that subtree keys fall strictly between neighbors —
// those are algorithm-level invariants the Wrangler is responsible for
// upholding, not something a constructor can cheaply verify.
func newNode(keys [][]byte, values []cid.Cid, subtrees []cid.Cid) (*Node, error) {
	if len(subtrees) != len(keys)+1 {
		return nil, errors.New("mst: subtree count must equal key count + 1")
	}
	if len(values) != len(keys) {
		return nil, errors.New("mst: value count must equal key count")
	}
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i-1], keys[i]) >= 0 {
			return nil, errors.New("mst: keys must be strictly ascending")
		}
	}

	n := &Node{keys: keys, values: values, subtrees: subtrees}

	raw, err := n.serialize()
	if err != nil {
		return nil, fmt.Errorf("mst: serialize node: %w", err)
	}
	n.raw = raw

	c, err := blockstore.NewBlockCID(raw)
	if err != nil {
		return nil, err
	}
	n.cid = c

	h, err := n.computeHeight()
	if err != nil {
		return nil, err
	}
	n.height = h

	return n, nil
}

// computeHeight derives a node's height from its own keys (they must all
// share one height per §3 invariant 3), falling back to 0 for an empty node.
// A node with no keys and a non-null lone subtree (the placeholder levels
// the Wrangler builds when growing or descending) carries no key to derive
// a height from, so its height is recorded as -1.
func (n *Node) computeHeight() (int, error) {
	if len(n.keys) > 0 {
		return KeyHeight(n.keys[0]), nil
	}
	if !n.subtrees[0].Defined() {
		return 0, nil
	}
	return -1, nil
}

// CID is the node's content identifier: cid-v1(dag-cbor, sha2-256(serialize(n))).
func (n *Node) CID() cid.Cid { return n.cid }

// Height is this node's level in the tree; all of its keys share this height
// and everything below its subtrees is strictly lower. It is 0 for the empty
// node and -1 for a keyless node with a non-null subtree, whose level cannot
// be derived from the node alone.
func (n *Node) Height() int { return n.height }

// Serialized returns the node's canonical DAG-CBOR bytes. Callers must not
// mutate the returned slice.
func (n *Node) Serialized() []byte { return n.raw }

// Keys returns this node's keys in ascending order. Callers must not mutate
// the returned slice or its elements.
func (n *Node) Keys() [][]byte { return n.keys }

// Values returns this node's values, positionally aligned with Keys().
// Callers must not mutate the returned slice.
func (n *Node) Values() []cid.Cid { return n.values }

// Subtrees returns the len(Keys())+1 subtree CIDs interleaved between keys.
// An undefined (cid.Undef) entry means that slot's subtree is empty.
// Callers must not mutate the returned slice.
func (n *Node) Subtrees() []cid.Cid { return n.subtrees }

// IsEmpty reports whether this is the canonical empty node: no keys and a
// single null subtree.
func (n *Node) IsEmpty() bool {
	return len(n.keys) == 0 && !n.subtrees[0].Defined()
}

// ToOptionalCID returns the node's CID, or cid.Undef if it is empty — the
// form subtree slots are stored in, since an empty subtree is represented by
// absence rather than a pointer to the empty node's block.
func (n *Node) ToOptionalCID() cid.Cid {
	if n.IsEmpty() {
		return cid.Undef
	}
	return n.cid
}

// GTEIndex returns the index of the first key greater than or equal to key,
// or len(Keys()) if every key is smaller. Node fanout is small enough that a
// linear scan is preferable to the bookkeeping of a binary search.
func (n *Node) GTEIndex(key []byte) int {
	i := 0
	for i < len(n.keys) && bytes.Compare(key, n.keys[i]) > 0 {
		i++
	}
	return i
}

// KeyHeight computes the MST level a key belongs at: the number of leading
// zero bits of sha2-256(key), halved. Height depends only on the key bytes,
// never on tree contents, which is what makes tree shape order-independent.
func KeyHeight(key []byte) int {
	sum := sha256.Sum256(key)
	return leadingZeroBits(sum[:]) / 2
}

func leadingZeroBits(b []byte) int {
	n := 0
	for _, v := range b {
		if v == 0 {
			n += 8
			continue
		}
		return n + bits.LeadingZeros8(v)
	}
	return n
}

// serialize produces the canonical DAG-CBOR encoding of n: a two-entry map
// {l, e} where e is the entry list with maximal prefix compression against
// the previous key (§4.1). DAG-CBOR's canonical map-key ordering sorts keys
// by length then bytewise, so assembling in any order still yields the
// unique canonical byte form.
func (n *Node) serialize() ([]byte, error) {
	nb := basicnode.Prototype.Map.NewBuilder()
	ma, err := nb.BeginMap(2)
	if err != nil {
		return nil, err
	}

	if err := ma.AssembleKey().AssignString("l"); err != nil {
		return nil, err
	}
	if err := assignOptionalLink(ma.AssembleValue(), n.subtrees[0]); err != nil {
		return nil, err
	}

	if err := ma.AssembleKey().AssignString("e"); err != nil {
		return nil, err
	}
	la, err := ma.AssembleValue().BeginList(int64(len(n.keys)))
	if err != nil {
		return nil, err
	}
	prevKey := []byte{}
	for i, key := range n.keys {
		p := commonPrefixLen(prevKey, key)
		ea, err := la.AssembleValue().BeginMap(4)
		if err != nil {
			return nil, err
		}
		if err := ea.AssembleKey().AssignString("p"); err != nil {
			return nil, err
		}
		if err := ea.AssembleValue().AssignInt(int64(p)); err != nil {
			return nil, err
		}
		if err := ea.AssembleKey().AssignString("k"); err != nil {
			return nil, err
		}
		if err := ea.AssembleValue().AssignBytes(key[p:]); err != nil {
			return nil, err
		}
		if err := ea.AssembleKey().AssignString("v"); err != nil {
			return nil, err
		}
		if err := ea.AssembleValue().AssignLink(cidlink.Link{Cid: n.values[i]}); err != nil {
			return nil, err
		}
		if err := ea.AssembleKey().AssignString("t"); err != nil {
			return nil, err
		}
		if err := assignOptionalLink(ea.AssembleValue(), n.subtrees[i+1]); err != nil {
			return nil, err
		}
		if err := ea.Finish(); err != nil {
			return nil, err
		}
		prevKey = key
	}
	if err := la.Finish(); err != nil {
		return nil, err
	}
	if err := ma.Finish(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := dagcbor.Encode(nb.Build(), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func assignOptionalLink(na datamodel.NodeAssembler, c cid.Cid) error {
	if !c.Defined() {
		return na.AssignNull()
	}
	return na.AssignLink(cidlink.Link{Cid: c})
}

// DeserializeNode parses DAG-CBOR node bytes, enforcing every constraint in
// §4.1: exactly {e, l} at top level, exactly {k, p, t, v} per entry, shared
// prefixes no longer than the previous key, maximal prefix compression (no
// shorter-than-necessary p), and strictly ascending reconstructed keys.
// Any violation is reported as errs.ErrMalformedNode.
func DeserializeNode(data []byte) (*Node, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := dagcbor.Decode(nb, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", errs.ErrMalformedNode, err)
	}
	top := nb.Build()
	if top.Kind() != datamodel.Kind_Map || top.Length() != 2 {
		return nil, fmt.Errorf("%w: top level must be a map with exactly {e, l}", errs.ErrMalformedNode)
	}

	lNode, err := top.LookupByString("l")
	if err != nil {
		return nil, fmt.Errorf("%w: missing l: %v", errs.ErrMalformedNode, err)
	}
	left, err := decodeOptionalLink(lNode)
	if err != nil {
		return nil, err
	}

	eNode, err := top.LookupByString("e")
	if err != nil {
		return nil, fmt.Errorf("%w: missing e: %v", errs.ErrMalformedNode, err)
	}
	if eNode.Kind() != datamodel.Kind_List {
		return nil, fmt.Errorf("%w: e must be a list", errs.ErrMalformedNode)
	}

	subtrees := []cid.Cid{left}
	var keys [][]byte
	var values []cid.Cid
	prevKey := []byte{}

	it := eNode.ListIterator()
	for !it.Done() {
		_, entryNode, err := it.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: entry: %v", errs.ErrMalformedNode, err)
		}
		if entryNode.Kind() != datamodel.Kind_Map || entryNode.Length() != 4 {
			return nil, fmt.Errorf("%w: entry must be a map with exactly {k, p, t, v}", errs.ErrMalformedNode)
		}

		pNode, err := entryNode.LookupByString("p")
		if err != nil {
			return nil, fmt.Errorf("%w: entry missing p: %v", errs.ErrMalformedNode, err)
		}
		p, err := pNode.AsInt()
		if err != nil {
			return nil, fmt.Errorf("%w: entry p is not an int: %v", errs.ErrMalformedNode, err)
		}
		if p < 0 || p > int64(len(prevKey)) {
			return nil, fmt.Errorf("%w: entry p out of range", errs.ErrMalformedNode)
		}

		kNode, err := entryNode.LookupByString("k")
		if err != nil {
			return nil, fmt.Errorf("%w: entry missing k: %v", errs.ErrMalformedNode, err)
		}
		suffix, err := kNode.AsBytes()
		if err != nil {
			return nil, fmt.Errorf("%w: entry k is not bytes: %v", errs.ErrMalformedNode, err)
		}

		if int(p) < len(prevKey) && len(suffix) > 0 && prevKey[p] == suffix[0] {
			return nil, fmt.Errorf("%w: non-maximal key prefix", errs.ErrMalformedNode)
		}
		thisKey := append(append([]byte{}, prevKey[:p]...), suffix...)
		if bytes.Compare(thisKey, prevKey) <= 0 {
			return nil, fmt.Errorf("%w: keys not strictly ascending", errs.ErrMalformedNode)
		}

		vNode, err := entryNode.LookupByString("v")
		if err != nil {
			return nil, fmt.Errorf("%w: entry missing v: %v", errs.ErrMalformedNode, err)
		}
		vCid, err := decodeLink(vNode)
		if err != nil {
			return nil, err
		}

		tNode, err := entryNode.LookupByString("t")
		if err != nil {
			return nil, fmt.Errorf("%w: entry missing t: %v", errs.ErrMalformedNode, err)
		}
		tCid, err := decodeOptionalLink(tNode)
		if err != nil {
			return nil, err
		}

		keys = append(keys, thisKey)
		values = append(values, vCid)
		subtrees = append(subtrees, tCid)
		prevKey = thisKey
	}

	node, err := newNode(keys, values, subtrees)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedNode, err)
	}
	// The input was already canonical (we just validated every constraint
	// that makes it so); reuse it instead of re-encoding.
	node.raw = append([]byte{}, data...)
	c, err := blockstore.NewBlockCID(node.raw)
	if err != nil {
		return nil, err
	}
	node.cid = c
	return node, nil
}

func decodeLink(n datamodel.Node) (cid.Cid, error) {
	lnk, err := n.AsLink()
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: expected a link: %v", errs.ErrMalformedNode, err)
	}
	cl, ok := lnk.(cidlink.Link)
	if !ok {
		return cid.Undef, fmt.Errorf("%w: link is not a cid", errs.ErrMalformedNode)
	}
	return cl.Cid, nil
}

func decodeOptionalLink(n datamodel.Node) (cid.Cid, error) {
	if n.Kind() == datamodel.Kind_Null {
		return cid.Undef, nil
	}
	return decodeLink(n)
}

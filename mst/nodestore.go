package mst

import (
	"context"
	"fmt"

	"github.com/gloudx/mstengine/blockstore"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
)

// defaultCacheSize is large enough to hold a full root-to-leaf spine of
// typical put/delete traffic without forcing every recursive step back out
// to the BlockStore.
const defaultCacheSize = 1024

// NodeStore bridges a blockstore.Store to Node values: it (de)serializes on
// the way in and out, and caches CID->Node so a hot spine of nodes doesn't
// round-trip through the store and its hash verification on every access.
// The cache is a pure performance optimization — an eviction never changes
// what Get returns, only how it gets there.
type NodeStore struct {
	bs    blockstore.Store
	cache *lru.Cache[cid.Cid, *Node]
}

// NewNodeStore wraps bs with an LRU cache of the recommended size.
func NewNodeStore(bs blockstore.Store) *NodeStore {
	return NewNodeStoreSize(bs, defaultCacheSize)
}

// NewNodeStoreSize wraps bs with an LRU cache holding up to size entries.
func NewNodeStoreSize(bs blockstore.Store, size int) *NodeStore {
	cache, err := lru.New[cid.Cid, *Node](size)
	if err != nil {
		// only returns an error for size <= 0, which is a caller bug.
		panic(fmt.Sprintf("mst: invalid node cache size %d: %v", size, err))
	}
	return &NodeStore{bs: bs, cache: cache}
}

// Get loads the node for c. A zero (undefined) cid is normalized to the
// canonical empty node, which is written through to the underlying store
// exactly as Put would, so a caller reading the empty root's bytes
// directly from the backing Store (bypassing this cache) still finds it.
func (s *NodeStore) Get(ctx context.Context, c cid.Cid) (*Node, error) {
	if !c.Defined() {
		return s.Put(ctx, EmptyNode())
	}
	if n, ok := s.cache.Get(c); ok {
		return n, nil
	}
	data, err := s.bs.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	n, err := DeserializeNode(data)
	if err != nil {
		return nil, err
	}
	s.cache.Add(c, n)
	return n, nil
}

// Put stores n's serialized bytes (idempotent if already present) and
// primes the cache, returning n for convenient chaining.
func (s *NodeStore) Put(ctx context.Context, n *Node) (*Node, error) {
	if err := s.bs.Put(ctx, n.CID(), n.Serialized()); err != nil {
		return nil, err
	}
	s.cache.Add(n.CID(), n)
	return n, nil
}

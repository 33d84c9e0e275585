package mst

import (
	"context"
	"sort"
	"testing"

	"github.com/gloudx/mstengine/blockstore"
	"github.com/gloudx/mstengine/errs"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyRootCID() cid.Cid { return cid.Undef }

func buildWalkTree(ctx context.Context, t *testing.T, ns *NodeStore, keys []string) cid.Cid {
	t.Helper()
	w := NewWrangler(ns)
	root := emptyRootCID()
	var err error
	for _, k := range keys {
		root, err = w.Put(ctx, root, []byte(k), valueFor(t, k))
		require.NoError(t, err)
	}
	return root
}

func TestWalkerIterKVIsSortedAscending(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())

	keys := []string{"zebra", "apple", "mango", "banana", "cherry", "kiwi"}
	root := buildWalkTree(ctx, t, ns, keys)

	walker, err := NewWalker(ctx, ns, root)
	require.NoError(t, err)
	kvs, err := walker.IterKV(ctx)
	require.NoError(t, err)

	require.Len(t, kvs, len(keys))
	got := make([]string, len(kvs))
	for i, kv := range kvs {
		got[i] = string(kv.Key)
	}
	want := append([]string{}, keys...)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestWalkerIterKVOnEmptyTree(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())

	walker, err := NewWalker(ctx, ns, emptyRootCID())
	require.NoError(t, err)
	kvs, err := walker.IterKV(ctx)
	require.NoError(t, err)
	assert.Empty(t, kvs)
}

func TestWalkerIterNodesVisitsEveryNode(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())

	keys := make([]string, 50)
	for i := range keys {
		keys[i] = string(rune('a'+i%26)) + string(rune('0'+i%10))
	}
	root := buildWalkTree(ctx, t, ns, keys)

	walker, err := NewWalker(ctx, ns, root)
	require.NoError(t, err)
	cids, err := walker.IterNodeCIDs(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, cids)

	seen := map[cid.Cid]bool{}
	for _, c := range cids {
		seen[c] = true
	}
	assert.True(t, seen[root], "the walk must visit the root node itself")

	total := 0
	for _, c := range cids {
		n, err := ns.Get(ctx, c)
		require.NoError(t, err)
		total += len(n.Keys())
	}
	assert.Equal(t, len(keys), total, "the visited nodes must hold every key exactly once")
}

func TestWalkerFindPresentAndAbsent(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	root := buildWalkTree(ctx, t, ns, keys)

	for _, k := range keys {
		walker, err := NewWalker(ctx, ns, root)
		require.NoError(t, err)
		v, ok, err := walker.Find(ctx, []byte(k))
		require.NoError(t, err)
		require.True(t, ok, "key %q should be found", k)
		assert.Equal(t, valueFor(t, k), v)
	}

	walker, err := NewWalker(ctx, ns, root)
	require.NoError(t, err)
	_, ok, err := walker.Find(ctx, []byte("not-present"))
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestWalkerIterKVRangeMatchesFullIterSubset checks that a range query
// returns exactly the subset of the full iteration order that falls
// within [start, end) (or [start, end] when inclusive).
func TestWalkerIterKVRangeMatchesFullIterSubset(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())

	keys := []string{"a1", "a2", "a3", "b1", "b2", "c1", "d1", "d2", "e1"}
	root := buildWalkTree(ctx, t, ns, keys)

	fullWalker, err := NewWalker(ctx, ns, root)
	require.NoError(t, err)
	full, err := fullWalker.IterKV(ctx)
	require.NoError(t, err)

	start, end := []byte("a3"), []byte("d1")

	var wantExclusive []string
	var wantInclusive []string
	for _, kv := range full {
		k := kv.Key
		if string(k) >= string(start) && string(k) < string(end) {
			wantExclusive = append(wantExclusive, string(k))
		}
		if string(k) >= string(start) && string(k) <= string(end) {
			wantInclusive = append(wantInclusive, string(k))
		}
	}

	rw, err := NewWalker(ctx, ns, root)
	require.NoError(t, err)
	gotExclusive, err := rw.IterKVRange(ctx, start, end, false)
	require.NoError(t, err)
	gotExclusiveKeys := make([]string, len(gotExclusive))
	for i, kv := range gotExclusive {
		gotExclusiveKeys[i] = string(kv.Key)
	}
	assert.Equal(t, wantExclusive, gotExclusiveKeys)

	rw2, err := NewWalker(ctx, ns, root)
	require.NoError(t, err)
	gotInclusive, err := rw2.IterKVRange(ctx, start, end, true)
	require.NoError(t, err)
	gotInclusiveKeys := make([]string, len(gotInclusive))
	for i, kv := range gotInclusive {
		gotInclusiveKeys[i] = string(kv.Key)
	}
	assert.Equal(t, wantInclusive, gotInclusiveKeys)
}

func TestWalkerDownOnNullSubtreeIsCursorMisuse(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())
	root := buildWalkTree(ctx, t, ns, []string{"only-key"})

	walker, err := NewWalker(ctx, ns, root)
	require.NoError(t, err)
	err = walker.Down(ctx)
	assert.ErrorIs(t, err, errs.ErrCursorMisuse)
}

func TestWalkerIsFinalAtEndOfIteration(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())
	root := buildWalkTree(ctx, t, ns, []string{"a", "b", "c"})

	walker, err := NewWalker(ctx, ns, root)
	require.NoError(t, err)
	assert.False(t, walker.IsFinal())

	_, err = walker.IterKV(ctx)
	require.NoError(t, err)
	assert.True(t, walker.IsFinal())
}

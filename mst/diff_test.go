package mst

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/gloudx/mstengine/blockstore"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cidSetKeys(s cidSet) []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out
}

// assertDiffMatchesSlow checks that Diff agrees with the exhaustive
// SlowDiff reference for any pair of roots.
func assertDiffMatchesSlow(t *testing.T, ctx context.Context, ns *NodeStore, a, b cid.Cid) *DiffResult {
	t.Helper()
	fast, err := Diff(ctx, ns, a, b)
	require.NoError(t, err)
	slow, err := SlowDiff(ctx, ns, a, b)
	require.NoError(t, err)
	assert.Equal(t, cidSetKeys(slow.Created), cidSetKeys(fast.Created), "created sets diverge")
	assert.Equal(t, cidSetKeys(slow.Deleted), cidSetKeys(fast.Deleted), "deleted sets diverge")
	return fast
}

func TestDiffIdenticalRootsIsEmpty(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())
	root := buildWalkTree(ctx, t, ns, []string{"a", "b", "c"})

	result := assertDiffMatchesSlow(t, ctx, ns, root, root)
	assert.Empty(t, result.Created)
	assert.Empty(t, result.Deleted)
}

func TestDiffEmptyToPopulated(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())
	root := buildWalkTree(ctx, t, ns, []string{"a", "b", "c", "d"})

	result := assertDiffMatchesSlow(t, ctx, ns, emptyRootCID(), root)
	assert.NotEmpty(t, result.Created)
	// The empty root is a concrete node of A, so it is the only deletion.
	assert.Equal(t, []string{EmptyNode().CID().String()}, cidSetKeys(result.Deleted))
}

func TestDiffPopulatedToEmpty(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())
	root := buildWalkTree(ctx, t, ns, []string{"a", "b", "c", "d"})

	result := assertDiffMatchesSlow(t, ctx, ns, root, emptyRootCID())
	// The empty root is a concrete node of B, so it is the only creation.
	assert.Equal(t, []string{EmptyNode().CID().String()}, cidSetKeys(result.Created))
	assert.NotEmpty(t, result.Deleted)
}

func TestDiffSingleInsertion(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())
	w := NewWrangler(ns)

	base := buildWalkTree(ctx, t, ns, []string{"a", "b", "c", "d", "e", "f", "g", "h"})
	after, err := w.Put(ctx, base, []byte("zz-new"), valueFor(t, "zz-new"))
	require.NoError(t, err)

	assertDiffMatchesSlow(t, ctx, ns, base, after)
}

func TestDiffSingleDeletion(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())
	w := NewWrangler(ns)

	base := buildWalkTree(ctx, t, ns, []string{"a", "b", "c", "d", "e", "f", "g", "h"})
	after, err := w.Delete(ctx, base, []byte("d"))
	require.NoError(t, err)

	assertDiffMatchesSlow(t, ctx, ns, base, after)
}

func TestDiffManyChanges(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())
	w := NewWrangler(ns)

	initial := make([]string, 60)
	for i := range initial {
		initial[i] = string(rune('a'+i%26)) + string(rune('A'+(i*7)%26)) + string(rune('0'+i%10))
	}
	base := buildWalkTree(ctx, t, ns, initial)

	after := base
	var err error
	for i := 0; i < 10; i++ {
		after, err = w.Delete(ctx, after, []byte(initial[i]))
		require.NoError(t, err)
	}
	for i := 0; i < 15; i++ {
		k := "new-" + string(rune('a'+i))
		after, err = w.Put(ctx, after, []byte(k), valueFor(t, k))
		require.NoError(t, err)
	}

	assertDiffMatchesSlow(t, ctx, ns, base, after)
}

// TestRecordDiffClassifiesChanges checks that created, updated, and
// deleted keys are classified correctly.
func TestRecordDiffClassifiesChanges(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())
	w := NewWrangler(ns)

	base := buildWalkTree(ctx, t, ns, []string{"keep", "update-me", "delete-me"})

	after, err := w.Put(ctx, base, []byte("update-me"), valueFor(t, "update-me-v2"))
	require.NoError(t, err)
	after, err = w.Delete(ctx, after, []byte("delete-me"))
	require.NoError(t, err)
	after, err = w.Put(ctx, after, []byte("create-me"), valueFor(t, "create-me"))
	require.NoError(t, err)

	diff, err := Diff(ctx, ns, base, after)
	require.NoError(t, err)
	changes, err := RecordDiff(ctx, ns, diff)
	require.NoError(t, err)

	byKey := map[string]RecordChange{}
	for _, c := range changes {
		byKey[string(c.Key)] = c
	}

	require.Contains(t, byKey, "update-me")
	assert.Equal(t, RecordUpdated, byKey["update-me"].Kind)
	assert.Equal(t, valueFor(t, "update-me"), byKey["update-me"].Prior)
	assert.Equal(t, valueFor(t, "update-me-v2"), byKey["update-me"].Later)

	require.Contains(t, byKey, "delete-me")
	assert.Equal(t, RecordDeleted, byKey["delete-me"].Kind)
	assert.Equal(t, valueFor(t, "delete-me"), byKey["delete-me"].Prior)

	require.Contains(t, byKey, "create-me")
	assert.Equal(t, RecordCreated, byKey["create-me"].Kind)
	assert.Equal(t, valueFor(t, "create-me"), byKey["create-me"].Later)

	assert.NotContains(t, byKey, "keep")
}

// Deleting one key and inserting another from a large populated tree must
// produce a structural diff matching the exhaustive reference, and a
// record diff containing exactly one deletion and one creation.
func TestDiffAndRecordDiffAfterDeleteAndInsert(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())
	w := NewWrangler(ns)

	keys := make([]string, 1000)
	for i := range keys {
		keys[i] = fmt.Sprintf("%d", i)
	}
	root := buildWalkTree(ctx, t, ns, keys)

	after, err := w.Delete(ctx, root, []byte("500"))
	require.NoError(t, err)
	after, err = w.Put(ctx, after, []byte("xyz"), valueFor(t, "xyz"))
	require.NoError(t, err)

	diff := assertDiffMatchesSlow(t, ctx, ns, root, after)
	changes, err := RecordDiff(ctx, ns, diff)
	require.NoError(t, err)

	var deletedKeys, createdKeys []string
	for _, ch := range changes {
		switch ch.Kind {
		case RecordDeleted:
			deletedKeys = append(deletedKeys, string(ch.Key))
		case RecordCreated:
			createdKeys = append(createdKeys, string(ch.Key))
		default:
			t.Fatalf("unexpected change kind %v for key %q", ch.Kind, ch.Key)
		}
	}
	assert.Equal(t, []string{"500"}, deletedKeys)
	assert.Equal(t, []string{"xyz"}, createdKeys)
}

// TestDiffIsAntisymmetric checks that Diff(a, b) is the created/deleted
// swap of Diff(b, a).
func TestDiffIsAntisymmetric(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())
	w := NewWrangler(ns)

	a := buildWalkTree(ctx, t, ns, []string{"a", "b", "c", "d", "e"})
	b, err := w.Put(ctx, a, []byte("f"), valueFor(t, "f"))
	require.NoError(t, err)
	b, err = w.Delete(ctx, b, []byte("b"))
	require.NoError(t, err)

	ab, err := Diff(ctx, ns, a, b)
	require.NoError(t, err)
	ba, err := Diff(ctx, ns, b, a)
	require.NoError(t, err)

	assert.Equal(t, cidSetKeys(ab.Created), cidSetKeys(ba.Deleted))
	assert.Equal(t, cidSetKeys(ab.Deleted), cidSetKeys(ba.Created))
}

func TestRecordDiffEmptyWhenNoChanges(t *testing.T) {
	ctx := context.Background()
	ns := NewNodeStore(blockstore.NewMemory())
	root := buildWalkTree(ctx, t, ns, []string{"a", "b", "c"})

	diff, err := Diff(ctx, ns, root, root)
	require.NoError(t, err)
	changes, err := RecordDiff(ctx, ns, diff)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

package blockstore

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCID(t *testing.T, data []byte) cid.Cid {
	t.Helper()
	c, err := NewBlockCID(data)
	require.NoError(t, err)
	return c
}

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	data := []byte("hello")
	c := mustCID(t, data)

	_, err := m.Get(ctx, c)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, c, data))

	got, err := m.Get(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	has, err := m.Has(ctx, c)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestMemoryPutIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	data := []byte("hello")
	c := mustCID(t, data)

	require.NoError(t, m.Put(ctx, c, data))
	require.NoError(t, m.Put(ctx, c, data))
	assert.Equal(t, 1, m.Len())
}

func TestMemoryPutConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	data := []byte("hello")
	c := mustCID(t, data)

	require.NoError(t, m.Put(ctx, c, data))
	err := m.Put(ctx, c, []byte("different bytes under the same key"))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	data := []byte("hello")
	c := mustCID(t, data)

	require.NoError(t, m.Put(ctx, c, data))
	require.NoError(t, m.Delete(ctx, c))
	_, err := m.Get(ctx, c)
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting again is a nop
	require.NoError(t, m.Delete(ctx, c))
}
